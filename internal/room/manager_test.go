package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
)

func TestCreateRoom(t *testing.T) {
	m := NewManager(nil, 3)

	r, err := m.CreateRoom("owner", "rule-1")
	require.NoError(t, err)
	require.Len(t, r.ID, 6)
	require.Equal(t, "owner", r.OwnerID)
	require.Equal(t, StatusWaiting, r.Status)
	require.Equal(t, 1, r.PlayerCount())
	require.Equal(t, 0, r.SeatOf("owner"))

	_, err = m.CreateRoom("", "rule-1")
	require.ErrorIs(t, err, dto.ErrOwnerNotFound)
}

func TestCreateWhileInRoom(t *testing.T) {
	m := NewManager(nil, 2)

	r1, err := m.CreateRoom("owner", "rule-1")
	require.NoError(t, err)
	// The owner sits in r1, so a second create is blocked by room membership.
	_, err = m.CreateRoom("owner", "rule-1")
	require.ErrorIs(t, err, dto.ErrUserInOtherRoom)

	// Leave the room (dissolves it) and create again.
	_, err = m.LeaveRoom(r1.ID, "owner")
	require.NoError(t, err)
	_, err = m.CreateRoom("owner", "rule-1")
	require.NoError(t, err)
}

func TestJoinRoom(t *testing.T) {
	m := NewManager(nil, 3)
	r, _ := m.CreateRoom("u1", "rule-1")

	_, err := m.JoinRoom(r.ID, "u2")
	require.NoError(t, err)
	_, err = m.JoinRoom(r.ID, "u3")
	require.NoError(t, err)
	require.Equal(t, 1, r.SeatOf("u2"))
	require.Equal(t, 2, r.SeatOf("u3"))

	_, err = m.JoinRoom(r.ID, "u2")
	require.ErrorIs(t, err, dto.ErrUserAlreadyInRoom)
	_, err = m.JoinRoom(r.ID, "u4")
	require.ErrorIs(t, err, dto.ErrRoomFull)
	_, err = m.JoinRoom("999999", "u5")
	require.ErrorIs(t, err, dto.ErrRoomNotFound)

	other, _ := m.CreateRoom("u9", "rule-1")
	_, err = m.JoinRoom(other.ID, "u2")
	require.ErrorIs(t, err, dto.ErrUserInOtherRoom)
}

func TestJoinTakesLowestFreeSeat(t *testing.T) {
	m := NewManager(nil, 3)
	r, _ := m.CreateRoom("u1", "rule-1")
	_, _ = m.JoinRoom(r.ID, "u2")
	_, _ = m.JoinRoom(r.ID, "u3")

	// Seat 1 frees up and the next joiner takes it.
	_, err := m.LeaveRoom(r.ID, "u2")
	require.NoError(t, err)
	_, err = m.JoinRoom(r.ID, "u4")
	require.NoError(t, err)
	require.Equal(t, 1, r.SeatOf("u4"))
}

func TestOwnerTransferAndDissolve(t *testing.T) {
	m := NewManager(nil, 3)
	r, _ := m.CreateRoom("u1", "rule-1")
	_, _ = m.JoinRoom(r.ID, "u2")
	_, _ = m.JoinRoom(r.ID, "u3")

	// Owner leaves: ownership moves to the lowest remaining seat.
	_, err := m.LeaveRoom(r.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, "u2", r.OwnerID)

	// Everyone gone: the room dissolves.
	_, _ = m.LeaveRoom(r.ID, "u2")
	res, err := m.LeaveRoom(r.ID, "u3")
	require.NoError(t, err)
	require.Equal(t, StatusDissolved, res.Status)
	_, ok := m.GetRoom(r.ID)
	require.False(t, ok)
}

func TestReadyTransitions(t *testing.T) {
	m := NewManager(nil, 3)
	r, _ := m.CreateRoom("u1", "rule-1")
	_, _ = m.JoinRoom(r.ID, "u2")
	_, _ = m.JoinRoom(r.ID, "u3")

	_, err := m.Ready(r.ID, "u1", true)
	require.NoError(t, err)
	_, err = m.Ready(r.ID, "u2", true)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, r.Status)

	_, err = m.Ready(r.ID, "u3", true)
	require.NoError(t, err)
	require.Equal(t, StatusReady, r.Status)

	// Un-ready drops the room back to WAITING.
	_, err = m.Ready(r.ID, "u2", false)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, r.Status)

	_, err = m.Ready(r.ID, "stranger", true)
	require.ErrorIs(t, err, dto.ErrAccessDenied)
}

func TestDissolvePermissions(t *testing.T) {
	m := NewManager(nil, 3)
	r, _ := m.CreateRoom("u1", "rule-1")
	_, _ = m.JoinRoom(r.ID, "u2")

	require.ErrorIs(t, m.DissolveRoom(r.ID, "u2"), dto.ErrAccessDenied)
	require.NoError(t, m.DissolveRoom(r.ID, "u1"))
	require.ErrorIs(t, m.DissolveRoom(r.ID, "u1"), dto.ErrRoomNotFound)

	// Players are free to join elsewhere after dissolution.
	r2, err := m.CreateRoom("u2", "rule-1")
	require.NoError(t, err)
	require.NotNil(t, r2)
}

func TestSweepInactive(t *testing.T) {
	m := NewManager(nil, 3)
	now := time.Unix(1700000000, 0)
	m.SetNow(func() time.Time { return now })

	r, _ := m.CreateRoom("u1", "rule-1")
	fresh, _ := m.CreateRoom("u2", "rule-1")

	now = now.Add(31 * time.Minute)
	fresh.Touch(now)

	swept := m.SweepInactive(30 * time.Minute)
	require.Equal(t, []string{r.ID}, swept)
	_, ok := m.GetRoom(r.ID)
	require.False(t, ok)
	_, ok = m.GetRoom(fresh.ID)
	require.True(t, ok)
}
