package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JackieWYB/majiang-sub001/internal/config"
	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/game"
	"github.com/JackieWYB/majiang-sub001/internal/jwts"
	"github.com/JackieWYB/majiang-sub001/internal/store"
)

const testSecret = "test-secret"

// fakeKV minimal KV double for the session keys.
type fakeKV struct {
	mu      sync.Mutex
	strings map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{strings: make(map[string]string)}
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx)
	switch v := value.(type) {
	case []byte:
		f.strings[key] = string(v)
	case string:
		f.strings[key] = v
	}
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeKV) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	v, ok := f.strings[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeKV) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(0)
	return cmd
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	for _, k := range keys {
		delete(f.strings, k)
	}
	cmd.SetVal(int64(len(keys)))
	return cmd
}

func (f *fakeKV) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeKV) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(0)
	return cmd
}

func (f *fakeKV) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(0)
	return cmd
}

func (f *fakeKV) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	return cmd
}

// fakeRouter records events submitted to rooms.
type fakeRouter struct {
	mu     sync.Mutex
	events []game.GameEvent
}

func (r *fakeRouter) SubmitToRoom(roomID string, ev game.GameEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *fakeRouter) SnapshotFor(roomID, userID string) (*game.GameSnapshot, error) {
	return &game.GameSnapshot{RoomID: roomID, SelfSeat: 0}, nil
}

func (r *fakeRouter) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.GetEventType())
	}
	return out
}

type fakeRooms struct {
	rooms map[string]string // userID -> roomID
}

func (f *fakeRooms) PlayerRoomID(userID string) (string, bool) {
	id, ok := f.rooms[userID]
	return id, ok
}

func testManager(t *testing.T) (*Manager, *fakeRouter, *game.ManualClock) {
	t.Helper()
	kv := newFakeKV()
	st := store.NewStateStore(kv, config.StoreConf{WriteBudgetMs: 100, TtlHours: 24})
	router := &fakeRouter{}
	rooms := &fakeRooms{rooms: map[string]string{"u1": "100001"}}
	clock := game.NewManualClock(time.Unix(1700000000, 0))
	mgr := NewManager(st, router, rooms, config.SessionConf{
		GracePeriodSeconds:      1,
		MaxDisconnectionMinutes: 5,
	}, testSecret, clock)
	return mgr, router, clock
}

func TestDisconnectStartsGraceTimer(t *testing.T) {
	mgr, router, clock := testManager(t)

	info, err := mgr.Connect("u1")
	require.NoError(t, err)
	require.Equal(t, "100001", info.RoomID)

	mgr.Disconnect(info.SessionID)
	require.Equal(t, []string{"Disconnect"}, router.eventTypes())

	// Grace period elapses: the engine is told to flip the player to trustee.
	clock.Advance(time.Second)
	require.Equal(t, []string{"Disconnect", "GraceExpired"}, router.eventTypes())

	// Hard ceiling much later.
	clock.Advance(5 * time.Minute)
	require.Equal(t, []string{"Disconnect", "GraceExpired", "HardExpired"}, router.eventTypes())
}

func TestReconnectWithinGrace(t *testing.T) {
	mgr, router, clock := testManager(t)

	info, err := mgr.Connect("u1")
	require.NoError(t, err)
	mgr.Disconnect(info.SessionID)

	token, err := jwts.GetToken("u1", testSecret, time.Hour)
	require.NoError(t, err)

	result, err := mgr.Reconnect(token)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "100001", result.RoomID)
	require.NotNil(t, result.Snapshot)

	// Grace timer was cancelled: no trustee escalation fires.
	clock.Advance(time.Minute)
	require.Equal(t, []string{"Disconnect", "Reconnect"}, router.eventTypes())
}

// Repeated reconnects with the same token behave like a single one.
func TestReconnectIdempotent(t *testing.T) {
	mgr, _, _ := testManager(t)

	info, _ := mgr.Connect("u1")
	mgr.Disconnect(info.SessionID)

	token, _ := jwts.GetToken("u1", testSecret, time.Hour)
	first, err := mgr.Reconnect(token)
	require.NoError(t, err)
	second, err := mgr.Reconnect(token)
	require.NoError(t, err)
	require.Equal(t, first.RoomID, second.RoomID)
	require.True(t, second.Success)
}

func TestReconnectInvalidToken(t *testing.T) {
	mgr, _, _ := testManager(t)
	_, err := mgr.Reconnect("garbage")
	require.ErrorIs(t, err, dto.ErrInvalidToken)
}

func TestReconnectNoRecord(t *testing.T) {
	mgr, _, _ := testManager(t)
	// u2 never joined a room nor disconnected.
	token, _ := jwts.GetToken("u2", testSecret, time.Hour)
	_, err := mgr.Reconnect(token)
	require.ErrorIs(t, err, dto.ErrNoDisconnectRecord)
}
