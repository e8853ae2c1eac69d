package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JackieWYB/majiang-sub001/internal/config"
	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/game"
)

// fakeKV in-memory KV double; failures counts down forced errors.
type fakeKV struct {
	mu       sync.Mutex
	strings  map[string]string
	sets     map[string]map[string]struct{}
	failures int
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (f *fakeKV) failing() error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx)
	if err := f.failing(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
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
	if err := f.failing(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	v, ok := f.strings[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeKV) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if err := f.failing(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if err := f.failing(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			delete(f.strings, k)
			n++
		}
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeKV) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if err := f.failing(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	cmd.SetVal(true)
	return cmd
}

func (f *fakeKV) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if err := f.failing(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]struct{})
	}
	for _, m := range members {
		f.sets[key][m.(string)] = struct{}{}
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeKV) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if err := f.failing(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	for _, m := range members {
		delete(f.sets[key], m.(string))
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeKV) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringSliceCmd(ctx)
	if err := f.failing(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	cmd.SetVal(out)
	return cmd
}

func testStore(t *testing.T) (*StateStore, *fakeKV) {
	t.Helper()
	kv := newFakeKV()
	s := NewStateStore(kv, config.StoreConf{WriteBudgetMs: 100, TtlHours: 24})
	return s, kv
}

func waitingState(roomID string) *game.GameState {
	return game.NewGameState(roomID, "g1", 42, game.DefaultRuleConfig())
}

func TestSaveLoadState(t *testing.T) {
	s, _ := testStore(t)

	state := waitingState("100001")
	require.NoError(t, s.SaveState(state))

	loaded, err := s.LoadState("100001")
	require.NoError(t, err)
	require.Equal(t, state.RoomID, loaded.RoomID)
	require.Equal(t, state.Seed, loaded.Seed)
	require.Equal(t, game.GameStateSchemaVersion, loaded.SchemaVersion)

	ok, err := s.ExistsState("100001")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.DeleteState("100001"))
	_, err = s.LoadState("100001")
	require.ErrorIs(t, err, dto.ErrRoomGone)
}

func TestLoadStateMissingIsRoomGone(t *testing.T) {
	s, _ := testStore(t)
	_, err := s.LoadState("424242")
	require.ErrorIs(t, err, dto.ErrRoomGone)
}

func TestSaveStateRetriesTransientErrors(t *testing.T) {
	s, kv := testStore(t)

	// Two transient failures are absorbed by the bounded retry.
	kv.mu.Lock()
	kv.failures = 2
	kv.mu.Unlock()
	require.NoError(t, s.SaveState(waitingState("100002")))

	// Persistent failure surfaces as TRANSIENT_STORE_ERROR.
	kv.mu.Lock()
	kv.failures = 10
	kv.mu.Unlock()
	err := s.SaveState(waitingState("100003"))
	require.ErrorIs(t, err, dto.ErrTransientStore)
}

func TestSessionRoundTrip(t *testing.T) {
	s, _ := testStore(t)

	info := &SessionInfo{
		SessionID:   "sess-1",
		UserID:      "u1",
		RoomID:      "100001",
		ConnectedAt: time.Unix(1700000000, 0),
		HeartbeatAt: time.Unix(1700000000, 0),
	}
	require.NoError(t, s.SaveSession(info))

	got, err := s.GetSessionInfo("sess-1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)

	sid, err := s.GetSessionByUser("u1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", sid)

	require.NoError(t, s.UpdateHeartbeat("sess-1"))
	got, err = s.GetSessionInfo("sess-1")
	require.NoError(t, err)
	require.True(t, got.HeartbeatAt.After(info.HeartbeatAt))

	require.NoError(t, s.RemoveSession("u1", "sess-1"))
	_, err = s.GetSessionInfo("sess-1")
	require.ErrorIs(t, err, dto.ErrSessionNotFound)
	_, err = s.GetSessionByUser("u1")
	require.ErrorIs(t, err, dto.ErrSessionNotFound)
}

// A stale disconnect must not clobber the user's newer session binding.
func TestRemoveSessionKeepsNewerBinding(t *testing.T) {
	s, _ := testStore(t)

	old := &SessionInfo{SessionID: "sess-old", UserID: "u1"}
	require.NoError(t, s.SaveSession(old))
	fresh := &SessionInfo{SessionID: "sess-new", UserID: "u1"}
	require.NoError(t, s.SaveSession(fresh))

	require.NoError(t, s.RemoveSession("u1", "sess-old"))
	sid, err := s.GetSessionByUser("u1")
	require.NoError(t, err)
	require.Equal(t, "sess-new", sid)
}

func TestRoomMembers(t *testing.T) {
	s, _ := testStore(t)

	require.NoError(t, s.AddRoomMember("100001", "u1"))
	require.NoError(t, s.AddRoomMember("100001", "u2"))
	members, err := s.RoomMembers("100001")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, members)

	require.NoError(t, s.RemoveRoomMember("100001", "u1"))
	members, _ = s.RoomMembers("100001")
	require.Equal(t, []string{"u2"}, members)

	require.NoError(t, s.ClearRoomMembers("100001"))
	members, _ = s.RoomMembers("100001")
	require.Empty(t, members)
}
