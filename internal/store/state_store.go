package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JackieWYB/majiang-sub001/internal/cache"
	"github.com/JackieWYB/majiang-sub001/internal/config"
	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/game"
	"github.com/JackieWYB/majiang-sub001/internal/log"
)

// 键格式
const (
	keyGameState   = "game:state:%s"   // roomID
	keySessionUser = "session:user:%s" // userID -> sessionID
	keySessionInfo = "session:info:%s" // sessionID -> SessionInfo
	keyRoomPlayers = "room:players:%s" // roomID -> set(userID)
)

const (
	maxRetries   = 3
	retryBackoff = 10 * time.Millisecond
)

// KV 状态存储的最小命令面，测试可替换为内存实现
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// SessionInfo 会话信息
type SessionInfo struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	RoomID      string    `json:"roomId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	HeartbeatAt time.Time `json:"heartbeatAt"`
}

// StateStore 权威状态存储
// redis 持有权威数据；本地 ristretto 只是软副本，未命中回源一次
type StateStore struct {
	kv          KV
	local       *cache.GeneralCache
	ttl         time.Duration
	writeBudget time.Duration
}

// NewStateStore 创建状态存储
func NewStateStore(kv KV, storeConf config.StoreConf) *StateStore {
	local, err := cache.NewGeneralCache(64<<20, storeConf.Ttl())
	if err != nil {
		log.Warn("本地缓存创建失败, 退化为直连存储: %v", err)
		local = nil
	}
	return &StateStore{
		kv:          kv,
		local:       local,
		ttl:         storeConf.Ttl(),
		writeBudget: storeConf.WriteBudget(),
	}
}

// withRetry 有界重试：临界区内最多 3 次，每次尝试各自受写预算超时约束，失败后指数退避
func (s *StateStore) withRetry(op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeBudget)
		err := op(ctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(retryBackoff << attempt)
	}
	return fmt.Errorf("%w: %v", dto.ErrTransientStore, lastErr)
}

// ---------------------------------------------------------------------------
// 对局状态

// SaveState 保存权威状态并刷新滑动 TTL
func (s *StateStore) SaveState(state *game.GameState) error {
	data, err := game.MarshalState(state)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(keyGameState, state.RoomID)
	if err := s.withRetry(func(ctx context.Context) error {
		return s.kv.Set(ctx, key, data, s.ttl).Err()
	}); err != nil {
		return err
	}
	if s.local != nil {
		s.local.Set(key, data)
	}
	return nil
}

// LoadState 读取对局状态；不存在视为 ROOM_GONE
// 单房间只有一个逻辑主节点，软副本命中可直接返回
func (s *StateStore) LoadState(roomID string) (*game.GameState, error) {
	key := fmt.Sprintf(keyGameState, roomID)
	if s.local != nil {
		if v, ok := s.local.Get(key); ok {
			if raw, ok := v.([]byte); ok {
				if state, err := game.UnmarshalState(raw); err == nil {
					return state, nil
				}
			}
		}
	}
	var data []byte
	err := s.withRetry(func(ctx context.Context) error {
		raw, err := s.kv.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		data = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		if s.local != nil {
			s.local.Delete(key)
		}
		return nil, dto.ErrRoomGone
	}
	state, err := game.UnmarshalState(data)
	if err != nil {
		return nil, err
	}
	if s.local != nil {
		s.local.Set(key, data)
	}
	return state, nil
}

// ExistsState 对局状态是否存在
func (s *StateStore) ExistsState(roomID string) (bool, error) {
	key := fmt.Sprintf(keyGameState, roomID)
	var n int64
	err := s.withRetry(func(ctx context.Context) error {
		v, err := s.kv.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n > 0, err
}

// DeleteState 删除对局状态
func (s *StateStore) DeleteState(roomID string) error {
	key := fmt.Sprintf(keyGameState, roomID)
	if s.local != nil {
		s.local.Delete(key)
	}
	return s.withRetry(func(ctx context.Context) error {
		return s.kv.Del(ctx, key).Err()
	})
}

// RefreshTtl 心跳刷新滑动 TTL
func (s *StateStore) RefreshTtl(roomID string) error {
	key := fmt.Sprintf(keyGameState, roomID)
	return s.withRetry(func(ctx context.Context) error {
		return s.kv.Expire(ctx, key, s.ttl).Err()
	})
}

// ---------------------------------------------------------------------------
// 会话

// SaveSession 写入会话双向映射
func (s *StateStore) SaveSession(info *SessionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.withRetry(func(ctx context.Context) error {
		if err := s.kv.Set(ctx, fmt.Sprintf(keySessionUser, info.UserID), info.SessionID, s.ttl).Err(); err != nil {
			return err
		}
		return s.kv.Set(ctx, fmt.Sprintf(keySessionInfo, info.SessionID), data, s.ttl).Err()
	})
}

// RemoveSession 删除会话
func (s *StateStore) RemoveSession(userID, sessionID string) error {
	return s.withRetry(func(ctx context.Context) error {
		if err := s.kv.Del(ctx, fmt.Sprintf(keySessionInfo, sessionID)).Err(); err != nil {
			return err
		}
		// 只在仍指向该会话时解除 user 映射，避免覆盖新会话
		cur, err := s.kv.Get(ctx, fmt.Sprintf(keySessionUser, userID)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur == sessionID {
			return s.kv.Del(ctx, fmt.Sprintf(keySessionUser, userID)).Err()
		}
		return nil
	})
}

// GetSessionByUser 用户当前会话 ID
func (s *StateStore) GetSessionByUser(userID string) (string, error) {
	var sessionID string
	err := s.withRetry(func(ctx context.Context) error {
		v, err := s.kv.Get(ctx, fmt.Sprintf(keySessionUser, userID)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		sessionID = v
		return nil
	})
	if err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", dto.ErrSessionNotFound
	}
	return sessionID, nil
}

// GetSessionInfo 会话详情
func (s *StateStore) GetSessionInfo(sessionID string) (*SessionInfo, error) {
	var data []byte
	err := s.withRetry(func(ctx context.Context) error {
		raw, err := s.kv.Get(ctx, fmt.Sprintf(keySessionInfo, sessionID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		data = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, dto.ErrSessionNotFound
	}
	var info SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateHeartbeat 刷新会话心跳
func (s *StateStore) UpdateHeartbeat(sessionID string) error {
	info, err := s.GetSessionInfo(sessionID)
	if err != nil {
		return err
	}
	info.HeartbeatAt = time.Now()
	return s.SaveSession(info)
}

// ---------------------------------------------------------------------------
// 房间成员集合

// AddRoomMember 加入房间成员集合
func (s *StateStore) AddRoomMember(roomID, userID string) error {
	return s.withRetry(func(ctx context.Context) error {
		key := fmt.Sprintf(keyRoomPlayers, roomID)
		if err := s.kv.SAdd(ctx, key, userID).Err(); err != nil {
			return err
		}
		return s.kv.Expire(ctx, key, s.ttl).Err()
	})
}

// RemoveRoomMember 移出房间成员集合
func (s *StateStore) RemoveRoomMember(roomID, userID string) error {
	return s.withRetry(func(ctx context.Context) error {
		return s.kv.SRem(ctx, fmt.Sprintf(keyRoomPlayers, roomID), userID).Err()
	})
}

// RoomMembers 房间成员
func (s *StateStore) RoomMembers(roomID string) ([]string, error) {
	var members []string
	err := s.withRetry(func(ctx context.Context) error {
		v, err := s.kv.SMembers(ctx, fmt.Sprintf(keyRoomPlayers, roomID)).Result()
		if err != nil {
			return err
		}
		members = v
		return nil
	})
	return members, err
}

// ClearRoomMembers 解散时清空成员集合
func (s *StateStore) ClearRoomMembers(roomID string) error {
	return s.withRetry(func(ctx context.Context) error {
		return s.kv.Del(ctx, fmt.Sprintf(keyRoomPlayers, roomID)).Err()
	})
}
