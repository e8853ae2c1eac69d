package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JackieWYB/majiang-sub001/internal/config"
	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/game"
	"github.com/JackieWYB/majiang-sub001/internal/jwts"
	"github.com/JackieWYB/majiang-sub001/internal/log"
	"github.com/JackieWYB/majiang-sub001/internal/store"
)

// EngineRouter 会话层到房间引擎的入口（由 Worker 实现）
type EngineRouter interface {
	SubmitToRoom(roomID string, ev game.GameEvent) error
	SnapshotFor(roomID, userID string) (*game.GameSnapshot, error)
}

// RoomLookup 玩家到房间的路由
type RoomLookup interface {
	PlayerRoomID(userID string) (string, bool)
}

// ReconnectResult 重连结果
type ReconnectResult struct {
	Success  bool               `json:"success"`
	RoomID   string             `json:"roomId,omitempty"`
	Snapshot *game.GameSnapshot `json:"snapshot,omitempty"`
}

// disconnectRecord 断线记录与两级计时：宽限转托管、硬上限完结
type disconnectRecord struct {
	userID     string
	roomID     string
	at         time.Time
	graceTimer game.Timer
	hardTimer  game.Timer
}

// Manager 会话与重连管理
// 断线流程：宽限期 -> 托管 -> 重连快照；硬上限后本局按完结处理
type Manager struct {
	sessions  *store.StateStore
	router    EngineRouter
	rooms     RoomLookup
	clock     game.Clock
	jwtSecret string

	gracePeriod   time.Duration
	maxDisconnect time.Duration

	disconnects map[string]*disconnectRecord // userID -> record
	mu          sync.Mutex
}

// NewManager 创建会话管理器
func NewManager(sessions *store.StateStore, router EngineRouter, rooms RoomLookup, cfg config.SessionConf, jwtSecret string, clock game.Clock) *Manager {
	if clock == nil {
		clock = game.NewRealClock()
	}
	return &Manager{
		sessions:      sessions,
		router:        router,
		rooms:         rooms,
		clock:         clock,
		jwtSecret:     jwtSecret,
		gracePeriod:   cfg.GracePeriod(),
		maxDisconnect: cfg.MaxDisconnection(),
		disconnects:   make(map[string]*disconnectRecord),
	}
}

// Connect 传输层建立连接后登记会话
func (m *Manager) Connect(userID string) (*store.SessionInfo, error) {
	info := &store.SessionInfo{
		SessionID:   uuid.NewString(),
		UserID:      userID,
		ConnectedAt: m.clock.Now(),
		HeartbeatAt: m.clock.Now(),
	}
	if roomID, ok := m.rooms.PlayerRoomID(userID); ok {
		info.RoomID = roomID
	}
	if err := m.sessions.SaveSession(info); err != nil {
		return nil, err
	}
	return info, nil
}

// Heartbeat 心跳续期；玩家在局内时顺带刷新对局状态的滑动 TTL
func (m *Manager) Heartbeat(sessionID string) error {
	info, err := m.sessions.GetSessionInfo(sessionID)
	if err != nil {
		return err
	}
	info.HeartbeatAt = m.clock.Now()
	if err := m.sessions.SaveSession(info); err != nil {
		return err
	}
	if roomID, ok := m.rooms.PlayerRoomID(info.UserID); ok {
		if err := m.sessions.RefreshTtl(roomID); err != nil {
			log.Debug("房间 %s TTL 刷新失败: %v", roomID, err)
		}
	}
	return nil
}

// Disconnect 传输层断开：玩家仍在对局则标记断线并起宽限计时
func (m *Manager) Disconnect(sessionID string) {
	info, err := m.sessions.GetSessionInfo(sessionID)
	if err != nil {
		return
	}
	if err := m.sessions.RemoveSession(info.UserID, sessionID); err != nil {
		log.Warn("会话 %s 清理失败: %v", sessionID, err)
	}

	roomID, ok := m.rooms.PlayerRoomID(info.UserID)
	if !ok {
		return
	}

	userID := info.UserID
	if err := m.router.SubmitToRoom(roomID, &game.DisconnectEvent{
		GameMessageEvent: game.GameMessageEvent{UserID: userID},
	}); err != nil {
		log.Warn("房间 %s 断线事件投递失败: %v", roomID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, exists := m.disconnects[userID]; exists {
		stopRecord(old)
	}
	rec := &disconnectRecord{userID: userID, roomID: roomID, at: m.clock.Now()}
	rec.graceTimer = m.clock.AfterFunc(m.gracePeriod, func() {
		_ = m.router.SubmitToRoom(roomID, &game.GraceExpiredEvent{
			GameMessageEvent: game.GameMessageEvent{UserID: userID},
		})
	})
	rec.hardTimer = m.clock.AfterFunc(m.maxDisconnect, func() {
		_ = m.router.SubmitToRoom(roomID, &game.HardExpiredEvent{
			GameMessageEvent: game.GameMessageEvent{UserID: userID},
		})
		m.mu.Lock()
		if cur, ok := m.disconnects[userID]; ok && cur == rec {
			delete(m.disconnects, userID)
		}
		m.mu.Unlock()
	})
	m.disconnects[userID] = rec
	log.Info("玩家 %s 断线, 房间 %s, 宽限 %s", userID, roomID, m.gracePeriod)
}

// Reconnect 校验 token、恢复房间绑定、下发个人快照
// 幂等：相同 token 重复重连与一次重连对对局状态的影响一致
func (m *Manager) Reconnect(token string) (*ReconnectResult, error) {
	userID, err := jwts.ParseToken(token, m.jwtSecret)
	if err != nil {
		return nil, dto.ErrInvalidToken
	}

	m.mu.Lock()
	rec, hadRecord := m.disconnects[userID]
	if hadRecord {
		stopRecord(rec)
		delete(m.disconnects, userID)
	}
	m.mu.Unlock()

	roomID, inRoom := m.rooms.PlayerRoomID(userID)
	if !inRoom {
		if !hadRecord {
			return nil, dto.ErrNoDisconnectRecord
		}
		return nil, dto.ErrRoomGone
	}

	info := &store.SessionInfo{
		SessionID:   uuid.NewString(),
		UserID:      userID,
		RoomID:      roomID,
		ConnectedAt: m.clock.Now(),
		HeartbeatAt: m.clock.Now(),
	}
	if err := m.sessions.SaveSession(info); err != nil {
		return nil, err
	}

	if err := m.router.SubmitToRoom(roomID, &game.ReconnectEvent{
		GameMessageEvent: game.GameMessageEvent{UserID: userID},
	}); err != nil && err != dto.ErrRoomGone {
		log.Warn("房间 %s 重连事件投递失败: %v", roomID, err)
	}

	snapshot, err := m.router.SnapshotFor(roomID, userID)
	if err != nil {
		return nil, err
	}
	return &ReconnectResult{Success: true, RoomID: roomID, Snapshot: snapshot}, nil
}

func stopRecord(rec *disconnectRecord) {
	if rec.graceTimer != nil {
		rec.graceTimer.Stop()
	}
	if rec.hardTimer != nil {
		rec.hardTimer.Stop()
	}
}
