package room

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/log"
)

// MemberStore 房间成员集合的存储侧投影（redis）
type MemberStore interface {
	AddRoomMember(roomID, userID string) error
	RemoveRoomMember(roomID, userID string) error
	ClearRoomMembers(roomID string) error
}

// Manager 房间管理器
// 管理所有房间实例与玩家到房间的路由
type Manager struct {
	rooms      map[string]*Room  // roomID -> Room
	playerRoom map[string]string // userID -> roomID
	ownerRooms map[string]int    // ownerID -> 活跃房间数
	members    MemberStore
	maxPerOwner int
	now        func() time.Time
	rng        *rand.Rand
	mu         sync.RWMutex
}

// NewManager 创建房间管理器
func NewManager(members MemberStore, maxPerOwner int) *Manager {
	if maxPerOwner <= 0 {
		maxPerOwner = 3
	}
	return &Manager{
		rooms:       make(map[string]*Room),
		playerRoom:  make(map[string]string),
		ownerRooms:  make(map[string]int),
		members:     members,
		maxPerOwner: maxPerOwner,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetNow 注入时钟（测试用）
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

// CreateRoom 建房：随机 6 位号，房主落座 0 号位
func (m *Manager) CreateRoom(ownerID, ruleID string) (*Room, error) {
	if ownerID == "" {
		return nil, dto.ErrOwnerNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ownerRooms[ownerID] >= m.maxPerOwner {
		return nil, dto.ErrOwnerQuotaExceeded
	}
	if _, exists := m.playerRoom[ownerID]; exists {
		return nil, dto.ErrUserInOtherRoom
	}

	id, err := m.allocateID()
	if err != nil {
		return nil, err
	}

	now := m.now()
	room := &Room{
		ID:      id,
		OwnerID: ownerID,
		RuleID:  ruleID,
		Status:  StatusWaiting,
		Seats: []*Seat{
			{UserID: ownerID, SeatIndex: 0, JoinedAt: now},
		},
		CreatedAt:      now,
		LastActivityAt: now,
	}

	m.rooms[id] = room
	m.playerRoom[ownerID] = id
	m.ownerRooms[ownerID]++
	if m.members != nil {
		if err := m.members.AddRoomMember(id, ownerID); err != nil {
			log.Warn("房间 %s 成员集合写入失败: %v", id, err)
		}
	}

	log.Info("创建房间 %s, 房主 %s, 规则 %s", id, ownerID, ruleID)
	return room, nil
}

// allocateID 生成不与活跃房间冲突的 6 位号（调用方持锁）
func (m *Manager) allocateID() (string, error) {
	for attempt := 0; attempt < 64; attempt++ {
		id := fmt.Sprintf("%06d", m.rng.Intn(1000000))
		if _, exists := m.rooms[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: 房间号分配失败", dto.ErrRoomBusy)
}

// JoinRoom 入座最小空位
func (m *Manager) JoinRoom(roomID, userID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return nil, dto.ErrRoomNotFound
	}
	if cur, ok := m.playerRoom[userID]; ok {
		if cur == roomID {
			return nil, dto.ErrUserAlreadyInRoom
		}
		return nil, dto.ErrUserInOtherRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.Status != StatusWaiting {
		return nil, dto.ErrRoomClosed
	}
	if len(room.Seats) >= MaxSeats {
		return nil, dto.ErrRoomFull
	}

	seat := room.lowestFreeSeat()
	room.Seats = append(room.Seats, &Seat{UserID: userID, SeatIndex: seat, JoinedAt: m.now()})
	sort.Slice(room.Seats, func(i, j int) bool { return room.Seats[i].SeatIndex < room.Seats[j].SeatIndex })
	room.LastActivityAt = m.now()

	m.playerRoom[userID] = roomID
	if m.members != nil {
		if err := m.members.AddRoomMember(roomID, userID); err != nil {
			log.Warn("房间 %s 成员集合写入失败: %v", roomID, err)
		}
	}
	return room, nil
}

// LeaveRoom 离开：房主走了就移交给最小座位；没人了就解散
func (m *Manager) LeaveRoom(roomID, userID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return nil, dto.ErrRoomNotFound
	}

	room.mu.Lock()
	idx := -1
	for i, s := range room.Seats {
		if s.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		room.mu.Unlock()
		return nil, dto.ErrAccessDenied
	}
	room.Seats = append(room.Seats[:idx], room.Seats[idx+1:]...)
	room.LastActivityAt = m.now()

	delete(m.playerRoom, userID)
	if m.members != nil {
		if err := m.members.RemoveRoomMember(roomID, userID); err != nil {
			log.Warn("房间 %s 成员集合移除失败: %v", roomID, err)
		}
	}

	if len(room.Seats) == 0 {
		room.mu.Unlock()
		m.dissolveLocked(room)
		return room, nil
	}

	if room.OwnerID == userID {
		room.OwnerID = room.Seats[0].UserID
		m.ownerRooms[userID]--
		if m.ownerRooms[userID] <= 0 {
			delete(m.ownerRooms, userID)
		}
		m.ownerRooms[room.OwnerID]++
		log.Info("房间 %s 房主移交给 %s", roomID, room.OwnerID)
	}
	room.mu.Unlock()
	return room, nil
}

// Ready 设置准备状态；满员全准备则房间进入 READY
func (m *Manager) Ready(roomID, userID string, flag bool) (*Room, error) {
	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()
	if !exists {
		return nil, dto.ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.Status != StatusWaiting && room.Status != StatusReady {
		return nil, dto.ErrRoomClosed
	}
	found := false
	for _, s := range room.Seats {
		if s.UserID == userID {
			s.Ready = flag
			found = true
			break
		}
	}
	if !found {
		return nil, dto.ErrAccessDenied
	}
	room.LastActivityAt = m.now()

	ready := len(room.Seats) == MaxSeats
	for _, s := range room.Seats {
		if !s.Ready {
			ready = false
			break
		}
	}
	if ready {
		room.Status = StatusReady
	} else {
		room.Status = StatusWaiting
	}
	return room, nil
}

// MarkPlaying 开局成功后由调度方调用
func (m *Manager) MarkPlaying(roomID string) {
	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()
	if !exists {
		return
	}
	room.mu.Lock()
	room.Status = StatusPlaying
	room.LastActivityAt = m.now()
	room.mu.Unlock()
}

// DissolveRoom 解散：发起者必须是房主或系统（requesterID 为空）
func (m *Manager) DissolveRoom(roomID, requesterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return dto.ErrRoomNotFound
	}
	if requesterID != "" && room.OwnerID != requesterID {
		return dto.ErrAccessDenied
	}
	m.dissolveLocked(room)
	return nil
}

// dissolveLocked 解散房间（调用方持管理器锁，不持房间锁）
func (m *Manager) dissolveLocked(room *Room) {
	room.mu.Lock()
	for _, s := range room.Seats {
		delete(m.playerRoom, s.UserID)
	}
	room.Seats = nil
	room.Status = StatusDissolved
	owner := room.OwnerID
	room.mu.Unlock()

	m.ownerRooms[owner]--
	if m.ownerRooms[owner] <= 0 {
		delete(m.ownerRooms, owner)
	}
	delete(m.rooms, room.ID)

	if m.members != nil {
		if err := m.members.ClearRoomMembers(room.ID); err != nil {
			log.Warn("房间 %s 成员集合清理失败: %v", room.ID, err)
		}
	}
	log.Info("房间 %s 解散", room.ID)
}

// GetRoom 取房间
func (m *Manager) GetRoom(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, exists := m.rooms[roomID]
	return room, exists
}

// GetPlayerRoom 玩家所在房间
func (m *Manager) GetPlayerRoom(userID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, exists := m.playerRoom[userID]
	if !exists {
		return nil, false
	}
	room, exists := m.rooms[roomID]
	return room, exists
}

// Stats 房间数与玩家数
func (m *Manager) Stats() (roomCount, playerCount int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms), len(m.playerRoom)
}

// SweepInactive 清理超过闲置阈值的房间，返回被解散的房间号
func (m *Manager) SweepInactive(threshold time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var swept []string
	for id, room := range m.rooms {
		room.mu.RLock()
		idle := now.Sub(room.LastActivityAt)
		room.mu.RUnlock()
		if idle >= threshold {
			swept = append(swept, id)
		}
	}
	for _, id := range swept {
		if room, ok := m.rooms[id]; ok {
			m.dissolveLocked(room)
		}
	}
	return swept
}
