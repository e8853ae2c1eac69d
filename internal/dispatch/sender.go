package dispatch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/game"
	"github.com/JackieWYB/majiang-sub001/internal/log"
)

const (
	// sendQueueDepth 单用户发送队列深度
	sendQueueDepth = 64
	// criticalSendTimeout 关键消息（RESPONSE/ERROR）入队等待上限
	criticalSendTimeout = 2 * time.Second
)

// Conn 出站连接抽象（websocket 或桥接）
type Conn interface {
	Send(data []byte) error
	Close() error
}

// MemberLister 房间成员集合（redis 投影）
type MemberLister interface {
	RoomMembers(roomID string) ([]string, error)
}

// Bridge 跨节点推送（玩家连在别的接入节点时走 NATS）
type Bridge interface {
	Forward(userID string, payload []byte) bool
}

// userQueue 单用户有界发送队列，写协程独立消费
type userQueue struct {
	conn   Conn
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newUserQueue(conn Conn) *userQueue {
	q := &userQueue{
		conn:   conn,
		ch:     make(chan []byte, sendQueueDepth),
		closed: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *userQueue) loop() {
	for {
		select {
		case <-q.closed:
			return
		case data := <-q.ch:
			if err := q.conn.Send(data); err != nil {
				log.Warn("出站发送失败: %v", err)
				q.stop()
				return
			}
		}
	}
}

func (q *userQueue) stop() {
	q.once.Do(func() {
		close(q.closed)
		_ = q.conn.Close()
	})
}

// Sender 出站消息扇出，实现引擎的 Pusher 接口
// 同一房间临界区内发出的消息保持顺序；溢出只丢快照类 EVENT，不丢 RESPONSE/ERROR
type Sender struct {
	mu      sync.RWMutex
	queues  map[string]*userQueue // userID -> queue
	members MemberLister
	bridge  Bridge
}

// NewSender 创建扇出器
func NewSender(members MemberLister, bridge Bridge) *Sender {
	return &Sender{
		queues:  make(map[string]*userQueue),
		members: members,
		bridge:  bridge,
	}
}

// Attach 用户上线，挂接连接；同名旧连接被替换关闭
func (s *Sender) Attach(userID string, conn Conn) {
	s.mu.Lock()
	if old, ok := s.queues[userID]; ok {
		old.stop()
	}
	s.queues[userID] = newUserQueue(conn)
	s.mu.Unlock()
}

// Detach 用户下线
func (s *Sender) Detach(userID string) {
	s.mu.Lock()
	if q, ok := s.queues[userID]; ok {
		q.stop()
		delete(s.queues, userID)
	}
	s.mu.Unlock()
}

// enqueue critical 为 true 时不允许丢弃
func (s *Sender) enqueue(userID string, data []byte, critical bool) {
	s.mu.RLock()
	q, ok := s.queues[userID]
	s.mu.RUnlock()
	if !ok {
		// 本地不在线：桥接到其他接入节点，否则按离线丢弃
		if s.bridge != nil && s.bridge.Forward(userID, data) {
			return
		}
		return
	}

	if critical {
		select {
		case q.ch <- data:
		case <-time.After(criticalSendTimeout):
			// 消费不动的连接直接断开，客户端重连后走快照
			log.Warn("玩家 %s 发送队列阻塞, 断开连接", userID)
			q.stop()
			s.Detach(userID)
		}
		return
	}

	select {
	case q.ch <- data:
	default:
		log.Debug("玩家 %s 发送队列满, 丢弃快照类事件", userID)
	}
}

// PushUser 单播事件；离线即空操作
func (s *Sender) PushUser(userID, route string, data any) {
	env := &Envelope{Type: TypeEvent, Command: route}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error("事件序列化失败: %v", err)
		return
	}
	env.Data = raw
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.enqueue(userID, payload, route != game.RouteSnapshot)
}

// PushRoom 房间广播，按存储中的成员集合迭代
func (s *Sender) PushRoom(roomID, route string, data any, exclude ...string) {
	memberIDs, err := s.members.RoomMembers(roomID)
	if err != nil {
		log.Warn("房间 %s 成员查询失败: %v", roomID, err)
		return
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	for _, userID := range memberIDs {
		if _, ok := skip[userID]; ok {
			continue
		}
		s.PushUser(userID, route, data)
	}
}

// PushResponse 请求-应答收口：成功发 RESPONSE，失败发 ERROR
func (s *Sender) PushResponse(userID, requestID string, result *game.ActionResult) {
	env := &Envelope{RequestID: requestID}
	if result.Success {
		env.Type = TypeResponse
		raw, err := json.Marshal(result)
		if err != nil {
			log.Error("应答序列化失败: %v", err)
			return
		}
		env.Data = raw
	} else {
		env.Type = TypeError
		env.Error = result.Code
		raw, _ := json.Marshal(result)
		env.Data = raw
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.enqueue(userID, payload, true)
}

// PushErrorCode 按错误映射回 ERROR 信封
func (s *Sender) PushErrorCode(userID, requestID string, err error) {
	s.PushResponse(userID, requestID, &game.ActionResult{
		Success: false,
		Code:    dto.CodeOf(err),
		Message: err.Error(),
	})
}
