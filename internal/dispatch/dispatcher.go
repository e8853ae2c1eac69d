package dispatch

import (
	"encoding/json"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/game"
	"github.com/JackieWYB/majiang-sub001/internal/log"
	"github.com/JackieWYB/majiang-sub001/internal/room"
	"github.com/JackieWYB/majiang-sub001/internal/session"
)

// GameService 房间与对局服务（由 Worker 实现）
type GameService interface {
	CreateRoom(ownerID, ruleID string) (*room.Room, error)
	JoinRoom(roomID, userID string) (*room.Room, error)
	LeaveRoom(roomID, userID string) (*room.Room, error)
	Ready(roomID, userID string, flag bool) (*room.Room, error)
	Dissolve(roomID, requesterID string) error
	StartGame(roomID, requesterID string) error
	SubmitAction(roomID string, ev *game.PlayerActionEvent) error
	SnapshotFor(roomID, userID string) (*game.GameSnapshot, error)
	PlayerRoomID(userID string) (string, bool)
}

// SessionService 会话服务
type SessionService interface {
	Heartbeat(sessionID string) error
	Reconnect(token string) (*session.ReconnectResult, error)
}

// Dispatcher 入站命令路由
// 解码失败和房间层错误同步回 ERROR；对局动作的应答由引擎在临界区内发出
type Dispatcher struct {
	games    GameService
	sessions SessionService
	sender   *Sender
}

// NewDispatcher 创建派发器
func NewDispatcher(games GameService, sessions SessionService, sender *Sender) *Dispatcher {
	return &Dispatcher{games: games, sessions: sessions, sender: sender}
}

type createRoomPayload struct {
	RuleID string `json:"ruleId"`
}

type readyPayload struct {
	Ready bool `json:"ready"`
}

type reconnectPayload struct {
	Token string `json:"token"`
}

// HandleRaw 处理一条入站原始消息
func (d *Dispatcher) HandleRaw(userID, sessionID string, raw []byte) {
	env, err := Decode(raw)
	if err != nil {
		d.sender.PushErrorCode(userID, "", err)
		return
	}
	d.Handle(userID, sessionID, env)
}

// Handle 处理一条已解码的信封
func (d *Dispatcher) Handle(userID, sessionID string, env *Envelope) {
	switch env.Type {
	case TypeHeartbeat:
		if err := d.sessions.Heartbeat(sessionID); err != nil {
			log.Debug("会话 %s 心跳失败: %v", sessionID, err)
		}
		return
	case TypeRequest:
		d.handleRequest(userID, env)
	default:
		// 服务端不处理客户端发来的 RESPONSE/EVENT/ERROR
		log.Debug("忽略客户端消息类型 %s", env.Type)
	}
}

func (d *Dispatcher) handleRequest(userID string, env *Envelope) {
	if IsActionCommand(env.Command) {
		d.handleAction(userID, env)
		return
	}

	switch env.Command {
	case CmdCreateRoom:
		var p createRoomPayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &p); err != nil {
				d.sender.PushErrorCode(userID, env.RequestID, dto.ErrInvalidMessage)
				return
			}
		}
		r, err := d.games.CreateRoom(userID, p.RuleID)
		if err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, err)
			return
		}
		d.sender.PushResponse(userID, env.RequestID, &game.ActionResult{Success: true, Data: r})

	case CmdJoinRoom:
		r, err := d.games.JoinRoom(env.RoomID, userID)
		if err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, err)
			return
		}
		d.sender.PushResponse(userID, env.RequestID, &game.ActionResult{Success: true, Data: r})
		d.sender.PushRoom(env.RoomID, game.RouteRoomEvent, map[string]any{
			"type": game.RoomEventPlayerJoined,
			"data": map[string]any{"userId": userID},
		}, userID)

	case CmdLeaveRoom:
		r, err := d.games.LeaveRoom(env.RoomID, userID)
		if err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, err)
			return
		}
		d.sender.PushResponse(userID, env.RequestID, &game.ActionResult{Success: true})
		eventType := game.RoomEventPlayerLeft
		if r.Status == room.StatusDissolved {
			eventType = game.RoomEventRoomDissolved
		}
		d.sender.PushRoom(env.RoomID, game.RouteRoomEvent, map[string]any{
			"type": eventType,
			"data": map[string]any{"userId": userID},
		})

	case CmdReady:
		var p readyPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, dto.ErrInvalidMessage)
			return
		}
		r, err := d.games.Ready(env.RoomID, userID, p.Ready)
		if err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, err)
			return
		}
		d.sender.PushResponse(userID, env.RequestID, &game.ActionResult{Success: true, Data: r})

	case CmdStart:
		if err := d.games.StartGame(env.RoomID, userID); err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, err)
			return
		}
		d.sender.PushResponse(userID, env.RequestID, &game.ActionResult{Success: true})

	case CmdDissolve:
		if err := d.games.Dissolve(env.RoomID, userID); err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, err)
			return
		}
		d.sender.PushResponse(userID, env.RequestID, &game.ActionResult{Success: true})
		d.sender.PushRoom(env.RoomID, game.RouteRoomEvent, map[string]any{
			"type": game.RoomEventRoomDissolved,
		})

	case CmdSnapshot:
		roomID := env.RoomID
		if roomID == "" {
			roomID, _ = d.games.PlayerRoomID(userID)
		}
		snap, err := d.games.SnapshotFor(roomID, userID)
		if err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, err)
			return
		}
		d.sender.PushResponse(userID, env.RequestID, &game.ActionResult{Success: true, Data: snap})

	case CmdReconnect:
		var p reconnectPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, dto.ErrInvalidMessage)
			return
		}
		result, err := d.sessions.Reconnect(p.Token)
		if err != nil {
			d.sender.PushErrorCode(userID, env.RequestID, err)
			return
		}
		d.sender.PushResponse(userID, env.RequestID, &game.ActionResult{Success: true, Data: result})

	default:
		d.sender.PushErrorCode(userID, env.RequestID, dto.ErrHandlerNotFound)
	}
}

// handleAction 对局动作：投递进房间事件通道，应答由引擎回
func (d *Dispatcher) handleAction(userID string, env *Envelope) {
	roomID := env.RoomID
	if roomID == "" {
		var ok bool
		roomID, ok = d.games.PlayerRoomID(userID)
		if !ok {
			d.sender.PushErrorCode(userID, env.RequestID, dto.ErrRoomNotFound)
			return
		}
	}

	ev, err := ParseAction(userID, env)
	if err != nil {
		d.sender.PushErrorCode(userID, env.RequestID, err)
		return
	}
	if err := d.games.SubmitAction(roomID, ev); err != nil {
		d.sender.PushErrorCode(userID, env.RequestID, err)
	}
}
