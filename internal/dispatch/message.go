package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/game"
)

// MsgType 消息信封类型
type MsgType string

const (
	TypeRequest   MsgType = "REQUEST"
	TypeResponse  MsgType = "RESPONSE"
	TypeEvent     MsgType = "EVENT"
	TypeError     MsgType = "ERROR"
	TypeHeartbeat MsgType = "HEARTBEAT"
)

// Envelope 双向 JSON 信封
// REQUEST 必带 requestId，RESPONSE/ERROR 原样回带
type Envelope struct {
	Type      MsgType         `json:"type"`
	Command   string          `json:"command,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// 客户端命令
const (
	CmdCreateRoom = "createRoom"
	CmdJoinRoom   = "joinRoom"
	CmdLeaveRoom  = "leaveRoom"
	CmdReady      = "ready"
	CmdStart      = "start"
	CmdDissolve   = "dissolveRoom"
	CmdSnapshot   = "snapshot"
	CmdReconnect  = "reconnect"
	CmdPlay       = "play"
	CmdDiscard    = "discard"
	CmdPeng       = "pong"
	CmdGang       = "gang"
	CmdChi        = "chow"
	CmdHu         = "hu"
	CmdWin        = "win"
	CmdPass       = "pass"
)

// Decode 解析入站字节为信封
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrInvalidMessage, err)
	}
	switch env.Type {
	case TypeRequest:
		if env.RequestID == "" {
			return nil, fmt.Errorf("%w: REQUEST 缺少 requestId", dto.ErrInvalidMessage)
		}
	case TypeHeartbeat, TypeResponse, TypeEvent, TypeError:
	default:
		return nil, fmt.Errorf("%w: 未知类型 %q", dto.ErrInvalidMessage, env.Type)
	}
	return &env, nil
}

type playPayload struct {
	Tile string `json:"tile"`
}

type pengPayload struct {
	Tile        string `json:"tile"`
	ClaimedFrom int    `json:"claimedFrom"`
}

type gangPayload struct {
	Tile        string `json:"tile"`
	GangType    string `json:"gangType"`
	ClaimedFrom int    `json:"claimedFrom"`
}

type chiPayload struct {
	Tile        string `json:"tile"`
	Sequence    string `json:"sequence"` // 如 "456"
	ClaimedFrom int    `json:"claimedFrom"`
}

type huPayload struct {
	WinningTile string `json:"winningTile"`
	SelfDraw    bool   `json:"selfDraw"`
	ClaimedFrom int    `json:"claimedFrom"`
}

// IsActionCommand 是否对局内动作命令
func IsActionCommand(cmd string) bool {
	switch cmd {
	case CmdPlay, CmdDiscard, CmdPeng, CmdGang, CmdChi, CmdHu, CmdWin, CmdPass:
		return true
	}
	return false
}

// ParseAction 把命令映射为引擎动作事件
func ParseAction(userID string, env *Envelope) (*game.PlayerActionEvent, error) {
	ev := &game.PlayerActionEvent{
		GameMessageEvent: game.GameMessageEvent{UserID: userID, RequestID: env.RequestID},
	}

	switch env.Command {
	case CmdPlay, CmdDiscard:
		var p playPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", dto.ErrInvalidMessage, err)
		}
		tile, err := game.ParseTile(p.Tile)
		if err != nil {
			return nil, err
		}
		ev.Action = game.ActionDiscard
		ev.Tile = tile

	case CmdPeng:
		var p pengPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", dto.ErrInvalidMessage, err)
		}
		tile, err := game.ParseTile(p.Tile)
		if err != nil {
			return nil, err
		}
		ev.Action = game.ActionPeng
		ev.Tile = tile
		ev.ClaimedFrom = p.ClaimedFrom

	case CmdGang:
		var p gangPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", dto.ErrInvalidMessage, err)
		}
		tile, err := game.ParseTile(p.Tile)
		if err != nil {
			return nil, err
		}
		ev.Action = game.ActionGang
		ev.Tile = tile
		ev.ClaimedFrom = p.ClaimedFrom
		switch p.GangType {
		case "OPEN":
			ev.GangKind = game.KongOpen
		case "CONCEALED":
			ev.GangKind = game.KongConcealed
		case "UPGRADED":
			ev.GangKind = game.KongUpgraded
		case "":
			ev.GangKind = game.KongNone
		default:
			return nil, fmt.Errorf("%w: 未知杠型 %q", dto.ErrInvalidMessage, p.GangType)
		}

	case CmdChi:
		var p chiPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", dto.ErrInvalidMessage, err)
		}
		tile, err := game.ParseTile(p.Tile)
		if err != nil {
			return nil, err
		}
		seq, err := parseSequence(p.Sequence, tile.Suit)
		if err != nil {
			return nil, err
		}
		ev.Action = game.ActionChi
		ev.Tile = tile
		ev.Sequence = seq
		ev.ClaimedFrom = p.ClaimedFrom

	case CmdHu, CmdWin:
		var p huPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", dto.ErrInvalidMessage, err)
		}
		tile, err := game.ParseTile(p.WinningTile)
		if err != nil {
			return nil, err
		}
		ev.Action = game.ActionHu
		ev.Tile = tile
		ev.SelfDraw = p.SelfDraw
		ev.ClaimedFrom = p.ClaimedFrom

	case CmdPass:
		ev.Action = game.ActionPass

	default:
		return nil, fmt.Errorf("%w: 未知命令 %q", dto.ErrHandlerNotFound, env.Command)
	}

	return ev, nil
}

// parseSequence 解析 "456" 为同花色顺子
func parseSequence(s string, suit game.Suit) ([]game.Tile, error) {
	if len(s) != 3 {
		return nil, fmt.Errorf("%w: 顺子编码 %q", dto.ErrInvalidMessage, s)
	}
	out := make([]game.Tile, 0, 3)
	for i := 0; i < 3; i++ {
		r := int(s[i] - '0')
		if r < 1 || r > 9 {
			return nil, fmt.Errorf("%w: 顺子编码 %q", dto.ErrInvalidMessage, s)
		}
		out = append(out, game.Tile{Suit: suit, Rank: r})
	}
	if out[1].Rank != out[0].Rank+1 || out[2].Rank != out[1].Rank+1 {
		return nil, fmt.Errorf("%w: 顺子不连续 %q", dto.ErrInvalidMessage, s)
	}
	return out, nil
}
