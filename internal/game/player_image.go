package game

import "time"

// PlayerStatus 玩家状态
type PlayerStatus string

const (
	StatusWaiting       PlayerStatus = "WAITING"
	StatusReady         PlayerStatus = "READY"
	StatusPlaying       PlayerStatus = "PLAYING" // 轮到出牌
	StatusWaitingTurn   PlayerStatus = "WAITING_TURN"
	StatusWaitingAction PlayerStatus = "WAITING_ACTION" // 在反应窗口内
	StatusTrustee       PlayerStatus = "TRUSTEE"
	StatusDisconnected  PlayerStatus = "DISCONNECTED"
	StatusFinished      PlayerStatus = "FINISHED"
)

// ActionType 玩家动作
type ActionType string

const (
	ActionDiscard ActionType = "DISCARD"
	ActionPeng    ActionType = "PONG"
	ActionGang    ActionType = "KONG"
	ActionChi     ActionType = "CHOW"
	ActionHu      ActionType = "HU"
	ActionPass    ActionType = "PASS"
)

// PlayerImage 局内玩家镜像
type PlayerImage struct {
	UserID              string       `json:"userId"`
	SeatIndex           int          `json:"seatIndex"`
	Tiles               []Tile       `json:"tiles"` // 手牌（多重集合，仅展示时排序）
	Melds               []Meld       `json:"melds"`
	Dealer              bool         `json:"dealer"`
	Status              PlayerStatus `json:"status"`
	AvailableActions    []ActionType `json:"availableActions"`
	ConsecutiveTimeouts int          `json:"consecutiveTimeouts"`
	LastActionAt        time.Time    `json:"lastActionAt"`
	NewestTile          *Tile        `json:"newestTile,omitempty"` // 最新摸的牌（托管出牌和自摸判断用）
	Score               int          `json:"score"`
	ActionCount         int          `json:"actionCount"`
}

// NewPlayerImage 创建局内玩家镜像
func NewPlayerImage(userID string, seatIndex int) *PlayerImage {
	return &PlayerImage{
		UserID:    userID,
		SeatIndex: seatIndex,
		Tiles:     make([]Tile, 0, HandSize+1),
		Melds:     make([]Meld, 0, 4),
		Status:    StatusWaiting,
	}
}

func (p *PlayerImage) AddTile(tile Tile) {
	p.Tiles = append(p.Tiles, tile)
}

// DrawTile 摸牌并记录最新张
func (p *PlayerImage) DrawTile(tile Tile) {
	p.Tiles = append(p.Tiles, tile)
	newest := tile
	p.NewestTile = &newest
}

// RemoveTile 从手牌移除一张，不存在则返回 false
func (p *PlayerImage) RemoveTile(tile Tile) bool {
	for i := range p.Tiles {
		if p.Tiles[i] == tile {
			p.Tiles = append(p.Tiles[:i], p.Tiles[i+1:]...)
			if p.NewestTile != nil && *p.NewestTile == tile {
				p.NewestTile = nil
			}
			return true
		}
	}
	return false
}

// RemoveTiles 批量移除，全部成功才生效
func (p *PlayerImage) RemoveTiles(tiles []Tile) bool {
	backup := append([]Tile(nil), p.Tiles...)
	for _, t := range tiles {
		if !p.RemoveTile(t) {
			p.Tiles = backup
			return false
		}
	}
	return true
}

func (p *PlayerImage) HasTile(tile Tile) bool {
	return countTile(p.Tiles, tile) > 0
}

// CanAct 该动作当前是否可用
func (p *PlayerImage) CanAct(action ActionType) bool {
	for _, a := range p.AvailableActions {
		if a == action {
			return true
		}
	}
	return false
}

// SetActions 重置可用动作集合
func (p *PlayerImage) SetActions(actions ...ActionType) {
	p.AvailableActions = actions
}

// MeldSetCount 已副露面子数
func (p *PlayerImage) MeldSetCount() int {
	return len(p.Melds)
}

// TileTotal 手牌加副露折算的总张数（13/14 张不变式校验）
// 杠按 3 张折算：第 4 张是额外摸进来的
func (p *PlayerImage) TileTotal() int {
	n := len(p.Tiles)
	for range p.Melds {
		n += 3
	}
	return n
}

// FindPengMeld 查找某张牌的碰副露（补杠用）
func (p *PlayerImage) FindPengMeld(tile Tile) int {
	for i, m := range p.Melds {
		if m.Kind == MeldPeng && len(m.Tiles) > 0 && m.Tiles[0] == tile {
			return i
		}
	}
	return -1
}
