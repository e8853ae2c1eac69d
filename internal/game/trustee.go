package game

// TrusteeMaxTimeouts 连续超时达到该值后钉死为托管
const TrusteeMaxTimeouts = 3

// trusteeTurnAction 托管出牌策略，完全确定：
// 能胡则胡；否则打最近摸进的那张；没有最近摸牌就打最右一张
// 原实现里托管有 70% 概率开杠，破坏回放确定性，这里不保留
func (eg *Engine) trusteeTurnAction(seat int) *PlayerActionEvent {
	p := eg.State.PlayerBySeat(seat)
	if p == nil || len(p.Tiles) == 0 {
		return nil
	}

	if p.CanAct(ActionHu) && p.NewestTile != nil {
		return &PlayerActionEvent{
			GameMessageEvent: GameMessageEvent{UserID: p.UserID},
			Action:           ActionHu,
			Tile:             *p.NewestTile,
			SelfDraw:         true,
		}
	}

	var tile Tile
	if p.NewestTile != nil {
		tile = *p.NewestTile
	} else {
		hand := append([]Tile(nil), p.Tiles...)
		SortTiles(hand)
		tile = hand[len(hand)-1]
	}
	return &PlayerActionEvent{
		GameMessageEvent: GameMessageEvent{UserID: p.UserID},
		Action:           ActionDiscard,
		Tile:             tile,
	}
}

// trusteeWindowAction 托管反应策略：能胡就胡，其余一律过
func (eg *Engine) trusteeWindowAction(seat int) *PlayerActionEvent {
	p := eg.State.PlayerBySeat(seat)
	if p == nil {
		return nil
	}
	w := eg.State.Window
	if w == nil {
		return nil
	}
	for _, a := range w.Eligible[seat] {
		if a == ActionHu {
			return &PlayerActionEvent{
				GameMessageEvent: GameMessageEvent{UserID: p.UserID},
				Action:           ActionHu,
				Tile:             w.Tile,
				ClaimedFrom:      w.Discarder,
			}
		}
	}
	return &PlayerActionEvent{
		GameMessageEvent: GameMessageEvent{UserID: p.UserID},
		Action:           ActionPass,
	}
}
