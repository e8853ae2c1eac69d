package game

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/log"
)

const (
	// EventQueueDepth 房间事件通道容量，超出即 ROOM_BUSY
	EventQueueDepth = 256
)

// Observer 引擎计数器观察者，由上层接 metrics
type Observer interface {
	ActionProcessed(roomID string, action ActionType)
	WindowResolved(roomID string)
	TimeoutFired(roomID string)
	StateCorrupt(roomID string)
}

// NopObserver 空实现
type NopObserver struct{}

func (NopObserver) ActionProcessed(string, ActionType) {}
func (NopObserver) WindowResolved(string)              {}
func (NopObserver) TimeoutFired(string)                {}
func (NopObserver) StateCorrupt(string)                {}

// Archiver 归档协作方，缺席时引擎照常运行
type Archiver interface {
	RecordAction(roomID string, round, seat int, action ActionType, tile Tile)
	RecordSettlement(roomID string, result *SettlementResult)
}

// Engine 血战三人房间引擎
// 所有状态变更都经由单协程事件循环，房间之间互不影响
type Engine struct {
	RoomID string
	State  *GameState

	clock    Clock
	pusher   Pusher
	saver    StateSaver
	archiver Archiver
	observer Observer

	events    chan GameEvent
	done      chan struct{}
	actorExit chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	turnTimer   Timer
	windowTimer Timer

	gangLedger []GangScore
	lastWinner int // 上一局胡家座位，-1 表示流局

	// 成功落库后才允许发出的推送
	pending []func()

	// OnFinished 对局整体结束（或崩坏）后的销毁回调
	OnFinished func(roomID string)
}

// Deps 引擎依赖
type Deps struct {
	Clock    Clock
	Pusher   Pusher
	Saver    StateSaver
	Archiver Archiver
	Observer Observer
}

// NewEngine 创建房间引擎
func NewEngine(roomID, gameID string, seed int64, cfg *RuleConfig, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = NewRealClock()
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	return &Engine{
		RoomID:     roomID,
		State:      NewGameState(roomID, gameID, seed, cfg),
		clock:      deps.Clock,
		pusher:     deps.Pusher,
		saver:      deps.Saver,
		archiver:   deps.Archiver,
		observer:   deps.Observer,
		events:     make(chan GameEvent, EventQueueDepth),
		done:       make(chan struct{}),
		actorExit:  make(chan struct{}),
		lastWinner: -1,
	}
}

// Recover 从持久化状态重建引擎（进程重启或缓存被逐出后）
func Recover(state *GameState, deps Deps) *Engine {
	eg := NewEngine(state.RoomID, state.GameID, state.Seed, state.Config, deps)
	eg.State = state
	eg.rearmTimers()
	return eg
}

// Run 事件循环，每个房间一个协程
func (eg *Engine) Run() {
	defer close(eg.actorExit)
	for {
		select {
		case <-eg.done:
			return
		case ev := <-eg.events:
			eg.processEvent(ev)
		}
	}
}

// Submit 投递事件到房间通道
// 队列满返回 ROOM_BUSY，引擎关闭返回 ROOM_GONE
func (eg *Engine) Submit(ev GameEvent) error {
	if ev == nil {
		return dto.ErrInvalidMessage
	}
	if eg.closed.Load() {
		return dto.ErrRoomGone
	}
	select {
	case <-eg.done:
		return dto.ErrRoomGone
	case eg.events <- ev:
		return nil
	default:
		log.Warn("房间 %s 事件队列已满, eventType=%s", eg.RoomID, ev.GetEventType())
		return dto.ErrRoomBusy
	}
}

// snapshotRequest 经由事件通道的快照读取，避免越过临界区读状态
type snapshotRequest struct {
	GameMessageEvent
	reply chan *GameSnapshot
}

func (e *snapshotRequest) GetEventType() string {
	return "Snapshot"
}

// SnapshotFor 请求某个玩家视角的快照（在房间事件协程内生成）
func (eg *Engine) SnapshotFor(userID string) (*GameSnapshot, error) {
	req := &snapshotRequest{
		GameMessageEvent: GameMessageEvent{UserID: userID},
		reply:            make(chan *GameSnapshot, 1),
	}
	if err := eg.Submit(req); err != nil {
		return nil, err
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-eg.done:
		return nil, dto.ErrRoomGone
	case <-time.After(2 * time.Second):
		return nil, dto.ErrRoomBusy
	}
}

// Close 关闭引擎并停掉计时器
func (eg *Engine) Close() {
	eg.closeOnce.Do(func() {
		eg.closed.Store(true)
		close(eg.done)
		<-eg.actorExit
		eg.stopTurnTimer()
		eg.stopWindowTimer()
	})
}

// CloseWithoutRun 供未启动事件循环的场合（测试、恢复失败）释放
func (eg *Engine) CloseWithoutRun() {
	eg.closeOnce.Do(func() {
		eg.closed.Store(true)
		close(eg.done)
		eg.stopTurnTimer()
		eg.stopWindowTimer()
	})
}

// processEvent 单协程内的事件分发
func (eg *Engine) processEvent(ev GameEvent) {
	if ev == nil {
		return
	}
	switch e := ev.(type) {
	case *PlayerActionEvent:
		eg.handlePlayerAction(e)
	case *TimeoutEvent:
		eg.handleTimeoutEvent(e)
	case *StartRoundEvent:
		eg.handleStartNextRound(e)
	case *DisconnectEvent:
		eg.handleDisconnect(e)
	case *ReconnectEvent:
		eg.handleReconnect(e)
	case *GraceExpiredEvent:
		eg.handleGraceExpired(e)
	case *HardExpiredEvent:
		eg.handleHardExpired(e)
	case *snapshotRequest:
		e.reply <- eg.State.SnapshotFor(e.UserID)
	default:
		log.Warn("房间 %s 不支持的事件类型: %s", eg.RoomID, ev.GetEventType())
	}
}

// ---------------------------------------------------------------------------
// 开局与回合推进

// Start 开始对局：洗牌、发牌、庄家多一张，进入 PLAYING
func (eg *Engine) Start(userIDs []string) error {
	if eg.State.Phase != PhaseWaiting {
		return dto.ErrRoomNotReady
	}
	if len(userIDs) != SeatCount {
		return dto.ErrPlayerCount
	}

	wall, err := NewWall(eg.State.Config.Tiles, eg.State.Seed)
	if err != nil {
		return err
	}
	if len(wall) < SeatCount*HandSize+1 {
		return fmt.Errorf("%w: 牌池 %q 不足以开局", dto.ErrConfigInvalid, eg.State.Config.Tiles)
	}

	eg.State.Wall = wall
	for i, userID := range userIDs {
		p := NewPlayerImage(userID, i)
		p.Status = StatusWaitingTurn
		p.Score = 0
		eg.State.Players[i] = p
	}
	dealer := 0
	eg.State.Players[dealer].Dealer = true
	eg.State.DealerUserID = userIDs[dealer]

	eg.dealTiles(dealer)

	eg.State.Phase = PhasePlaying
	eg.State.StartedAt = eg.clock.Now()
	eg.State.Round = 1

	eg.beginTurn(dealer, false)

	if err := eg.State.CheckConservation(); err != nil {
		return err
	}
	if err := eg.commit(); err != nil {
		return err
	}
	eg.pushSnapshots()
	eg.flushPending()
	return nil
}

// Step 同步处理一条排队事件（测试用，代替 Run 协程）
func (eg *Engine) Step() bool {
	select {
	case ev := <-eg.events:
		eg.processEvent(ev)
		return true
	default:
		return false
	}
}

// DrainSteps 处理掉当前排队的全部事件
func (eg *Engine) DrainSteps() {
	for eg.Step() {
	}
}

// dealTiles 轮流发 13 张，庄家补 1 张
func (eg *Engine) dealTiles(dealer int) {
	for r := 0; r < HandSize; r++ {
		for i := 0; i < SeatCount; i++ {
			t, ok := eg.State.DrawTile()
			if !ok {
				return
			}
			eg.State.Players[i].AddTile(t)
		}
	}
	t, ok := eg.State.DrawTile()
	if ok {
		eg.State.Players[dealer].DrawTile(t)
	}
}

// beginTurn 进入某个座位的出牌回合
// needDraw 为 true 时先摸牌；牌墙摸空直接荒牌流局
func (eg *Engine) beginTurn(seat int, needDraw bool) {
	eg.stopTurnTimer()
	eg.stopWindowTimer()
	eg.State.Window = nil

	if needDraw {
		t, ok := eg.State.DrawTile()
		if !ok {
			eg.settleRound(nil)
			return
		}
		p := eg.State.PlayerBySeat(seat)
		p.DrawTile(t)
		tile := t
		eg.queuePush(func() {
			eg.pusher.PushUser(p.UserID, RouteAction, map[string]any{
				"type": "DRAW",
				"tile": tile.String(),
			})
		})
	}

	eg.State.CurrentIndex = seat
	eg.State.TotalTurns++
	eg.State.TurnEpoch++
	eg.State.TurnStartAt = eg.clock.Now()
	eg.State.TurnDeadline = eg.State.TurnStartAt.Add(eg.turnLimit())

	for i, p := range eg.State.Players {
		if p == nil {
			continue
		}
		if i == seat {
			if p.Status != StatusTrustee && p.Status != StatusDisconnected && p.Status != StatusFinished {
				p.Status = StatusPlaying
			}
			p.SetActions(eg.turnActions(i)...)
		} else {
			if p.Status == StatusPlaying || p.Status == StatusWaitingAction {
				p.Status = StatusWaitingTurn
			}
			p.SetActions()
		}
	}

	epoch := eg.State.TurnEpoch
	eg.turnTimer = eg.clock.AfterFunc(eg.turnLimit(), func() {
		_ = eg.Submit(&TimeoutEvent{Kind: TimeoutTurn, Epoch: epoch})
	})

	current := eg.State.PlayerBySeat(seat)
	eg.queuePush(func() {
		eg.pusher.PushRoom(eg.RoomID, RouteTurn, map[string]any{
			"currentUserId":      current.UserID,
			"currentPlayerIndex": seat,
			"deadline":           eg.State.TurnDeadline,
		})
	})

	// 托管或断线直接代打
	if current.Status == StatusTrustee || current.Status == StatusDisconnected || current.Status == StatusFinished {
		if eg.State.Config.Turn.AutoTrustee {
			if act := eg.trusteeTurnAction(seat); act != nil {
				act.internal = true
				eg.queuePush(func() { _ = eg.Submit(act) })
			}
		}
	}
}

// turnActions 当前回合玩家的可用动作
func (eg *Engine) turnActions(seat int) []ActionType {
	p := eg.State.PlayerBySeat(seat)
	actions := []ActionType{ActionDiscard}
	cfg := eg.State.Config

	if cfg.AllowGang && eg.State.Remaining() > 0 {
		if eg.handGangChoices(p) != nil {
			actions = append(actions, ActionGang)
		}
	}

	if p.NewestTile != nil {
		hand := append([]Tile(nil), p.Tiles...)
		if removeOne(&hand, *p.NewestTile) {
			win := eg.searcher().EvaluateWin(hand, p.Melds, *p.NewestTile, true, p.Dealer, -1, cfg)
			if win.Valid {
				actions = append(actions, ActionHu)
			}
		}
	}
	return actions
}

// handGangChoices 手上能杠的牌（暗杠与补杠）
func (eg *Engine) handGangChoices(p *PlayerImage) []Tile {
	var out []Tile
	seen := make(map[Tile]struct{})
	for _, t := range p.Tiles {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if kind := CanKong(p.Tiles, p.Melds, t, false); kind != KongNone {
			out = append(out, t)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// 玩家动作入口

func (eg *Engine) handlePlayerAction(e *PlayerActionEvent) {
	res := eg.applyAction(e)
	if e.RequestID != "" && eg.pusher != nil {
		eg.pusher.PushResponse(e.UserID, e.RequestID, res)
	}
}

// applyAction 校验、执行、落库；落库失败回滚且不推进状态
func (eg *Engine) applyAction(e *PlayerActionEvent) *ActionResult {
	state := eg.State
	if state.Phase != PhasePlaying {
		return failResult(dto.CodeActionInvalid, "对局不在进行中")
	}
	seat, err := state.SeatOf(e.UserID)
	if err != nil {
		return failResult(dto.CodeAccessDenied, "不在对局中")
	}
	p := state.PlayerBySeat(seat)
	if p.Status == StatusDisconnected && !e.internal {
		return failResult(dto.CodeActionInvalid, "断线状态不能操作")
	}

	backup, err := MarshalState(state)
	if err != nil {
		eg.corrupt("序列化失败")
		return failResult(dto.CodeStateCorrupt, "状态损坏")
	}
	eg.pending = eg.pending[:0]

	res := eg.dispatchAction(seat, e)
	if !res.Success {
		eg.pending = nil
		return res
	}

	// 显式动作让玩家脱离托管
	if !e.internal && e.Action != ActionPass {
		p.ConsecutiveTimeouts = 0
		if p.Status == StatusTrustee {
			p.Status = StatusWaitingTurn
		}
	}
	p.LastActionAt = eg.clock.Now()
	p.ActionCount++

	if state.Phase == PhasePlaying || state.Phase == PhaseSettlement {
		if err := state.CheckConservation(); err != nil {
			eg.corrupt(err.Error())
			return failResult(dto.CodeStateCorrupt, "状态损坏")
		}
	}

	if err := eg.commit(); err != nil {
		if restored, uerr := UnmarshalState(backup); uerr == nil {
			eg.State = restored
			eg.rearmTimers()
		}
		eg.pending = nil
		return failResult(dto.CodeTransientStoreError, "存储暂时不可用")
	}

	eg.flushPending()
	eg.observer.ActionProcessed(eg.RoomID, e.Action)
	if eg.archiver != nil {
		eg.archiver.RecordAction(eg.RoomID, eg.State.Round, seat, e.Action, e.Tile)
	}
	return res
}

// dispatchAction 按动作类型分派，未知动作落入 default 臂返回 ACTION_INVALID
func (eg *Engine) dispatchAction(seat int, e *PlayerActionEvent) *ActionResult {
	switch e.Action {
	case ActionDiscard:
		return eg.handleDiscard(seat, e)
	case ActionPeng, ActionChi:
		return eg.handleWindowClaim(seat, e)
	case ActionGang:
		return eg.handleGang(seat, e)
	case ActionHu:
		return eg.handleHu(seat, e)
	case ActionPass:
		return eg.handlePass(seat, e)
	default:
		return failResult(dto.CodeActionInvalid, fmt.Sprintf("未知动作 %s", e.Action))
	}
}

// handleDiscard 出牌：只有当前玩家可以
func (eg *Engine) handleDiscard(seat int, e *PlayerActionEvent) *ActionResult {
	state := eg.State
	if seat != state.CurrentIndex {
		return failResult(dto.CodeNotYourTurn, "未轮到出牌")
	}
	p := state.PlayerBySeat(seat)
	if !p.CanAct(ActionDiscard) {
		return failResult(dto.CodeActionNotAvailable, "当前不能出牌")
	}
	if !p.RemoveTile(e.Tile) {
		return failResult(dto.CodeInvalidTile, "手牌中没有这张牌")
	}

	state.DiscardPile = append(state.DiscardPile, e.Tile)
	state.LastDiscard = LastDiscard{Seat: seat, Tile: e.Tile, Valid: true}
	p.SetActions()
	eg.stopTurnTimer()

	tile := e.Tile
	userID := p.UserID
	eg.queuePush(func() {
		eg.pusher.PushRoom(eg.RoomID, RouteAction, map[string]any{
			"actingUserId": userID,
			"action":       ActionDiscard,
			"tile":         tile.String(),
		})
	})

	eg.openWindow(seat, e.Tile, false)
	return okResult(map[string]any{"tile": e.Tile.String()})
}

// openWindow 弃牌（或补杠）后计算各家可反应的动作
// robKong 为 true 时是抢杠窗口，只允许胡
func (eg *Engine) openWindow(discarder int, tile Tile, robKong bool) {
	state := eg.State
	cfg := state.Config
	eligible := make(map[int][]ActionType)

	for i := 0; i < SeatCount; i++ {
		if i == discarder {
			continue
		}
		p := state.PlayerBySeat(i)
		if p == nil || p.Status == StatusFinished {
			continue
		}
		var acts []ActionType

		win := eg.searcher().EvaluateWin(p.Tiles, p.Melds, tile, false, p.Dealer, discarder, cfg)
		if win.Valid {
			acts = append(acts, ActionHu)
		}

		if !robKong {
			if cfg.AllowGang && state.Remaining() > 0 && CanKong(p.Tiles, p.Melds, tile, true) == KongOpen {
				acts = append(acts, ActionGang)
			}
			if cfg.AllowPeng && CanPeng(p.Tiles, tile) {
				acts = append(acts, ActionPeng)
			}
			if cfg.AllowChi && i == NextSeat(discarder) && len(ChowChoices(p.Tiles, tile)) > 0 {
				acts = append(acts, ActionChi)
			}
		}

		if len(acts) > 0 {
			eligible[i] = acts
		}
	}

	if len(eligible) == 0 {
		if robKong {
			eg.completeBuGang(discarder, tile)
			return
		}
		eg.beginTurn(NextSeat(discarder), true)
		return
	}

	state.TurnEpoch++
	window := &ActionWindow{
		Tile:        tile,
		Discarder:   discarder,
		Deadline:    eg.clock.Now().Add(eg.actionLimit()),
		Epoch:       state.TurnEpoch,
		Eligible:    eligible,
		Arrivals:    make(map[int]*PlayerActionEvent),
		RobKong:     robKong,
		RobKongSeat: discarder,
	}
	state.Window = window

	for seat, acts := range eligible {
		p := state.PlayerBySeat(seat)
		if p.Status != StatusTrustee && p.Status != StatusDisconnected {
			p.Status = StatusWaitingAction
		}
		p.SetActions(append(append([]ActionType(nil), acts...), ActionPass)...)

		userID := p.UserID
		options := append([]ActionType(nil), acts...)
		eg.queuePush(func() {
			eg.pusher.PushUser(userID, RouteOperations, map[string]any{
				"tile":     tile.String(),
				"from":     discarder,
				"actions":  options,
				"deadline": window.Deadline,
			})
		})
	}

	epoch := window.Epoch
	eg.stopWindowTimer()
	eg.windowTimer = eg.clock.AfterFunc(eg.actionLimit(), func() {
		_ = eg.Submit(&TimeoutEvent{Kind: TimeoutWindow, Epoch: epoch})
	})

	// 托管玩家立即代答
	for seat := range eligible {
		p := state.PlayerBySeat(seat)
		if p.Status == StatusTrustee || p.Status == StatusDisconnected {
			if act := eg.trusteeWindowAction(seat); act != nil {
				act.internal = true
				eg.queuePush(func() { _ = eg.Submit(act) })
			}
		}
	}
}

// handleWindowClaim 碰 / 吃：只在反应窗口内合法
func (eg *Engine) handleWindowClaim(seat int, e *PlayerActionEvent) *ActionResult {
	state := eg.State
	w := state.Window
	if w == nil {
		return failResult(dto.CodeActionNotAvailable, "没有待反应的弃牌")
	}
	if !windowAllows(w, seat, e.Action) {
		return failResult(dto.CodeActionNotAvailable, "该动作不可用")
	}
	p := state.PlayerBySeat(seat)

	switch e.Action {
	case ActionPeng:
		if countTile(p.Tiles, w.Tile) < 2 {
			return failResult(dto.CodeInvalidTile, "手牌不足以碰")
		}
	case ActionChi:
		if len(e.Sequence) != 3 || !sequenceContains(e.Sequence, w.Tile) {
			return failResult(dto.CodeInvalidTile, "顺子组合不合法")
		}
		if !chiFormable(p.Tiles, e.Sequence, w.Tile) {
			return failResult(dto.CodeInvalidTile, "手牌不足以吃")
		}
	}

	w.Arrivals[seat] = e
	eg.maybeResolveWindow(false)
	return okResult(nil)
}

// handleGang 杠：窗口内是明杠，自己回合是暗杠/补杠
func (eg *Engine) handleGang(seat int, e *PlayerActionEvent) *ActionResult {
	state := eg.State
	if !state.Config.AllowGang {
		return failResult(dto.CodeActionNotAvailable, "规则不允许杠")
	}

	if w := state.Window; w != nil && !w.RobKong {
		if !windowAllows(w, seat, ActionGang) {
			return failResult(dto.CodeActionNotAvailable, "该动作不可用")
		}
		if countTile(state.PlayerBySeat(seat).Tiles, w.Tile) < 3 {
			return failResult(dto.CodeInvalidTile, "手牌不足以杠")
		}
		w.Arrivals[seat] = e
		eg.maybeResolveWindow(false)
		return okResult(nil)
	}

	// 自己回合的暗杠 / 补杠
	if seat != state.CurrentIndex {
		return failResult(dto.CodeNotYourTurn, "未轮到操作")
	}
	p := state.PlayerBySeat(seat)
	if !p.CanAct(ActionGang) {
		return failResult(dto.CodeActionNotAvailable, "当前不能杠")
	}
	kind := CanKong(p.Tiles, p.Melds, e.Tile, false)
	switch kind {
	case KongConcealed:
		eg.executeAnGang(seat, e.Tile)
		return okResult(map[string]any{"kind": MeldAnGang})
	case KongUpgraded:
		eg.startBuGang(seat, e.Tile)
		return okResult(map[string]any{"kind": MeldBuGang})
	default:
		return failResult(dto.CodeInvalidTile, "手牌不足以杠")
	}
}

// handleHu 胡：自己回合是自摸，窗口内是点炮/抢杠
func (eg *Engine) handleHu(seat int, e *PlayerActionEvent) *ActionResult {
	state := eg.State
	p := state.PlayerBySeat(seat)

	if w := state.Window; w != nil {
		if !windowAllows(w, seat, ActionHu) {
			return failResult(dto.CodeActionNotAvailable, "该动作不可用")
		}
		win := eg.searcher().EvaluateWin(p.Tiles, p.Melds, w.Tile, false, p.Dealer, w.Discarder, state.Config)
		if !win.Valid {
			return failResult(dto.CodeInvalidWin, "和牌不成立")
		}
		w.Arrivals[seat] = e
		eg.maybeResolveWindow(false)
		return okResult(nil)
	}

	// 自摸
	if seat != state.CurrentIndex {
		return failResult(dto.CodeNotYourTurn, "未轮到操作")
	}
	if !p.CanAct(ActionHu) {
		return failResult(dto.CodeActionNotAvailable, "当前不能胡")
	}
	if p.NewestTile == nil {
		return failResult(dto.CodeInvalidWin, "没有刚摸的牌")
	}
	winTile := *p.NewestTile
	hand := append([]Tile(nil), p.Tiles...)
	if !removeOne(&hand, winTile) {
		return failResult(dto.CodeInvalidWin, "和牌不成立")
	}
	win := eg.searcher().EvaluateWin(hand, p.Melds, winTile, true, p.Dealer, -1, state.Config)
	if !win.Valid {
		return failResult(dto.CodeInvalidWin, "和牌不成立")
	}

	userID := p.UserID
	eg.queuePush(func() {
		eg.pusher.PushRoom(eg.RoomID, RouteAction, map[string]any{
			"actingUserId": userID,
			"action":       ActionHu,
			"tile":         winTile.String(),
			"selfDraw":     true,
		})
	})
	eg.settleRound(map[int]*WinResult{seat: &win})
	return okResult(win)
}

// handlePass 过：仅窗口内有意义
func (eg *Engine) handlePass(seat int, e *PlayerActionEvent) *ActionResult {
	w := eg.State.Window
	if w == nil {
		return failResult(dto.CodeActionNotAvailable, "没有待反应的弃牌")
	}
	if _, ok := w.Eligible[seat]; !ok {
		return failResult(dto.CodeActionNotAvailable, "该动作不可用")
	}
	w.Arrivals[seat] = e
	eg.maybeResolveWindow(false)
	return okResult(nil)
}

// maybeResolveWindow 判断窗口是否该收口
// 收口条件：有人胡时，所有能胡的玩家都已表态（不看多响开关）；无人胡时全部应答；或超时
func (eg *Engine) maybeResolveWindow(deadline bool) {
	state := eg.State
	w := state.Window
	if w == nil {
		return
	}

	if !deadline {
		huArrived := false
		for _, a := range w.Arrivals {
			if a.Action == ActionHu {
				huArrived = true
				break
			}
		}
		if huArrived {
			// 短路其余反应，但等所有能胡的玩家表态（优先级和多响判定需要），截止兜底
			for seat, acts := range w.Eligible {
				if _, ok := w.Arrivals[seat]; ok {
					continue
				}
				for _, a := range acts {
					if a == ActionHu {
						return
					}
				}
			}
			eg.resolveWindow()
			return
		}
		if !w.Responded() {
			return
		}
	}

	eg.resolveWindow()
}

// resolveWindow 按优先级收口：胡 > 杠 > 碰 > 吃 > 过
// 只会执行一次：执行前把 Window 摘掉
func (eg *Engine) resolveWindow() {
	state := eg.State
	w := state.Window
	if w == nil {
		return
	}
	state.Window = nil
	eg.stopWindowTimer()
	eg.observer.WindowResolved(eg.RoomID)

	for seat := range w.Eligible {
		p := state.PlayerBySeat(seat)
		if p != nil && p.Status == StatusWaitingAction {
			p.Status = StatusWaitingTurn
		}
		if p != nil {
			p.SetActions()
		}
	}

	// 胡（可能多家）
	type huClaim struct {
		seat int
		win  WinResult
	}
	var hus []huClaim
	for seat, a := range w.Arrivals {
		if a.Action != ActionHu {
			continue
		}
		p := state.PlayerBySeat(seat)
		from := w.Discarder
		if w.RobKong {
			from = w.RobKongSeat
		}
		win := eg.searcher().EvaluateWin(p.Tiles, p.Melds, w.Tile, false, p.Dealer, from, state.Config)
		if win.Valid {
			hus = append(hus, huClaim{seat: seat, win: win})
		}
	}

	if len(hus) > 0 {
		if !state.Config.Score.MultipleWinners && len(hus) > 1 {
			// 单胡：番数高者优先，再按离放炮者顺时针最近
			best := hus[0]
			for _, c := range hus[1:] {
				if c.win.BaseFan > best.win.BaseFan ||
					(c.win.BaseFan == best.win.BaseFan &&
						SeatDistance(w.Discarder, c.seat) < SeatDistance(w.Discarder, best.seat)) {
					best = c
				}
			}
			hus = []huClaim{best}
		}

		if w.RobKong {
			eg.rollbackBuGang(w.RobKongSeat, w.Tile)
		} else {
			// 和的那张从弃牌堆进胡家手牌
			state.DiscardPile = state.DiscardPile[:len(state.DiscardPile)-1]
			state.LastDiscard.Valid = false
		}

		// 和的那张实体牌只落到离放炮者最近的胡家手里（多响时其余胡家按 13 张记）
		closest := hus[0].seat
		for _, c := range hus[1:] {
			if SeatDistance(w.Discarder, c.seat) < SeatDistance(w.Discarder, closest) {
				closest = c.seat
			}
		}

		wins := make(map[int]*WinResult, len(hus))
		for _, c := range hus {
			win := c.win
			p := state.PlayerBySeat(c.seat)
			if c.seat == closest {
				p.AddTile(w.Tile)
			}
			wins[c.seat] = &win
			userID := p.UserID
			tile := w.Tile
			eg.queuePush(func() {
				eg.pusher.PushRoom(eg.RoomID, RouteAction, map[string]any{
					"actingUserId": userID,
					"action":       ActionHu,
					"tile":         tile.String(),
					"from":         w.Discarder,
				})
			})
		}
		eg.settleRound(wins)
		return
	}

	// 抢杠没人胡，补杠落定
	if w.RobKong {
		eg.completeBuGang(w.RobKongSeat, w.Tile)
		return
	}

	// 杠
	for seat, a := range w.Arrivals {
		if a.Action == ActionGang {
			eg.executeOpenGang(seat, w)
			return
		}
	}
	// 碰
	for seat, a := range w.Arrivals {
		if a.Action == ActionPeng {
			eg.executePeng(seat, w)
			return
		}
	}
	// 吃
	for seat, a := range w.Arrivals {
		if a.Action == ActionChi {
			eg.executeChi(seat, w, a)
			return
		}
	}

	// 全过或超时：下家摸牌
	eg.beginTurn(NextSeat(w.Discarder), true)
}

// ---------------------------------------------------------------------------
// 副露执行

// takeLastDiscard 把弃牌堆最后一张取走（被碰/杠/吃）
func (eg *Engine) takeLastDiscard(w *ActionWindow) bool {
	state := eg.State
	n := len(state.DiscardPile)
	if n == 0 || state.DiscardPile[n-1] != w.Tile {
		eg.corrupt("弃牌堆与反应窗口不一致")
		return false
	}
	state.DiscardPile = state.DiscardPile[:n-1]
	state.LastDiscard.Valid = false
	return true
}

func (eg *Engine) executePeng(seat int, w *ActionWindow) {
	p := eg.State.PlayerBySeat(seat)
	if !p.RemoveTiles([]Tile{w.Tile, w.Tile}) {
		eg.corrupt("碰时手牌不足")
		return
	}
	if !eg.takeLastDiscard(w) {
		return
	}
	p.Melds = append(p.Melds, Meld{Kind: MeldPeng, Tiles: []Tile{w.Tile, w.Tile, w.Tile}, From: w.Discarder})
	eg.pushMeld(p.UserID, MeldPeng, w.Tile, w.Discarder)
	eg.beginTurn(seat, false)
}

func (eg *Engine) executeChi(seat int, w *ActionWindow, e *PlayerActionEvent) {
	p := eg.State.PlayerBySeat(seat)
	need := make([]Tile, 0, 2)
	for _, t := range e.Sequence {
		if t != w.Tile {
			need = append(need, t)
		}
	}
	if len(need) != 2 || !p.RemoveTiles(need) {
		eg.corrupt("吃时手牌不足")
		return
	}
	if !eg.takeLastDiscard(w) {
		return
	}
	seq := append([]Tile(nil), e.Sequence...)
	SortTiles(seq)
	p.Melds = append(p.Melds, Meld{Kind: MeldChi, Tiles: seq, From: w.Discarder})
	eg.pushMeld(p.UserID, MeldChi, w.Tile, w.Discarder)
	eg.beginTurn(seat, false)
}

func (eg *Engine) executeOpenGang(seat int, w *ActionWindow) {
	p := eg.State.PlayerBySeat(seat)
	if !p.RemoveTiles([]Tile{w.Tile, w.Tile, w.Tile}) {
		eg.corrupt("明杠时手牌不足")
		return
	}
	if !eg.takeLastDiscard(w) {
		return
	}
	p.Melds = append(p.Melds, Meld{Kind: MeldGang, Tiles: []Tile{w.Tile, w.Tile, w.Tile, w.Tile}, From: w.Discarder})
	eg.applyGangBonus(seat, MeldGang, w.Tile, w.Discarder)
	eg.pushMeld(p.UserID, MeldGang, w.Tile, w.Discarder)
	// 杠后补牌继续出牌
	eg.beginTurn(seat, true)
}

func (eg *Engine) executeAnGang(seat int, tile Tile) {
	p := eg.State.PlayerBySeat(seat)
	if !p.RemoveTiles([]Tile{tile, tile, tile, tile}) {
		eg.corrupt("暗杠时手牌不足")
		return
	}
	p.Melds = append(p.Melds, Meld{Kind: MeldAnGang, Tiles: []Tile{tile, tile, tile, tile}, From: -1})
	eg.applyGangBonus(seat, MeldAnGang, tile, -1)
	eg.pushMeld(p.UserID, MeldAnGang, tile, -1)
	eg.beginTurn(seat, true)
}

// startBuGang 补杠先开抢杠窗口，没人抢再落定
func (eg *Engine) startBuGang(seat int, tile Tile) {
	p := eg.State.PlayerBySeat(seat)
	idx := p.FindPengMeld(tile)
	if idx < 0 || !p.HasTile(tile) {
		eg.corrupt("补杠前置条件不成立")
		return
	}
	eg.stopTurnTimer()
	eg.openWindow(seat, tile, true)
}

// completeBuGang 补杠落定：手牌第 4 张并入碰副露
func (eg *Engine) completeBuGang(seat int, tile Tile) {
	p := eg.State.PlayerBySeat(seat)
	idx := p.FindPengMeld(tile)
	if idx < 0 || !p.RemoveTile(tile) {
		eg.corrupt("补杠执行失败")
		return
	}
	meld := &p.Melds[idx]
	meld.Kind = MeldBuGang
	meld.Tiles = append(meld.Tiles, tile)
	eg.applyGangBonus(seat, MeldBuGang, tile, meld.From)
	eg.pushMeld(p.UserID, MeldBuGang, tile, meld.From)
	eg.beginTurn(seat, true)
}

// rollbackBuGang 抢杠成功，副露保持为碰，第 4 张作为和牌张
func (eg *Engine) rollbackBuGang(seat int, tile Tile) {
	p := eg.State.PlayerBySeat(seat)
	if p == nil {
		return
	}
	// 牌尚未离手（completeBuGang 未执行），无需恢复手牌，只把这张移给胡家
	if !p.RemoveTile(tile) {
		eg.corrupt("抢杠回滚失败")
	}
}

// applyGangBonus 杠的即时分：立即入账并记入台账
func (eg *Engine) applyGangBonus(seat int, kind MeldKind, tile Tile, from int) {
	delta := gangBonusDelta(kind, seat, from, eg.State.Config.Score.GangBonus)
	for i := 0; i < SeatCount; i++ {
		if p := eg.State.PlayerBySeat(i); p != nil {
			p.Score += delta[i]
		}
	}
	eg.gangLedger = append(eg.gangLedger, GangScore{Seat: seat, Kind: kind, Tile: tile, Delta: delta})
}

func (eg *Engine) pushMeld(userID string, kind MeldKind, tile Tile, from int) {
	eg.queuePush(func() {
		eg.pusher.PushRoom(eg.RoomID, RouteAction, map[string]any{
			"actingUserId": userID,
			"action":       kind,
			"tile":         tile.String(),
			"from":         from,
		})
	})
}

// ---------------------------------------------------------------------------
// 超时与托管

func (eg *Engine) handleTimeoutEvent(e *TimeoutEvent) {
	state := eg.State
	if state.Phase != PhasePlaying {
		return
	}
	eg.observer.TimeoutFired(eg.RoomID)

	switch e.Kind {
	case TimeoutTurn:
		// 旧纪元的计时器直接丢弃
		if state.Window != nil || e.Epoch != state.TurnEpoch {
			return
		}
		eg.handleTurnTimeout()
	case TimeoutWindow:
		w := state.Window
		if w == nil || e.Epoch != w.Epoch {
			return
		}
		eg.transact(eg.handleWindowTimeout)
	}
}

// transact 包一段计时器驱动的状态变更：守恒校验、落库、失败回滚
func (eg *Engine) transact(mutate func()) {
	backup, err := MarshalState(eg.State)
	if err != nil {
		eg.corrupt("序列化失败")
		return
	}
	eg.pending = eg.pending[:0]
	mutate()
	if eg.State.Phase == PhasePlaying || eg.State.Phase == PhaseSettlement {
		if err := eg.State.CheckConservation(); err != nil {
			eg.corrupt(err.Error())
			return
		}
	}
	if err := eg.commit(); err != nil {
		if restored, uerr := UnmarshalState(backup); uerr == nil {
			eg.State = restored
			eg.rearmTimers()
		}
		eg.pending = nil
		return
	}
	eg.flushPending()
}

// handleTurnTimeout 出牌超时：托管代打并累计超时次数
func (eg *Engine) handleTurnTimeout() {
	state := eg.State
	seat := state.CurrentIndex
	p := state.PlayerBySeat(seat)
	if p == nil {
		return
	}

	p.ConsecutiveTimeouts++
	if p.ConsecutiveTimeouts >= TrusteeMaxTimeouts && p.Status != StatusFinished {
		p.Status = StatusTrustee
		userID := p.UserID
		eg.pusher.PushRoom(eg.RoomID, RouteRoomEvent, map[string]any{
			"type": "PLAYER_TRUSTEE",
			"data": map[string]any{"userId": userID},
		})
	}

	if !state.Config.Turn.AutoTrustee {
		// 不托管就只推进回合：按托管同样的确定性弃牌
		log.Warn("房间 %s 座位 %d 出牌超时且未启用托管", eg.RoomID, seat)
	}

	if act := eg.trusteeTurnAction(seat); act != nil {
		act.internal = true
		eg.handlePlayerAction(act)
	}
}

// handleWindowTimeout 反应超时：未应答者一律按过
func (eg *Engine) handleWindowTimeout() {
	w := eg.State.Window
	if w == nil {
		return
	}
	for seat := range w.Eligible {
		if _, ok := w.Arrivals[seat]; !ok {
			p := eg.State.PlayerBySeat(seat)
			w.Arrivals[seat] = &PlayerActionEvent{
				GameMessageEvent: GameMessageEvent{UserID: p.UserID},
				Action:           ActionPass,
				internal:         true,
			}
		}
	}
	eg.maybeResolveWindow(true)
}

// ---------------------------------------------------------------------------
// 结算与下一局

// settleRound 结算一局；wins 为空表示荒牌流局
func (eg *Engine) settleRound(wins map[int]*WinResult) {
	state := eg.State
	eg.stopTurnTimer()
	eg.stopWindowTimer()
	state.Window = nil

	var result *SettlementResult
	if len(wins) == 0 {
		result = settleDraw(state, eg.gangLedger)
		eg.lastWinner = -1
	} else {
		result = settleHu(state, wins, eg.gangLedger)
		best := -1
		for seat := range wins {
			if best < 0 || seat < best {
				best = seat
			}
		}
		eg.lastWinner = best
	}

	for _, pr := range result.PlayerResults {
		if p := state.PlayerBySeat(pr.SeatIndex); p != nil {
			p.Score += pr.FinalScore
			p.SetActions()
			if p.Status != StatusDisconnected && p.Status != StatusFinished && p.Status != StatusTrustee {
				p.Status = StatusWaiting
			}
		}
	}

	state.Phase = PhaseSettlement
	state.EndedAt = eg.clock.Now()

	res := result
	eg.queuePush(func() {
		eg.pusher.PushRoom(eg.RoomID, RouteSettlement, res)
	})
	if eg.archiver != nil {
		eg.archiver.RecordSettlement(eg.RoomID, result)
	}

	if state.Round >= state.Config.MaxRounds {
		eg.finishGame()
	}
}

// finishGame 最后一局结束，对局进入终态
func (eg *Engine) finishGame() {
	state := eg.State
	state.Phase = PhaseFinished
	roomID := eg.RoomID
	eg.queuePush(func() {
		eg.pusher.PushRoom(roomID, RouteRoomEvent, map[string]any{
			"type": "GAME_FINISHED",
		})
		if eg.OnFinished != nil {
			eg.OnFinished(roomID)
		}
	})
}

// handleStartNextRound 开下一局：上局胡家坐庄，流局连庄
func (eg *Engine) handleStartNextRound(e *StartRoundEvent) {
	state := eg.State
	if state.Phase != PhaseSettlement || state.Round >= state.Config.MaxRounds {
		return
	}

	state.Round++
	dealer := 0
	if eg.lastWinner >= 0 {
		dealer = eg.lastWinner
	} else if seat, err := state.SeatOf(state.DealerUserID); err == nil {
		dealer = seat
	}

	// 换局换种子，但仍由初始种子推导，保证整场可回放
	wall, err := NewWall(state.Config.Tiles, state.Seed+int64(state.Round-1))
	if err != nil {
		eg.corrupt(err.Error())
		return
	}
	state.Wall = wall
	state.DiscardPile = state.DiscardPile[:0]
	state.LastDiscard = LastDiscard{}
	eg.gangLedger = nil

	for i, p := range state.Players {
		if p == nil {
			continue
		}
		p.Tiles = p.Tiles[:0]
		p.Melds = p.Melds[:0]
		p.NewestTile = nil
		p.Dealer = i == dealer
		p.SetActions()
		if p.Status != StatusDisconnected && p.Status != StatusTrustee {
			p.Status = StatusWaitingTurn
		}
	}
	state.DealerUserID = state.Players[dealer].UserID

	eg.dealTiles(dealer)
	state.Phase = PhasePlaying
	eg.beginTurn(dealer, false)

	if err := eg.commit(); err != nil {
		log.Error("房间 %s 开局落库失败: %v", eg.RoomID, err)
	}
	eg.flushPending()
	eg.pushSnapshots()
}

// ---------------------------------------------------------------------------
// 断线与重连

func (eg *Engine) handleDisconnect(e *DisconnectEvent) {
	state := eg.State
	seat, err := state.SeatOf(e.UserID)
	if err != nil {
		return
	}
	p := state.PlayerBySeat(seat)
	if p.Status == StatusFinished {
		return
	}
	p.Status = StatusDisconnected
	eg.pusher.PushRoom(eg.RoomID, RouteRoomEvent, map[string]any{
		"type": RoomEventPlayerDisconnected,
		"data": map[string]any{"userId": e.UserID},
	})
	_ = eg.commitQuiet()
}

func (eg *Engine) handleReconnect(e *ReconnectEvent) {
	state := eg.State
	seat, err := state.SeatOf(e.UserID)
	if err != nil {
		return
	}
	p := state.PlayerBySeat(seat)
	if p.Status == StatusDisconnected || p.Status == StatusTrustee {
		switch {
		case state.Window != nil && state.Window.Eligible[seat] != nil:
			p.Status = StatusWaitingAction
		case state.CurrentIndex == seat && state.Phase == PhasePlaying:
			p.Status = StatusPlaying
		default:
			p.Status = StatusWaitingTurn
		}
		p.ConsecutiveTimeouts = 0
	}

	// 先给快照再给后续事件
	eg.pusher.PushUser(e.UserID, RouteSnapshot, state.SnapshotFor(e.UserID))
	eg.pusher.PushRoom(eg.RoomID, RouteRoomEvent, map[string]any{
		"type": RoomEventPlayerReconnected,
		"data": map[string]any{"userId": e.UserID},
	}, e.UserID)
	_ = eg.commitQuiet()
}

// handleGraceExpired 宽限期结束转托管，对局继续
func (eg *Engine) handleGraceExpired(e *GraceExpiredEvent) {
	state := eg.State
	seat, err := state.SeatOf(e.UserID)
	if err != nil {
		return
	}
	p := state.PlayerBySeat(seat)
	if p.Status != StatusDisconnected {
		return
	}
	p.Status = StatusTrustee
	eg.pusher.PushRoom(eg.RoomID, RouteRoomEvent, map[string]any{
		"type": "PLAYER_TRUSTEE",
		"data": map[string]any{"userId": e.UserID},
	})
	_ = eg.commitQuiet()

	// 正轮到该玩家或在窗口中，立刻代打
	if state.Phase != PhasePlaying {
		return
	}
	if state.Window != nil {
		if _, ok := state.Window.Eligible[seat]; ok {
			if _, responded := state.Window.Arrivals[seat]; !responded {
				if act := eg.trusteeWindowAction(seat); act != nil {
					act.internal = true
					eg.handlePlayerAction(act)
				}
			}
		}
		return
	}
	if state.CurrentIndex == seat {
		if act := eg.trusteeTurnAction(seat); act != nil {
			act.internal = true
			eg.handlePlayerAction(act)
		}
	}
}

// handleHardExpired 断线超过硬上限，本局按完结处理
func (eg *Engine) handleHardExpired(e *HardExpiredEvent) {
	state := eg.State
	seat, err := state.SeatOf(e.UserID)
	if err != nil {
		return
	}
	p := state.PlayerBySeat(seat)
	if p.Status == StatusDisconnected || p.Status == StatusTrustee {
		p.Status = StatusFinished
		_ = eg.commitQuiet()
	}
}

// ---------------------------------------------------------------------------
// 基础设施

func (eg *Engine) searcher() *Searcher {
	return sharedSearcher
}

// sharedSearcher 进程级共享搜索器：缓存跨房间复用，内部自带锁
var sharedSearcher = NewSearcher()

func (eg *Engine) turnLimit() time.Duration {
	return time.Duration(eg.State.Config.Turn.TurnTimeLimitSeconds) * time.Second
}

func (eg *Engine) actionLimit() time.Duration {
	return time.Duration(eg.State.Config.Turn.ActionTimeLimitSeconds) * time.Second
}

func (eg *Engine) stopTurnTimer() {
	if eg.turnTimer != nil {
		eg.turnTimer.Stop()
		eg.turnTimer = nil
	}
}

func (eg *Engine) stopWindowTimer() {
	if eg.windowTimer != nil {
		eg.windowTimer.Stop()
		eg.windowTimer = nil
	}
}

// rearmTimers 按状态里的截止时间重挂计时器（恢复和回滚用）
func (eg *Engine) rearmTimers() {
	eg.stopTurnTimer()
	eg.stopWindowTimer()
	state := eg.State
	if state.Phase != PhasePlaying {
		return
	}
	now := eg.clock.Now()
	if w := state.Window; w != nil {
		d := w.Deadline.Sub(now)
		if d < time.Millisecond {
			d = time.Millisecond
		}
		epoch := w.Epoch
		eg.windowTimer = eg.clock.AfterFunc(d, func() {
			_ = eg.Submit(&TimeoutEvent{Kind: TimeoutWindow, Epoch: epoch})
		})
		return
	}
	d := state.TurnDeadline.Sub(now)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	epoch := state.TurnEpoch
	eg.turnTimer = eg.clock.AfterFunc(d, func() {
		_ = eg.Submit(&TimeoutEvent{Kind: TimeoutTurn, Epoch: epoch})
	})
}

// commit 落库（带重试的实现在 store 层）
func (eg *Engine) commit() error {
	if eg.saver == nil {
		return nil
	}
	return eg.saver.SaveState(eg.State)
}

// commitQuiet 非关键路径落库，失败只记日志
func (eg *Engine) commitQuiet() error {
	if err := eg.commit(); err != nil {
		log.Warn("房间 %s 落库失败: %v", eg.RoomID, err)
		return err
	}
	return nil
}

func (eg *Engine) queuePush(f func()) {
	eg.pending = append(eg.pending, f)
}

func (eg *Engine) flushPending() {
	for _, f := range eg.pending {
		f()
	}
	eg.pending = nil
}

// pushSnapshots 给每个玩家发个性化快照
func (eg *Engine) pushSnapshots() {
	if eg.pusher == nil {
		return
	}
	for userID, snap := range eg.State.Snapshots() {
		eg.pusher.PushUser(userID, RouteSnapshot, snap)
	}
}

// corrupt 不变式被破坏：先尝试从存储恢复，不行就解散房间
func (eg *Engine) corrupt(reason string) {
	log.Error("房间 %s 状态损坏: %s", eg.RoomID, reason)
	eg.observer.StateCorrupt(eg.RoomID)

	if eg.saver != nil {
		if recovered, err := eg.saver.LoadState(eg.RoomID); err == nil {
			if cerr := recovered.CheckConservation(); cerr == nil || recovered.Phase == PhaseWaiting {
				eg.State = recovered
				eg.rearmTimers()
				log.Warn("房间 %s 已从存储恢复", eg.RoomID)
				return
			}
		}
	}

	eg.State.Phase = PhaseFinished
	if eg.pusher != nil {
		eg.pusher.PushRoom(eg.RoomID, RouteRoomEvent, map[string]any{
			"type": RoomEventRoomGone,
		})
	}
	if eg.OnFinished != nil {
		eg.OnFinished(eg.RoomID)
	}
}

// ---------------------------------------------------------------------------
// 小工具

func windowAllows(w *ActionWindow, seat int, action ActionType) bool {
	for _, a := range w.Eligible[seat] {
		if a == action {
			return true
		}
	}
	return false
}

func sequenceContains(seq []Tile, tile Tile) bool {
	for _, t := range seq {
		if t == tile {
			return true
		}
	}
	return false
}

// chiFormable 顺子组合校验：同花色连续且除被吃牌外都在手上
func chiFormable(hand []Tile, seq []Tile, called Tile) bool {
	s := append([]Tile(nil), seq...)
	SortTiles(s)
	if s[0].Suit != s[1].Suit || s[1].Suit != s[2].Suit {
		return false
	}
	if s[1].Rank != s[0].Rank+1 || s[2].Rank != s[1].Rank+1 {
		return false
	}
	remain := append([]Tile(nil), hand...)
	usedCalled := false
	for _, t := range s {
		if !usedCalled && t == called {
			usedCalled = true
			continue
		}
		if !removeOne(&remain, t) {
			return false
		}
	}
	return usedCalled
}

func removeOne(tiles *[]Tile, tile Tile) bool {
	for i, t := range *tiles {
		if t == tile {
			*tiles = append((*tiles)[:i], (*tiles)[i+1:]...)
			return true
		}
	}
	return false
}
