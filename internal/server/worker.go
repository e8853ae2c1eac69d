package server

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JackieWYB/majiang-sub001/internal/archive"
	"github.com/JackieWYB/majiang-sub001/internal/config"
	"github.com/JackieWYB/majiang-sub001/internal/dto"
	"github.com/JackieWYB/majiang-sub001/internal/game"
	"github.com/JackieWYB/majiang-sub001/internal/log"
	"github.com/JackieWYB/majiang-sub001/internal/room"
	"github.com/JackieWYB/majiang-sub001/internal/store"
)

/*
	Worker 是单个 game 节点的调度中枢：
	1. 房间生命周期（建房、入座、准备、解散、闲置清扫）
	2. 房间号到引擎实例的路由；引擎丢失时从状态存储恢复
	3. 房间销毁请求统一走 destroyRoomCh，由单协程串行处理，避免重入
*/

// RuleResolver 规则 ID 到规则配置
type RuleResolver func(ruleID string) (*game.RuleConfig, error)

// Worker 游戏节点调度器
type Worker struct {
	NodeID string

	Rooms   *room.Manager
	Store   *store.StateStore
	Pusher  game.Pusher
	Metrics *Metrics

	archiveRepo archive.Repository
	resolveRule RuleResolver
	gameConf    config.GameConf
	roomConf    config.RoomConf

	engines    map[string]*game.Engine       // roomID -> engine
	persisters map[string]*archive.Persister // roomID -> persister
	mu         sync.RWMutex

	rng   *rand.Rand
	rngMu sync.Mutex

	destroyRoomCh chan string
	destroyMu     sync.Mutex
	destroyClosed bool
}

// NewWorker 创建调度器
func NewWorker(nodeID string, rooms *room.Manager, st *store.StateStore, pusher game.Pusher, archiveRepo archive.Repository, resolveRule RuleResolver, conf config.ServerConfiguration) *Worker {
	if resolveRule == nil {
		resolveRule = func(string) (*game.RuleConfig, error) {
			return game.DefaultRuleConfig(), nil
		}
	}
	w := &Worker{
		NodeID:        nodeID,
		Rooms:         rooms,
		Store:         st,
		Pusher:        pusher,
		Metrics:       NewMetrics(),
		archiveRepo:   archiveRepo,
		resolveRule:   resolveRule,
		gameConf:      conf.GameConf,
		roomConf:      conf.RoomConf,
		engines:       make(map[string]*game.Engine),
		persisters:    make(map[string]*archive.Persister),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		destroyRoomCh: make(chan string, 128),
	}
	go w.destroyRoomLoop()
	return w
}

// ---------------------------------------------------------------------------
// 房间生命周期（dispatch.GameService 实现）

func (w *Worker) CreateRoom(ownerID, ruleID string) (*room.Room, error) {
	if _, err := w.resolveRule(ruleID); err != nil {
		return nil, err
	}
	return w.Rooms.CreateRoom(ownerID, ruleID)
}

func (w *Worker) JoinRoom(roomID, userID string) (*room.Room, error) {
	return w.Rooms.JoinRoom(roomID, userID)
}

func (w *Worker) LeaveRoom(roomID, userID string) (*room.Room, error) {
	r, err := w.Rooms.LeaveRoom(roomID, userID)
	if err != nil {
		return nil, err
	}
	if r.Status == room.StatusDissolved {
		w.teardownEngine(roomID, "aborted")
	}
	return r, nil
}

func (w *Worker) Ready(roomID, userID string, flag bool) (*room.Room, error) {
	return w.Rooms.Ready(roomID, userID, flag)
}

func (w *Worker) Dissolve(roomID, requesterID string) error {
	if err := w.Rooms.DissolveRoom(roomID, requesterID); err != nil {
		return err
	}
	w.teardownEngine(roomID, "aborted")
	return nil
}

// StartGame 开局：要求房间 READY 且发起者是房主
// 结算阶段再次 start 视为开下一局
func (w *Worker) StartGame(roomID, requesterID string) error {
	r, ok := w.Rooms.GetRoom(roomID)
	if !ok {
		return dto.ErrRoomNotFound
	}
	if requesterID != "" && r.OwnerID != requesterID {
		return dto.ErrAccessDenied
	}

	w.mu.RLock()
	eg := w.engines[roomID]
	w.mu.RUnlock()
	if eg != nil {
		r.Touch(time.Now())
		return eg.Submit(&game.StartRoundEvent{})
	}

	if r.Status != room.StatusReady {
		return dto.ErrRoomNotReady
	}

	cfg, err := w.resolveRule(r.RuleID)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	// 节点配置兜底对局计时参数
	if cfg.Turn.TurnTimeLimitSeconds == 0 {
		cfg.Turn.TurnTimeLimitSeconds = w.gameConf.TurnTimeLimitSeconds
	}
	if cfg.Turn.ActionTimeLimitSeconds == 0 {
		cfg.Turn.ActionTimeLimitSeconds = w.gameConf.ActionTimeLimitSeconds
	}

	userIDs := r.UserIDs()
	gameID := uuid.NewString()
	seed := w.nextSeed()

	var persister *archive.Persister
	var archiver game.Archiver
	if w.archiveRepo != nil {
		persister = archive.NewPersister(w.archiveRepo, roomID, gameID, seed, userIDs)
		archiver = persister
	}

	eg = game.NewEngine(roomID, gameID, seed, cfg, game.Deps{
		Pusher:   w.Pusher,
		Saver:    w.Store,
		Archiver: archiver,
		Observer: w.Metrics,
	})
	eg.OnFinished = w.RequestDestroyRoom

	if err := eg.Start(userIDs); err != nil {
		eg.CloseWithoutRun()
		return err
	}

	w.mu.Lock()
	w.engines[roomID] = eg
	if persister != nil {
		w.persisters[roomID] = persister
	}
	w.mu.Unlock()

	go eg.Run()
	w.Rooms.MarkPlaying(roomID)
	r.Touch(time.Now())
	log.Info("房间 %s 开局, game=%s, seed=%d", roomID, gameID, seed)
	return nil
}

func (w *Worker) nextSeed() int64 {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return w.rng.Int63()
}

// ---------------------------------------------------------------------------
// 引擎路由

// engineFor 取房间引擎；本地缓存未命中时从状态存储恢复一次
func (w *Worker) engineFor(roomID string) (*game.Engine, error) {
	w.mu.RLock()
	eg, ok := w.engines[roomID]
	w.mu.RUnlock()
	if ok {
		return eg, nil
	}

	state, err := w.Store.LoadState(roomID)
	if err != nil {
		return nil, err
	}
	if state.Phase == game.PhaseFinished {
		return nil, dto.ErrRoomGone
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if eg, ok := w.engines[roomID]; ok {
		return eg, nil
	}
	eg = game.Recover(state, game.Deps{
		Pusher:   w.Pusher,
		Saver:    w.Store,
		Observer: w.Metrics,
	})
	eg.OnFinished = w.RequestDestroyRoom
	w.engines[roomID] = eg
	go eg.Run()
	log.Warn("房间 %s 引擎从存储恢复", roomID)
	return eg, nil
}

// SubmitAction 对局动作入队
func (w *Worker) SubmitAction(roomID string, ev *game.PlayerActionEvent) error {
	eg, err := w.engineFor(roomID)
	if err != nil {
		return err
	}
	if r, ok := w.Rooms.GetRoom(roomID); ok {
		r.Touch(time.Now())
	}
	return eg.Submit(ev)
}

// SubmitToRoom 会话层事件入队（session.EngineRouter 实现）
func (w *Worker) SubmitToRoom(roomID string, ev game.GameEvent) error {
	eg, err := w.engineFor(roomID)
	if err != nil {
		return err
	}
	return eg.Submit(ev)
}

// SnapshotFor 玩家视角快照
func (w *Worker) SnapshotFor(roomID, userID string) (*game.GameSnapshot, error) {
	if roomID == "" {
		return nil, dto.ErrRoomNotFound
	}
	eg, err := w.engineFor(roomID)
	if err != nil {
		return nil, err
	}
	return eg.SnapshotFor(userID)
}

// PlayerRoomID 玩家所在房间（dispatch 与 session 共用）
func (w *Worker) PlayerRoomID(userID string) (string, bool) {
	r, ok := w.Rooms.GetPlayerRoom(userID)
	if !ok {
		return "", false
	}
	return r.ID, true
}

// ---------------------------------------------------------------------------
// 销毁与清扫

// RequestDestroyRoom 请求销毁房间（引擎结束回调，可在任意协程调用）
func (w *Worker) RequestDestroyRoom(roomID string) {
	if roomID == "" {
		return
	}
	w.destroyMu.Lock()
	if w.destroyClosed {
		w.destroyMu.Unlock()
		return
	}
	ch := w.destroyRoomCh
	w.destroyMu.Unlock()

	select {
	case ch <- roomID:
	default:
		log.Warn("销毁队列已满, roomID=%s", roomID)
	}
}

func (w *Worker) destroyRoomLoop() {
	for roomID := range w.destroyRoomCh {
		if roomID == "" {
			continue
		}
		if err := w.Rooms.DissolveRoom(roomID, ""); err != nil && err != dto.ErrRoomNotFound {
			log.Warn("销毁房间 %s 失败: %v", roomID, err)
		}
		w.teardownEngine(roomID, "completed")
	}
}

// teardownEngine 释放引擎与归档器；状态留在存储里走保留 TTL 过期
func (w *Worker) teardownEngine(roomID, archiveStatus string) {
	w.mu.Lock()
	eg := w.engines[roomID]
	persister := w.persisters[roomID]
	delete(w.engines, roomID)
	delete(w.persisters, roomID)
	w.mu.Unlock()

	if persister != nil {
		persister.Finalize(archiveStatus)
	}
	if eg != nil {
		go eg.Close()
	}
}

// RunSweeper 闲置房间清扫协程
func (w *Worker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept := w.Rooms.SweepInactive(w.roomConf.InactivityThreshold())
			for _, roomID := range swept {
				w.teardownEngine(roomID, "aborted")
			}
			if len(swept) > 0 {
				log.Info("闲置清扫解散 %d 个房间", len(swept))
			}
		}
	}
}

// Close 停止调度器
func (w *Worker) Close() {
	w.destroyMu.Lock()
	if !w.destroyClosed {
		w.destroyClosed = true
		close(w.destroyRoomCh)
	}
	w.destroyMu.Unlock()

	w.mu.Lock()
	engines := make([]*game.Engine, 0, len(w.engines))
	for _, eg := range w.engines {
		engines = append(engines, eg)
	}
	w.engines = make(map[string]*game.Engine)
	w.mu.Unlock()

	for _, eg := range engines {
		eg.Close()
	}
}
