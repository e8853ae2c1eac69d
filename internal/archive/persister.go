package archive

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/JackieWYB/majiang-sub001/internal/game"
	"github.com/JackieWYB/majiang-sub001/internal/log"
)

// Repository 归档仓储
type Repository interface {
	SaveGameRecord(ctx context.Context, record *GameRecord) error
	SaveRoundRecords(ctx context.Context, rounds []*RoundRecord) error
}

// Persister 对局归档收集器
// 对局过程中只在内存里攒事件，整场结束后异步写库；写失败不影响对局
type Persister struct {
	repo         Repository
	record       *GameRecord
	rounds       []*RoundRecord
	currentRound *RoundRecord
	seq          int
	mu           sync.Mutex
	closed       bool
}

// NewPersister 创建归档收集器
func NewPersister(repo Repository, roomID, gameID string, seed int64, userIDs []string) *Persister {
	return &Persister{
		repo:   repo,
		record: NewGameRecord(roomID, gameID, seed, userIDs),
		rounds: make([]*RoundRecord, 0, 4),
	}
}

// RecordAction 记录一次动作
func (p *Persister) RecordAction(roomID string, round, seat int, action game.ActionType, tile game.Tile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.currentRound == nil || p.currentRound.Round != round {
		p.currentRound = &RoundRecord{
			ID:           primitive.NewObjectID(),
			GameRecordID: p.record.ID,
			Round:        round,
			CreatedAt:    time.Now(),
		}
		p.rounds = append(p.rounds, p.currentRound)
		p.seq = 0
	}
	p.seq++
	p.currentRound.Events = append(p.currentRound.Events, RoundEvent{
		Seq:    p.seq,
		Seat:   seat,
		Action: action,
		Tile:   tile.String(),
		At:     time.Now(),
	})
}

// RecordSettlement 记录一局结算
func (p *Persister) RecordSettlement(roomID string, result *game.SettlementResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.currentRound == nil || p.currentRound.Round != result.Round {
		p.currentRound = &RoundRecord{
			ID:           primitive.NewObjectID(),
			GameRecordID: p.record.ID,
			Round:        result.Round,
			CreatedAt:    time.Now(),
		}
		p.rounds = append(p.rounds, p.currentRound)
	}
	p.currentRound.Settlement = result
}

// Finalize 整场结束，异步落库
func (p *Persister) Finalize(status string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.record.EndTime = time.Now()
	p.record.Duration = int(p.record.EndTime.Sub(p.record.StartTime).Seconds())
	p.record.Status = status
	record := p.record
	rounds := make([]*RoundRecord, len(p.rounds))
	copy(rounds, p.rounds)
	p.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.repo.SaveGameRecord(ctx, record); err != nil {
			log.Error("归档对局记录失败: %v", err)
			return
		}
		if err := p.repo.SaveRoundRecords(ctx, rounds); err != nil {
			log.Error("归档局记录失败: %v", err)
			return
		}
		log.Info("对局归档完成: room=%s, rounds=%d", record.RoomID, len(rounds))
	}()
}
