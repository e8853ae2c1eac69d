package archive

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/JackieWYB/majiang-sub001/internal/game"
)

// GameRecord 一场对局的归档元数据（聚合根）
type GameRecord struct {
	ID        primitive.ObjectID `bson:"_id"`
	RoomID    string             `bson:"room_id"`
	GameID    string             `bson:"game_id"`
	GameType  string             `bson:"game_type"` // "xuezhan_3p"
	Players   []PlayerInfo       `bson:"players"`
	Seed      int64              `bson:"seed"`
	StartTime time.Time          `bson:"start_time"`
	EndTime   time.Time          `bson:"end_time"`
	Duration  int                `bson:"duration"` // 秒
	Status    string             `bson:"status"`   // "in_progress", "completed", "aborted"
	CreatedAt time.Time          `bson:"created_at"`
}

// PlayerInfo 座位与用户
type PlayerInfo struct {
	UserID    string `bson:"user_id"`
	SeatIndex int    `bson:"seat_index"`
}

// RoundRecord 单局记录：事件流加结算
type RoundRecord struct {
	ID          primitive.ObjectID     `bson:"_id"`
	GameRecordID primitive.ObjectID    `bson:"game_record_id"`
	Round       int                    `bson:"round"`
	Events      []RoundEvent           `bson:"events"`
	Settlement  *game.SettlementResult `bson:"settlement,omitempty"`
	CreatedAt   time.Time              `bson:"created_at"`
}

// RoundEvent 局内事件
type RoundEvent struct {
	Seq    int             `bson:"seq"`
	Seat   int             `bson:"seat"`
	Action game.ActionType `bson:"action"`
	Tile   string          `bson:"tile"`
	At     time.Time       `bson:"at"`
}

// NewGameRecord 创建归档元数据
func NewGameRecord(roomID, gameID string, seed int64, userIDs []string) *GameRecord {
	players := make([]PlayerInfo, 0, len(userIDs))
	for i, id := range userIDs {
		players = append(players, PlayerInfo{UserID: id, SeatIndex: i})
	}
	return &GameRecord{
		ID:        primitive.NewObjectID(),
		RoomID:    roomID,
		GameID:    gameID,
		GameType:  "xuezhan_3p",
		Players:   players,
		Seed:      seed,
		StartTime: time.Now(),
		Status:    "in_progress",
		CreatedAt: time.Now(),
	}
}
