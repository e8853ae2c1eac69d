package archive

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/JackieWYB/majiang-sub001/internal/database"
)

const (
	collGameRecords  = "game_records"
	collRoundRecords = "round_records"
)

// MongoRepository 归档仓储的 mongo 实现
type MongoRepository struct {
	db *mongo.Database
}

// NewMongoRepository 创建仓储
func NewMongoRepository(m *database.MongoManager) *MongoRepository {
	return &MongoRepository{db: m.Db}
}

func (r *MongoRepository) SaveGameRecord(ctx context.Context, record *GameRecord) error {
	_, err := r.db.Collection(collGameRecords).InsertOne(ctx, record)
	return err
}

func (r *MongoRepository) SaveRoundRecords(ctx context.Context, rounds []*RoundRecord) error {
	if len(rounds) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(rounds))
	for _, rr := range rounds {
		docs = append(docs, rr)
	}
	_, err := r.db.Collection(collRoundRecords).InsertMany(ctx, docs)
	return err
}
