package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"receipt-rag-go/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	qaHistoryLimit = 20
	qaHistoryTTL   = 7 * 24 * time.Hour
)

// QAHistoryRepository 定义了问答历史记录的操作接口。
type QAHistoryRepository interface {
	Append(ctx context.Context, userID uint, record model.QARecord) error
	List(ctx context.Context, userID uint) ([]model.QARecord, error)
	Clear(ctx context.Context, userID uint) error
}

type redisQAHistoryRepository struct {
	redisClient *redis.Client
}

// NewQAHistoryRepository 创建一个新的 QAHistoryRepository 实例。
func NewQAHistoryRepository(redisClient *redis.Client) QAHistoryRepository {
	return &redisQAHistoryRepository{redisClient: redisClient}
}

func qaHistoryKey(userID uint) string {
	return fmt.Sprintf("rag:history:%d", userID)
}

// Append 追加一条问答记录，只保留最近 20 条。
func (r *redisQAHistoryRepository) Append(ctx context.Context, userID uint, record model.QARecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal qa record: %w", err)
	}
	key := qaHistoryKey(userID)
	pipe := r.redisClient.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -qaHistoryLimit, -1)
	pipe.Expire(ctx, key, qaHistoryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append qa history: %w", err)
	}
	return nil
}

// List 按时间顺序返回问答历史。
func (r *redisQAHistoryRepository) List(ctx context.Context, userID uint) ([]model.QARecord, error) {
	items, err := r.redisClient.LRange(ctx, qaHistoryKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get qa history: %w", err)
	}
	records := make([]model.QARecord, 0, len(items))
	for _, item := range items {
		var rec model.QARecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal qa record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clear 删除用户的全部问答历史。
func (r *redisQAHistoryRepository) Clear(ctx context.Context, userID uint) error {
	return r.redisClient.Del(ctx, qaHistoryKey(userID)).Err()
}
