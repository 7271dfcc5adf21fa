package repository

import (
	"context"
	"errors"
	"fmt"
	"receipt-rag-go/internal/model"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const ingestionStatusTTL = 7 * 24 * time.Hour

// ErrTaskNotFound 表示任务状态不存在或已过期。
var ErrTaskNotFound = errors.New("ingestion task not found")

// IngestionStatusRepository 在 Redis 中记录异步入库任务的状态。
type IngestionStatusRepository interface {
	Save(ctx context.Context, status model.IngestionStatus) error
	Get(ctx context.Context, taskID string) (*model.IngestionStatus, error)
}

type redisIngestionStatusRepository struct {
	redisClient *redis.Client
}

// NewIngestionStatusRepository 创建一个新的 IngestionStatusRepository 实例。
func NewIngestionStatusRepository(redisClient *redis.Client) IngestionStatusRepository {
	return &redisIngestionStatusRepository{redisClient: redisClient}
}

func ingestionKey(taskID string) string {
	return "receipt:ingest:" + taskID
}

func (r *redisIngestionStatusRepository) Save(ctx context.Context, status model.IngestionStatus) error {
	key := ingestionKey(status.TaskID)
	fields := map[string]interface{}{
		"task_id":    status.TaskID,
		"user_id":    strconv.FormatUint(uint64(status.UserID), 10),
		"file_name":  status.FileName,
		"status":     string(status.Status),
		"receipt_id": strconv.FormatUint(uint64(status.ReceiptID), 10),
		"error":      status.Error,
		"updated_at": time.Now().Format(time.RFC3339),
	}
	pipe := r.redisClient.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ingestionStatusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save ingestion status: %w", err)
	}
	return nil
}

func (r *redisIngestionStatusRepository) Get(ctx context.Context, taskID string) (*model.IngestionStatus, error) {
	fields, err := r.redisClient.HGetAll(ctx, ingestionKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrTaskNotFound
	}
	userID, _ := strconv.ParseUint(fields["user_id"], 10, 64)
	receiptID, _ := strconv.ParseUint(fields["receipt_id"], 10, 64)
	updatedAt, _ := time.Parse(time.RFC3339, fields["updated_at"])
	return &model.IngestionStatus{
		TaskID:    fields["task_id"],
		UserID:    uint(userID),
		FileName:  fields["file_name"],
		Status:    model.TaskState(fields["status"]),
		ReceiptID: uint(receiptID),
		Error:     fields["error"],
		UpdatedAt: updatedAt,
	}, nil
}
