// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"receipt-rag-go/internal/config"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// MaxAttempts 是单个任务的最大处理次数，超过后提交 offset 放弃该消息。
const MaxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ReceiptIngestionTask) error
}

// Producer 发送入库任务。
type Producer interface {
	ProduceReceiptTask(ctx context.Context, task tasks.ReceiptIngestionTask) error
	Close() error
}

type writerProducer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) Producer {
	log.Info("Kafka 生产者初始化成功")
	return &writerProducer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

// ProduceReceiptTask 发送一个小票处理任务到 Kafka，以 task_id 作为消息 key。
func (p *writerProducer) ProduceReceiptTask(ctx context.Context, task tasks.ReceiptIngestionTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// Close 关闭底层 writer。
func (p *writerProducer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理小票任务，ctx 取消时退出。
// 失败次数记录在 Redis 中，达到 MaxAttempts 后提交 offset 终止重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者收到退出信号")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.ReceiptIngestionTask
		if err := json.Unmarshal(m.Value, &task); err != nil || task.TaskID == "" {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		handleWithRetry(ctx, rdb, processor, task)
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handleWithRetry 同步处理任务，失败时按 Redis 中的计数重试，最多 MaxAttempts 次。
func handleWithRetry(ctx context.Context, rdb *redis.Client, processor TaskProcessor, task tasks.ReceiptIngestionTask) {
	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.TaskID)
	for {
		log.Infof("开始处理小票任务: TaskID=%s, FileName=%s", task.TaskID, task.FileName)
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("小票任务处理成功: TaskID=%s", task.TaskID)
			_ = rdb.Del(ctx, attemptsKey).Err()
			return
		}
		log.Errorf("处理小票任务失败: TaskID=%s, Error: %v", task.TaskID, err)

		attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			log.Errorf("记录失败次数失败, 放弃任务: TaskID=%s, Error: %v", task.TaskID, incErr)
			return
		}
		_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= MaxAttempts {
			log.Errorf("小票任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", MaxAttempts, task.TaskID)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempts) * 2 * time.Second):
		}
	}
}
