// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"kidsafe-go/internal/config"
	"kidsafe-go/pkg/log"
	"kidsafe-go/pkg/tasks"
)

// maxAttempts 同一任务失败达到该次数后提交 offset，不再重试。
const maxAttempts = 3

var retryDelay = 2 * time.Second

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.InsightTask) error
}

// Producer 投递分析任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一个分析任务到 Kafka。
func (p *Producer) Publish(ctx context.Context, task tasks.InsightTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Key()),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// StartConsumer 启动一个 Kafka 消费者来处理分析任务，ctx 取消后退出。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "kidsafe-go-consumer"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if !processWithRetry(ctx, m.Value, processor, rdb) {
			break
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// processWithRetry 原地重试一条消息直到应提交 offset，ctx 结束时返回 false。
// 未提交的消息不会被同一 reader 重新投递。Redis 不可用时按本地计数，
// 本地失败达到 maxAttempts 次也提交。
func processWithRetry(ctx context.Context, value []byte, processor TaskProcessor, rdb *redis.Client) bool {
	for attempt := 1; ; attempt++ {
		if handleMessage(ctx, value, processor, rdb) {
			return ctx.Err() == nil
		}
		if attempt >= maxAttempts {
			log.Errorf("分析任务本地重试 %d 次仍未完成，提交 offset", attempt)
			return ctx.Err() == nil
		}
		if !wait(ctx, retryDelay) {
			return false
		}
	}
}

// handleMessage 处理一条消息，返回是否应提交 offset。
func handleMessage(ctx context.Context, value []byte, processor TaskProcessor, rdb *redis.Client) bool {
	var task tasks.InsightTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.Key())
	log.Infof("开始处理分析任务: childId=%s, sessionId=%s", task.ChildID, task.SessionID)
	if err := processor.Process(ctx, task); err != nil {
		log.Errorf("处理分析任务失败: childId=%s, Error: %v", task.ChildID, err)
		// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
		attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return false
		}
		_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("分析任务多次失败(>=%d)，提交 offset 终止重试: childId=%s", maxAttempts, task.ChildID)
			_ = rdb.Del(ctx, attemptsKey).Err()
			return true
		}
		return false
	}

	log.Infof("分析任务处理成功: childId=%s", task.ChildID)
	_ = rdb.Del(ctx, attemptsKey).Err()
	return true
}

// wait 等待 d，ctx 先结束时返回 false。
func wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
