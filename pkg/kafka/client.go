// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"research-rag-go/internal/config"
	"research-rag-go/pkg/log"
	"research-rag-go/pkg/tasks"
)

// maxAttempts 是同一任务失败后重新投递的上限
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a train task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	ProcessTrainTask(ctx context.Context, task tasks.TrainTask) error
}

// Producer 发送入库任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceTrainTask 发送一个入库任务到 Kafka。
func (p *Producer) ProduceTrainTask(ctx context.Context, task tasks.TrainTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费入库任务并交给 TaskProcessor 同步处理。
type Consumer struct {
	reader *kafka.Reader
	// rdb 为空时不做失败计数，失败任务直接提交
	rdb *redis.Client
}

// NewConsumer 创建一个消费者。
func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, rdb: rdb}
}

// Run 循环读取消息直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context, processor TaskProcessor) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		c.handle(ctx, m, processor)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message, processor TaskProcessor) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.TrainTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	log.Infof("开始处理入库任务: task_id=%s, dir=%s, force=%t", task.TaskID, task.SourceDir, task.Force)
	if err := processor.ProcessTrainTask(ctx, task); err != nil {
		log.Errorf("处理入库任务失败: task_id=%s, error: %v", task.TaskID, err)
		if c.shouldRetry(ctx, task.TaskID) {
			// 不提交 offset，让 Kafka 重新投递
			return
		}
		log.Errorf("入库任务多次失败(>=%d)，提交 offset 终止重试: task_id=%s", maxAttempts, task.TaskID)
		c.commit(ctx, m)
		return
	}

	log.Infof("入库任务处理成功: task_id=%s", task.TaskID)
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, attemptsKey(task.TaskID)).Err()
	}
	c.commit(ctx, m)
}

// shouldRetry 用 Redis 计数失败次数，未达到阈值时返回 true。
func (c *Consumer) shouldRetry(ctx context.Context, taskID string) bool {
	if c.rdb == nil {
		return false
	}
	key := attemptsKey(taskID)
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Redis 异常时保守处理：让 Kafka 重试
		return true
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts < maxAttempts
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func brokerList(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
