// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/pkg/log"
	"intranet-assistant-go/pkg/tasks"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个任务的最大处理次数，超过后提交 offset 放弃重试。
const maxAttempts = 3

// defaultRetryDelay 是同一任务两次处理之间的等待时间。
const defaultRetryDelay = 5 * time.Second

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.URLUpdateTask) error
}

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	IncrAttempts(ctx context.Context, key string) (int64, error)
	ResetAttempts(ctx context.Context, key string) error
}

// Producer 发送 URL 更新任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Enqueue 发送一个 URL 更新任务到 Kafka。以 URL 作为消息键，同一 URL 的任务按顺序处理。
func (p *Producer) Enqueue(ctx context.Context, task tasks.URLUpdateTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.URL),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 Consumer 用到的 kafka.Reader 方法子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 逐条处理 URL 更新任务。一条任务处理完毕后才读取下一条。
// 消费组在 FetchMessage 后即越过该消息，失败的任务在 handle 内重试，不依赖重新投递。
type Consumer struct {
	reader     messageReader
	processor  TaskProcessor
	attempts   AttemptCounter
	retryDelay time.Duration
}

// NewConsumer 创建一个 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, attempts: attempts, retryDelay: defaultRetryDelay}
}

// Run 阻塞运行消费循环，直到 ctx 被取消或读取失败。
func (c *Consumer) Run(ctx context.Context) {
	log.Info("Kafka 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.URLUpdateTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.URL == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	// 计数保存在 Redis 中，进程在重试途中重启后，未提交的消息被重新投递时继续累计
	attemptsKey := "kafka:attempts:" + task.URL
	for {
		attempts, err := c.attempts.IncrAttempts(ctx, attemptsKey)
		if err != nil {
			log.Warnf("读取任务重试次数失败, 按首次处理: URL=%s, Error: %v", task.URL, err)
			attempts = 1
		}
		if attempts > maxAttempts {
			log.Errorf("URL 更新任务已失败 %d 次，放弃: URL=%s", maxAttempts, task.URL)
			break
		}

		err = c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("URL 更新任务处理成功: URL=%s", task.URL)
			break
		}
		if ctx.Err() != nil {
			// 停机时不提交 offset，重启后继续处理
			return
		}
		log.Errorf("处理 URL 更新任务失败(第 %d 次): URL=%s, Error: %v", attempts, task.URL, err)
		if attempts >= maxAttempts {
			log.Errorf("URL 更新任务已失败 %d 次，放弃: URL=%s", maxAttempts, task.URL)
			break
		}
		if !c.wait(ctx) {
			return
		}
	}

	if err := c.attempts.ResetAttempts(ctx, attemptsKey); err != nil {
		log.Warnf("重置任务重试次数失败: URL=%s, Error: %v", task.URL, err)
	}
	c.commit(ctx, m)
}

// wait 在两次重试之间等待，ctx 取消时返回 false。
func (c *Consumer) wait(ctx context.Context) bool {
	if c.retryDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
