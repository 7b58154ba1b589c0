// Package kafka 提供了与 Kafka 消息队列交互的功能：发布对话事件并消费归档任务。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pai-assistant-go/internal/config"
	"pai-assistant-go/pkg/events"
	"pai-assistant-go/pkg/log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单条事件处理失败后允许的最大尝试次数。
const maxAttempts = 3

// EventProcessor 处理一条对话事件。
type EventProcessor interface {
	Process(ctx context.Context, event events.ConversationEvent) error
}

// Publisher 把对话事件异步写入 Kafka。
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher 创建一个异步生产者，写入失败只记录日志，不阻塞调用方。
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Errorf("写入 Kafka 失败, 丢弃 %d 条对话事件: %v", len(messages), err)
			}
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Publisher{writer: w}
}

// Publish 发送一条对话事件，以 user_id 作为 key 保证同一用户的事件有序。
func (p *Publisher) Publish(ctx context.Context, event events.ConversationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
	})
}

// Close 刷新并关闭生产者。
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// retryBackoff 是同一事件两次处理之间的初始等待时间，每次失败后翻倍。
var retryBackoff = 500 * time.Millisecond

// StartConsumer 启动一个消费者处理对话事件，直到 ctx 被取消。
// 每条事件在提交 offset 前最多处理 maxAttempts 次；仍失败时记录日志并提交，避免阻塞后续事件。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor EventProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
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
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		if err := handleMessage(ctx, processor, m, retryBackoff); err != nil {
			if ctx.Err() != nil {
				// 停机时不提交，重启后重新消费
				return
			}
			log.Errorf("对话事件处理 %d 次仍失败，提交 offset 跳过: offset=%d, error: %v", maxAttempts, m.Offset, err)
		}
		commit(ctx, r, m)
	}
}

// handleMessage 解析并处理一条消息，失败时按指数退避重试，最多 maxAttempts 次。
// 无法解析的消息直接跳过，返回 nil。
func handleMessage(ctx context.Context, processor EventProcessor, m kafka.Message, backoff time.Duration) error {
	var event events.ConversationEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		// 消息格式错误，重试也无法恢复
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return nil
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = processor.Process(ctx, event); err == nil {
			return nil
		}
		log.Warnf("处理对话事件失败: type=%s, offset=%d, attempt=%d/%d, error: %v", event.Type, m.Offset, attempt, maxAttempts, err)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
