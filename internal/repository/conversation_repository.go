// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/pkg/kv"
	"pai-assistant-go/pkg/log"
)

// DefaultConversationKey 是持久化对话日志使用的固定 key。
const DefaultConversationKey = "chat_messages"

// ConversationRepository 定义了对话日志的持久化操作。
type ConversationRepository interface {
	// Load 读取持久化的对话。内部失败只记录日志，并按空对话处理。
	Load(ctx context.Context) []model.Message
	// Save 以整体覆盖的方式写入对话。失败会记录日志并返回。
	Save(ctx context.Context, messages []model.Message) error
}

type kvConversationRepository struct {
	store kv.Store
	key   string
}

// NewConversationRepository 创建一个基于键值存储的 ConversationRepository。
func NewConversationRepository(store kv.Store, key string) ConversationRepository {
	if key == "" {
		key = DefaultConversationKey
	}
	return &kvConversationRepository{store: store, key: key}
}

// Load 从键值存储恢复对话日志。
func (r *kvConversationRepository) Load(ctx context.Context) []model.Message {
	data, err := r.store.Get(ctx, r.key)
	if errors.Is(err, kv.ErrNotFound) {
		return []model.Message{} // 尚无历史
	}
	if err != nil {
		log.Errorf("[ConversationRepository] 读取对话失败, key: %s, error: %v", r.key, err)
		return []model.Message{}
	}
	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		log.Errorf("[ConversationRepository] 解析对话失败, key: %s, error: %v", r.key, err)
		return []model.Message{}
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return messages
}

// Save 将完整的对话日志序列化后写入键值存储。
func (r *kvConversationRepository) Save(ctx context.Context, messages []model.Message) error {
	if messages == nil {
		messages = []model.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		log.Errorf("[ConversationRepository] 序列化对话失败: %v", err)
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := r.store.Set(ctx, r.key, data); err != nil {
		log.Errorf("[ConversationRepository] 写入对话失败, key: %s, error: %v", r.key, err)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}
