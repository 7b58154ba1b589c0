// Package events 定义了发送到 Kafka 的对话事件结构。
package events

import (
	"pai-assistant-go/internal/model"
	"time"
)

// Type 是对话事件的类型。
type Type string

const (
	// TurnCompleted 表示一轮问答已提交到对话日志。
	TurnCompleted Type = "turn_completed"
	// ConversationCleared 表示对话被重置，事件携带重置前的完整记录。
	ConversationCleared Type = "conversation_cleared"
)

// ConversationEvent 是一条对话事件。
type ConversationEvent struct {
	Type       Type            `json:"type"`
	UserID     string          `json:"user_id"`
	Tier       string          `json:"tier,omitempty"`
	Intent     string          `json:"intent,omitempty"`
	Question   *model.Message  `json:"question,omitempty"`
	Answer     *model.Message  `json:"answer,omitempty"`
	Transcript []model.Message `json:"transcript,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
