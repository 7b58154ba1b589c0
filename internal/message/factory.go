// Package message 负责创建带唯一 ID 与展示时间戳的消息。
package message

import (
	"pai-assistant-go/internal/model"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout 是消息展示时间戳的格式。
const TimestampLayout = "03:04 PM"

// Factory 创建对话消息。
type Factory struct {
	now   func() time.Time
	newID func() string
}

// NewFactory 创建一个使用系统时钟与 UUID 的 Factory。
func NewFactory() *Factory {
	return &Factory{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// New 创建一条指定角色的消息。
func (f *Factory) New(role model.Role, content string) model.Message {
	return model.Message{
		ID:        f.newID(),
		Role:      role,
		Content:   content,
		Timestamp: f.now().Format(TimestampLayout),
	}
}

// NewUser 创建一条用户消息。
func (f *Factory) NewUser(content string) model.Message {
	return f.New(model.RoleUser, content)
}

// NewAssistant 创建一条助手消息。
func (f *Factory) NewAssistant(content string) model.Message {
	return f.New(model.RoleAssistant, content)
}
