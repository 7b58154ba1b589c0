// Package session 保存进程内的会话上下文：对话轮次、用户画像与待补充的多轮意图。
// 它独立于持久化的对话日志，用于构建模型提示。
package session

import (
	"context"
	"errors"
	"pai-assistant-go/internal/model"
	"sync"
)

// ErrNoPendingFollowUp 表示当前没有待补充的意图。
var ErrNoPendingFollowUp = errors.New("no pending follow-up")

// FollowUpResolver 根据用户的新输入与已收集的数据补全一个待处理意图。
type FollowUpResolver interface {
	ProcessFollowUpResponse(ctx context.Context, text string, pending model.PendingFollowUp, profile map[string]interface{}) (*model.Result, error)
}

// Context 是一个会话的内存状态，并发安全。
type Context struct {
	mu      sync.RWMutex
	history []model.ChatMessage
	profile map[string]interface{}
	// profileSet 表示画像已由调用方显式设置，默认画像不再覆盖它。
	profileSet bool
	pending    *model.PendingFollowUp
}

// New 创建一个空的会话上下文。
func New() *Context {
	return &Context{profile: map[string]interface{}{}}
}

// Hydrate 用持久化的对话日志替换会话中的对话轮次。
func (c *Context) Hydrate(messages []model.Message) {
	history := make([]model.ChatMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, model.ChatMessage{Role: m.Role, Content: m.Content})
	}
	c.mu.Lock()
	c.history = history
	c.mu.Unlock()
}

// AddMessage 追加一轮对话。本组件不限制长度。
func (c *Context) AddMessage(role model.Role, content string) {
	c.mu.Lock()
	c.history = append(c.history, model.ChatMessage{Role: role, Content: content})
	c.mu.Unlock()
}

// History 返回对话轮次的副本。
func (c *Context) History() []model.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.ChatMessage, len(c.history))
	copy(out, c.history)
	return out
}

// SetUserContext 覆盖（不合并）用户画像。
func (c *Context) SetUserContext(profile map[string]interface{}) {
	next := make(map[string]interface{}, len(profile))
	for k, v := range profile {
		next[k] = v
	}
	c.mu.Lock()
	c.profile = next
	c.profileSet = true
	c.mu.Unlock()
}

// SetDefaultUserContext 仅在调用方从未设置画像时写入默认画像，返回是否写入。
func (c *Context) SetDefaultUserContext(profile map[string]interface{}) bool {
	next := make(map[string]interface{}, len(profile))
	for k, v := range profile {
		next[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profileSet {
		return false
	}
	c.profile = next
	return true
}

// UserContext 返回用户画像的副本。
func (c *Context) UserContext() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.profile))
	for k, v := range c.profile {
		out[k] = v
	}
	return out
}

func (c *Context) HasPendingFollowUp() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending != nil
}

// PendingFollowUp 返回当前待补充意图的副本。
func (c *Context) PendingFollowUp() (model.PendingFollowUp, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pending == nil {
		return model.PendingFollowUp{}, false
	}
	return c.pending.Clone(), true
}

// SetPendingFollowUp 无条件替换当前待补充意图。
func (c *Context) SetPendingFollowUp(intent string, partialData map[string]interface{}, missingFields []string) {
	p := model.PendingFollowUp{
		Intent:        intent,
		PartialData:   partialData,
		MissingFields: missingFields,
	}.Clone()
	c.mu.Lock()
	c.pending = &p
	c.mu.Unlock()
}

func (c *Context) ClearPendingFollowUp() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// ProcessFollowUpResponse 交由 resolver 补全待处理意图。
// 无论补全成功与否，调用结束时待补充状态都已被清除，避免陷入追问循环；
// 若 resolver 需要继续追问，由调用方根据返回结果重新登记。
func (c *Context) ProcessFollowUpResponse(ctx context.Context, text string, resolver FollowUpResolver) (*model.Result, error) {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, ErrNoPendingFollowUp
	}
	pending := c.pending.Clone()
	c.pending = nil
	profile := make(map[string]interface{}, len(c.profile))
	for k, v := range c.profile {
		profile[k] = v
	}
	c.mu.Unlock()

	return resolver.ProcessFollowUpResponse(ctx, text, pending, profile)
}

// ClearConversationHistory 同时清空对话轮次与待补充意图。
func (c *Context) ClearConversationHistory() {
	c.mu.Lock()
	c.history = nil
	c.pending = nil
	c.mu.Unlock()
}
