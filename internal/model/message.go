// Package model 包含了应用的数据模型定义。
package model

// Role 表示消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是对话日志中的一条消息，创建后不可变。
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ChatMessage 是会话上下文中的一轮对话，用于构建模型提示。
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
