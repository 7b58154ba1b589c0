package model

import "time"

// ConversationTurn 代表一次已完成的问答交互，归档到 MySQL。
type ConversationTurn struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"index;size:64;not null" json:"userId"`
	QuestionID  string    `gorm:"uniqueIndex;size:64;not null" json:"questionId"`
	Question    string    `gorm:"type:text;not null" json:"question"`
	AnswerID    string    `gorm:"size:64;not null" json:"answerId"`
	Answer      string    `gorm:"type:text;not null" json:"answer"`
	Intent      string    `gorm:"size:64" json:"intent"`
	Tier        string    `gorm:"size:32" json:"tier"`
	CompletedAt time.Time `gorm:"index" json:"completedAt"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ConversationTurn) TableName() string {
	return "conversation_turns"
}
