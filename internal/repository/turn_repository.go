package repository

import (
	"pai-assistant-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TurnRepository 定义了对 conversation_turns 归档表的数据操作接口。
type TurnRepository interface {
	// Create 写入一条问答记录；相同 QuestionID 的重复写入被忽略，保证消费重试幂等。
	Create(turn *model.ConversationTurn) error
	FindRecentByUser(userID string, limit int) ([]model.ConversationTurn, error)
}

type turnRepository struct {
	db *gorm.DB
}

// NewTurnRepository 创建一个新的 TurnRepository 实例。
func NewTurnRepository(db *gorm.DB) TurnRepository {
	return &turnRepository{db: db}
}

func (r *turnRepository) Create(turn *model.ConversationTurn) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "question_id"}},
		DoNothing: true,
	}).Create(turn).Error
}

// FindRecentByUser 按完成时间倒序返回用户最近的问答记录。
func (r *turnRepository) FindRecentByUser(userID string, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	var turns []model.ConversationTurn
	err := r.db.Where("user_id = ?", userID).
		Order("completed_at DESC").
		Limit(limit).
		Find(&turns).Error
	return turns, err
}
