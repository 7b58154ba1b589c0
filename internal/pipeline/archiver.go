// Package pipeline 定义了后台处理流程：对话事件归档与知识库导入。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/internal/repository"
	"pai-assistant-go/pkg/events"
	"pai-assistant-go/pkg/log"
	"pai-assistant-go/pkg/storage"
)

// Archiver 消费对话事件：完成的问答写入 MySQL，被清空的对话记录上传到对象存储。
type Archiver struct {
	turns   repository.TurnRepository
	objects storage.ObjectStore
}

// NewArchiver 创建一个新的 Archiver。任一依赖为 nil 时对应事件被跳过。
func NewArchiver(turns repository.TurnRepository, objects storage.ObjectStore) *Archiver {
	return &Archiver{turns: turns, objects: objects}
}

// Process 处理一条对话事件。返回错误时消费者会重试。
func (a *Archiver) Process(ctx context.Context, event events.ConversationEvent) error {
	switch event.Type {
	case events.TurnCompleted:
		return a.archiveTurn(event)
	case events.ConversationCleared:
		return a.archiveTranscript(ctx, event)
	default:
		log.Warnf("[Archiver] 未知的事件类型: %s, 跳过", event.Type)
		return nil
	}
}

func (a *Archiver) archiveTurn(event events.ConversationEvent) error {
	if a.turns == nil {
		return nil
	}
	if event.Question == nil || event.Answer == nil {
		// 残缺事件重试也无法恢复
		log.Warnf("[Archiver] turn_completed 事件缺少问答内容, user: %s", event.UserID)
		return nil
	}
	turn := &model.ConversationTurn{
		UserID:      event.UserID,
		QuestionID:  event.Question.ID,
		Question:    event.Question.Content,
		AnswerID:    event.Answer.ID,
		Answer:      event.Answer.Content,
		Intent:      event.Intent,
		Tier:        event.Tier,
		CompletedAt: event.OccurredAt,
	}
	if err := a.turns.Create(turn); err != nil {
		return fmt.Errorf("保存问答记录失败: %w", err)
	}
	log.Infof("[Archiver] 问答已归档, user: %s, tier: %s, intent: %s", event.UserID, event.Tier, event.Intent)
	return nil
}

func (a *Archiver) archiveTranscript(ctx context.Context, event events.ConversationEvent) error {
	if a.objects == nil || len(event.Transcript) == 0 {
		return nil
	}
	data, err := json.Marshal(event.Transcript)
	if err != nil {
		return errors.New("无法序列化对话记录")
	}
	objectName := TranscriptObjectName(event)
	if err := a.objects.PutObject(ctx, objectName, data, "application/json"); err != nil {
		return fmt.Errorf("上传对话记录失败: %w", err)
	}
	log.Infof("[Archiver] 对话记录已归档到 %s, 共 %d 条消息", objectName, len(event.Transcript))
	return nil
}

// TranscriptObjectName 返回被清空对话的对象名。同一事件重试时得到相同的名字。
func TranscriptObjectName(event events.ConversationEvent) string {
	return fmt.Sprintf("transcripts/%s/%d.json", event.UserID, event.OccurredAt.UnixNano())
}
