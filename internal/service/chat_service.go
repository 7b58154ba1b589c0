// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"pai-assistant-go/internal/message"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/internal/repository"
	"pai-assistant-go/internal/session"
	"pai-assistant-go/internal/tier"
	"pai-assistant-go/pkg/events"
	"pai-assistant-go/pkg/log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrAllTiersFailed 表示所有回复层都失败了，这是唯一需要向用户展示的错误。
	ErrAllTiersFailed = errors.New("all tiers failed")
	// ErrGenerationCancelled 表示生成期间对话被重置，回复已被丢弃。
	ErrGenerationCancelled = errors.New("generation cancelled by conversation reset")
)

// SendOptions 控制一次发送。
type SendOptions struct {
	RAGEnabled bool
	// Initializer 在依赖上下文尚未初始化时调用；失败只记录日志，不阻止生成。
	Initializer func(ctx context.Context) error
}

// State 是对话的可观察状态。
type State struct {
	Conversation []model.Message `json:"conversation"`
	IsGenerating bool            `json:"isGenerating"`
}

// EventPublisher 发布对话事件。实现不应阻塞调用方。
type EventPublisher interface {
	Publish(ctx context.Context, event events.ConversationEvent) error
}

// ChatService 定义了对话编排的接口。
type ChatService interface {
	// Restore 从持久化存储恢复对话日志，并据此重建会话上下文。启动时调用一次。
	Restore(ctx context.Context)
	// SendMessage 依次尝试各回复层，返回第一个给出回复的层的结果。
	// 空白输入返回 (nil, nil)。并发发送不整体串行化：每次追加都基于最新对话，回复按提交先后入列。
	SendMessage(ctx context.Context, text string, opts SendOptions) (*model.Result, error)
	// ClearConversation 重置对话，并使所有进行中的生成失效。
	ClearConversation(ctx context.Context)
	SetUserContext(profile map[string]interface{})
	// SetDefaultUserContext 仅在调用方尚未设置画像时写入默认画像。
	SetDefaultUserContext(profile map[string]interface{}) bool
	State() State
	IsGenerating() bool
	Tracker() *GenerationTracker
}

type chatService struct {
	repo      repository.ConversationRepository
	factory   *message.Factory
	session   *session.Context
	tiers     []tier.Tier
	tracker   *GenerationTracker
	publisher EventPublisher
	userID    string

	// mu 保护 conversation，并把“校验 epoch + 提交”与清空操作串行化。
	mu           sync.Mutex
	conversation []model.Message
	epoch        atomic.Uint64

	initialized atomic.Bool
	initGroup   singleflight.Group
}

// NewChatService 创建一个新的 ChatService。tiers 按顺序尝试；publisher 可以为 nil。
func NewChatService(repo repository.ConversationRepository, tiers []tier.Tier, publisher EventPublisher, userID string) ChatService {
	return &chatService{
		repo:         repo,
		factory:      message.NewFactory(),
		session:      session.New(),
		tiers:        tiers,
		tracker:      NewGenerationTracker(),
		publisher:    publisher,
		userID:       userID,
		conversation: []model.Message{},
	}
}

func (s *chatService) Restore(ctx context.Context) {
	messages := s.repo.Load(ctx)
	s.mu.Lock()
	s.conversation = messages
	s.session.Hydrate(messages)
	s.mu.Unlock()
	log.Infof("[ChatService] 已恢复对话, 共 %d 条消息", len(messages))
}

func (s *chatService) SendMessage(ctx context.Context, text string, opts SendOptions) (*model.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	s.ensureInitialized(ctx, opts.Initializer)

	// 1. 追加用户消息：基于最新的对话读-改-写，而不是调用开始时的快照
	userMsg := s.factory.NewUser(text)
	s.mu.Lock()
	s.appendLocked(ctx, userMsg)
	s.mu.Unlock()

	release := s.tracker.Begin()
	defer release()

	// 2. 在尝试任何回复层之前铸造 epoch 令牌
	token := s.epoch.Load()

	// 3-6. 按固定顺序尝试各层，第一个给出回复的层胜出
	outcome, winner, lastFailure := s.runTiers(ctx, tier.Input{
		Text:       text,
		RAGEnabled: opts.RAGEnabled,
		UserID:     s.userID,
		Session:    s.session,
	})
	if outcome == nil {
		if s.epoch.Load() != token {
			log.Infow("对话已在生成期间被重置，所有回复层均失败", "error", lastFailure)
			return nil, ErrGenerationCancelled
		}
		log.Errorf("[ChatService] 所有回复层均失败, 最后错误: %v", lastFailure)
		if lastFailure != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllTiersFailed, lastFailure)
		}
		return nil, ErrAllTiersFailed
	}
	result := tier.ToResult(outcome)

	// 8-9. 唯一的提交点：epoch 不变才写入共享状态
	s.mu.Lock()
	if s.epoch.Load() != token {
		s.mu.Unlock()
		log.Infow("对话已在生成期间被重置，丢弃回复", "tier", winner, "intent", result.Intent)
		return nil, ErrGenerationCancelled
	}

	// 7. 追问登记：只有未被取消的结果才会改变待补充状态
	if fu, ok := outcome.(tier.FollowUpRequest); ok {
		s.session.SetPendingFollowUp(fu.Intent, fu.PartialData, fu.MissingFields)
	} else {
		s.session.ClearPendingFollowUp()
	}

	assistantMsg := s.factory.NewAssistant(result.Message)
	s.appendLocked(ctx, assistantMsg)
	s.mu.Unlock()

	log.Infow("回复已生成", "tier", winner, "intent", result.Intent, "followUp", result.RequiresFollowUp)
	s.publish(ctx, events.ConversationEvent{
		Type:       events.TurnCompleted,
		UserID:     s.userID,
		Tier:       winner,
		Intent:     result.Intent,
		Question:   &userMsg,
		Answer:     &assistantMsg,
		OccurredAt: time.Now(),
	})
	return result, nil
}

// appendLocked 追加消息、持久化并写入会话上下文。调用方必须持有 s.mu。
func (s *chatService) appendLocked(ctx context.Context, msg model.Message) {
	next := make([]model.Message, len(s.conversation), len(s.conversation)+1)
	copy(next, s.conversation)
	next = append(next, msg)
	s.conversation = next
	// 持久化失败不影响内存状态，错误已由 repository 记录
	_ = s.repo.Save(context.WithoutCancel(ctx), next)
	s.session.AddMessage(msg.Role, msg.Content)
}

func (s *chatService) runTiers(ctx context.Context, in tier.Input) (tier.Outcome, string, error) {
	var lastFailure error
	for _, t := range s.tiers {
		if !t.Enabled(in) {
			continue
		}
		switch out := t.Attempt(ctx, in).(type) {
		case tier.Reply, tier.FollowUpRequest:
			return out, t.Name(), nil
		case tier.Failure:
			log.Warnw("回复层失败，尝试下一层", "tier", out.Tier, "error", out.Err)
			lastFailure = out
		}
	}
	return nil, "", lastFailure
}

func (s *chatService) ensureInitialized(ctx context.Context, init func(ctx context.Context) error) {
	if init == nil || s.initialized.Load() {
		return
	}
	_, err, _ := s.initGroup.Do("init", func() (interface{}, error) {
		if s.initialized.Load() {
			return nil, nil
		}
		if err := init(ctx); err != nil {
			return nil, err
		}
		s.initialized.Store(true)
		return nil, nil
	})
	if err != nil {
		log.Warnf("[ChatService] 初始化失败，继续生成: %v", err)
	}
}

func (s *chatService) ClearConversation(ctx context.Context) {
	s.mu.Lock()
	s.epoch.Add(1)
	transcript := s.conversation
	s.conversation = []model.Message{}
	s.session.ClearConversationHistory()
	_ = s.repo.Save(context.WithoutCancel(ctx), s.conversation)
	s.mu.Unlock()

	log.Infof("[ChatService] 对话已重置, 丢弃 %d 条消息", len(transcript))
	if len(transcript) > 0 {
		s.publish(ctx, events.ConversationEvent{
			Type:       events.ConversationCleared,
			UserID:     s.userID,
			Transcript: transcript,
			OccurredAt: time.Now(),
		})
	}
}

func (s *chatService) SetUserContext(profile map[string]interface{}) {
	s.session.SetUserContext(profile)
}

func (s *chatService) SetDefaultUserContext(profile map[string]interface{}) bool {
	return s.session.SetDefaultUserContext(profile)
}

// ProfileInitializer 返回一个初始化函数，用配置中的默认画像填充尚未设置的用户上下文。
func ProfileInitializer(svc ChatService, defaults map[string]interface{}) func(ctx context.Context) error {
	return func(context.Context) error {
		if svc.SetDefaultUserContext(defaults) {
			log.Info("[ChatService] 已写入默认用户画像")
		}
		return nil
	}
}

func (s *chatService) State() State {
	s.mu.Lock()
	conv := make([]model.Message, len(s.conversation))
	copy(conv, s.conversation)
	s.mu.Unlock()
	return State{Conversation: conv, IsGenerating: s.tracker.IsGenerating()}
}

func (s *chatService) IsGenerating() bool {
	return s.tracker.IsGenerating()
}

func (s *chatService) Tracker() *GenerationTracker {
	return s.tracker
}

func (s *chatService) publish(ctx context.Context, event events.ConversationEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		log.Errorf("[ChatService] 发布对话事件失败, type: %s, error: %v", event.Type, err)
	}
}
