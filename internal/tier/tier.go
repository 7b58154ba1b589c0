// Package tier 定义了按固定优先级依次尝试的回复生成层。
// 每一层把自己的结果归一为 Outcome：Reply、FollowUpRequest 或 Failure。
package tier

import (
	"context"
	"errors"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/internal/session"
	"strings"
)

const (
	NameRAG   = "rag"
	NameAgent = "agent"
	NameLocal = "local"
)

var (
	// ErrEmptyResult 表示该层没有给出可用的回复。
	ErrEmptyResult = errors.New("tier produced no usable response")
	// ErrTimeout 表示该层超过了截止时间。
	ErrTimeout = errors.New("tier deadline exceeded")
)

// Input 是一次尝试的输入。Session 已包含本轮刚追加的用户消息。
type Input struct {
	Text       string
	RAGEnabled bool
	UserID     string
	Session    *session.Context
}

// Tier 是一个回复生成层。
type Tier interface {
	Name() string
	// Enabled 报告本轮是否应尝试该层。
	Enabled(in Input) bool
	Attempt(ctx context.Context, in Input) Outcome
}

// Outcome 是一次尝试的结果，只能是 Reply、FollowUpRequest 或 Failure 之一。
type Outcome interface {
	outcome()
}

// Reply 是一条可以直接展示的回复。
type Reply struct {
	Message string
	Intent  string
	Action  interface{}
}

// FollowUpRequest 是一条需要用户补充信息的回复。
type FollowUpRequest struct {
	Message       string
	Intent        string
	PartialData   map[string]interface{}
	MissingFields []string
}

// Failure 表示该层失败，控制流应落到下一层。
type Failure struct {
	Tier string
	Err  error
}

func (Reply) outcome()           {}
func (FollowUpRequest) outcome() {}
func (Failure) outcome()         {}

func (f Failure) Error() string {
	return f.Tier + ": " + f.Err.Error()
}

func (f Failure) Unwrap() error {
	return f.Err
}

// FromResult 把检索增强服务的结果归一为 Outcome。
// 错误、空结果或空消息都视为失败；只有 intent 与缺失字段齐备时才是追问。
func FromResult(tierName string, res *model.Result, err error) Outcome {
	if err != nil {
		return Failure{Tier: tierName, Err: err}
	}
	if res == nil || strings.TrimSpace(res.Message) == "" {
		return Failure{Tier: tierName, Err: ErrEmptyResult}
	}
	if res.RequiresFollowUp && res.Intent != "" && len(res.MissingFields) > 0 {
		return FollowUpRequest{
			Message:       res.Message,
			Intent:        res.Intent,
			PartialData:   res.PartialData,
			MissingFields: res.MissingFields,
		}
	}
	return Reply{Message: res.Message, Intent: res.Intent, Action: res.Action}
}

// ToResult 把成功的 Outcome 转为返回给调用方的结果描述；Failure 返回 nil。
func ToResult(o Outcome) *model.Result {
	switch v := o.(type) {
	case Reply:
		return &model.Result{Message: v.Message, Intent: v.Intent, Action: v.Action}
	case FollowUpRequest:
		return &model.Result{
			Message:          v.Message,
			Intent:           v.Intent,
			RequiresFollowUp: true,
			PartialData:      v.PartialData,
			MissingFields:    v.MissingFields,
		}
	default:
		return nil
	}
}
