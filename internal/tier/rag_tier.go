package tier

import (
	"context"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/internal/session"
)

// Retrieval 是检索增强服务的契约。
type Retrieval interface {
	ProcessQuery(ctx context.Context, text string, profile map[string]interface{}) (*model.Result, error)
	session.FollowUpResolver
}

// RAGTier 是第一层：仅在开启检索增强时尝试；存在待补充意图时走追问补全路径。
type RAGTier struct {
	svc Retrieval
}

func NewRAGTier(svc Retrieval) *RAGTier {
	return &RAGTier{svc: svc}
}

func (t *RAGTier) Name() string { return NameRAG }

func (t *RAGTier) Enabled(in Input) bool { return in.RAGEnabled && t.svc != nil }

func (t *RAGTier) Attempt(ctx context.Context, in Input) Outcome {
	if in.Session.HasPendingFollowUp() {
		res, err := in.Session.ProcessFollowUpResponse(ctx, in.Text, t.svc)
		return FromResult(NameRAG, res, err)
	}
	res, err := t.svc.ProcessQuery(ctx, in.Text, in.Session.UserContext())
	return FromResult(NameRAG, res, err)
}
