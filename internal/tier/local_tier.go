package tier

import (
	"context"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/pkg/llm"
)

// LocalTier 是最后一层：用会话上下文提示本地模型。
type LocalTier struct {
	client       llm.Client
	historyLimit int
}

// NewLocalTier 创建本地生成层。historyLimit <= 0 表示不截断会话上下文。
func NewLocalTier(client llm.Client, historyLimit int) *LocalTier {
	return &LocalTier{client: client, historyLimit: historyLimit}
}

func (t *LocalTier) Name() string { return NameLocal }

func (t *LocalTier) Enabled(Input) bool { return t.client != nil }

func (t *LocalTier) Attempt(ctx context.Context, in Input) Outcome {
	history := in.Session.History()
	if t.historyLimit > 0 && len(history) > t.historyLimit {
		history = history[len(history)-t.historyLimit:]
	}
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	out, err := t.client.Generate(ctx, msgs)
	if err != nil {
		return Failure{Tier: NameLocal, Err: err}
	}
	if out == "" {
		return Failure{Tier: NameLocal, Err: ErrEmptyResult}
	}
	return Reply{Message: out, Intent: model.IntentLocalLLM}
}
