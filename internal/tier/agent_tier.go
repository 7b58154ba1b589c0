package tier

import (
	"context"
	"errors"
	"fmt"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/pkg/agent"
	"strings"
	"time"
)

// DefaultAgentTimeout 是远程代理请求的默认截止时间。
const DefaultAgentTimeout = 10 * time.Second

// AgentTier 是第二层：向远程代理发送一次有截止时间的请求。
type AgentTier struct {
	client  agent.Client
	timeout time.Duration
}

func NewAgentTier(client agent.Client, timeout time.Duration) *AgentTier {
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}
	return &AgentTier{client: client, timeout: timeout}
}

func (t *AgentTier) Name() string { return NameAgent }

func (t *AgentTier) Enabled(Input) bool { return t.client != nil }

func (t *AgentTier) Attempt(ctx context.Context, in Input) Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.client.Ask(ctx, in.Text, in.UserID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, t.timeout, err)
		}
		return Failure{Tier: NameAgent, Err: err}
	}
	if strings.TrimSpace(resp) == "" {
		return Failure{Tier: NameAgent, Err: ErrEmptyResult}
	}
	return Reply{Message: resp, Intent: model.IntentBackendFallback}
}
