package tier

import (
	"context"
	"errors"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/internal/session"
	"pai-assistant-go/pkg/llm"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetrieval struct {
	queryCalls    int
	followUpCalls int
	result        *model.Result
	err           error
	gotProfile    map[string]interface{}
	gotPending    model.PendingFollowUp
}

func (f *fakeRetrieval) ProcessQuery(_ context.Context, _ string, profile map[string]interface{}) (*model.Result, error) {
	f.queryCalls++
	f.gotProfile = profile
	return f.result, f.err
}

func (f *fakeRetrieval) ProcessFollowUpResponse(_ context.Context, _ string, pending model.PendingFollowUp, _ map[string]interface{}) (*model.Result, error) {
	f.followUpCalls++
	f.gotPending = pending
	return f.result, f.err
}

type agentFunc func(ctx context.Context, query, userID string) (string, error)

func (f agentFunc) Ask(ctx context.Context, query, userID string) (string, error) {
	return f(ctx, query, userID)
}

type llmFunc func(ctx context.Context, msgs []llm.Message) (string, error)

func (f llmFunc) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	return f(ctx, msgs)
}

func TestFromResult(t *testing.T) {
	boom := errors.New("boom")

	f, ok := FromResult(NameRAG, nil, boom).(Failure)
	require.True(t, ok)
	assert.ErrorIs(t, f, boom)

	f, ok = FromResult(NameRAG, nil, nil).(Failure)
	require.True(t, ok)
	assert.ErrorIs(t, f, ErrEmptyResult)

	_, ok = FromResult(NameRAG, &model.Result{Message: "   "}, nil).(Failure)
	assert.True(t, ok)

	reply, ok := FromResult(NameRAG, &model.Result{Message: "hi", Intent: "greet", Action: "wave"}, nil).(Reply)
	require.True(t, ok)
	assert.Equal(t, Reply{Message: "hi", Intent: "greet", Action: "wave"}, reply)

	fu, ok := FromResult(NameRAG, &model.Result{
		Message:          "when?",
		Intent:           "book",
		RequiresFollowUp: true,
		PartialData:      map[string]interface{}{"name": "Ana"},
		MissingFields:    []string{"date"},
	}, nil).(FollowUpRequest)
	require.True(t, ok)
	assert.Equal(t, "book", fu.Intent)
	assert.Equal(t, []string{"date"}, fu.MissingFields)

	// 缺少 missingFields 时不视为追问
	_, ok = FromResult(NameRAG, &model.Result{Message: "when?", Intent: "book", RequiresFollowUp: true}, nil).(Reply)
	assert.True(t, ok)
}

func TestToResult(t *testing.T) {
	assert.Nil(t, ToResult(Failure{Tier: NameAgent, Err: ErrEmptyResult}))
	assert.Equal(t, &model.Result{Message: "m", Intent: "i"}, ToResult(Reply{Message: "m", Intent: "i"}))
	res := ToResult(FollowUpRequest{Message: "m", Intent: "i", MissingFields: []string{"x"}})
	assert.True(t, res.RequiresFollowUp)
	assert.Equal(t, []string{"x"}, res.MissingFields)
}

func TestRAGTierRoutesByPendingFollowUp(t *testing.T) {
	svc := &fakeRetrieval{result: &model.Result{Message: "done", Intent: "book"}}
	tr := NewRAGTier(svc)
	sess := session.New()
	sess.SetUserContext(map[string]interface{}{"city": "Lima"})

	assert.False(t, tr.Enabled(Input{RAGEnabled: false, Session: sess}))
	assert.True(t, tr.Enabled(Input{RAGEnabled: true, Session: sess}))

	out := tr.Attempt(context.Background(), Input{Text: "hi", RAGEnabled: true, Session: sess})
	assert.IsType(t, Reply{}, out)
	assert.Equal(t, 1, svc.queryCalls)
	assert.Equal(t, "Lima", svc.gotProfile["city"])

	sess.SetPendingFollowUp("book", map[string]interface{}{"date": "monday"}, []string{"time"})
	out = tr.Attempt(context.Background(), Input{Text: "at 3pm", RAGEnabled: true, Session: sess})
	assert.IsType(t, Reply{}, out)
	assert.Equal(t, 1, svc.followUpCalls)
	assert.Equal(t, "book", svc.gotPending.Intent)
	assert.False(t, sess.HasPendingFollowUp())
}

func TestRAGTierFailureStillClearsPending(t *testing.T) {
	svc := &fakeRetrieval{err: errors.New("index unavailable")}
	sess := session.New()
	sess.SetPendingFollowUp("book", nil, []string{"time"})

	out := NewRAGTier(svc).Attempt(context.Background(), Input{Text: "x", RAGEnabled: true, Session: sess})
	assert.IsType(t, Failure{}, out)
	assert.False(t, sess.HasPendingFollowUp())
}

func TestAgentTier(t *testing.T) {
	sess := session.New()
	in := Input{Text: "q", UserID: "u-1", Session: sess}

	ok := NewAgentTier(agentFunc(func(_ context.Context, query, userID string) (string, error) {
		assert.Equal(t, "q", query)
		assert.Equal(t, "u-1", userID)
		return "from agent", nil
	}), 0)
	assert.Equal(t, Reply{Message: "from agent", Intent: model.IntentBackendFallback}, ok.Attempt(context.Background(), in))
	assert.Equal(t, DefaultAgentTimeout, ok.timeout)

	empty := NewAgentTier(agentFunc(func(context.Context, string, string) (string, error) { return " ", nil }), 0)
	f, isFailure := empty.Attempt(context.Background(), in).(Failure)
	require.True(t, isFailure)
	assert.ErrorIs(t, f, ErrEmptyResult)

	slow := NewAgentTier(agentFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 20*time.Millisecond)
	f, isFailure = slow.Attempt(context.Background(), in).(Failure)
	require.True(t, isFailure)
	assert.ErrorIs(t, f, ErrTimeout)
	assert.Equal(t, NameAgent, f.Tier)
}

func TestLocalTierBoundsHistory(t *testing.T) {
	sess := session.New()
	for i := 0; i < 5; i++ {
		sess.AddMessage(model.RoleUser, string(rune('a'+i)))
	}

	var got []llm.Message
	tr := NewLocalTier(llmFunc(func(_ context.Context, msgs []llm.Message) (string, error) {
		got = msgs
		return "Hi", nil
	}), 2)

	out := tr.Attempt(context.Background(), Input{Session: sess})
	assert.Equal(t, Reply{Message: "Hi", Intent: model.IntentLocalLLM}, out)
	assert.Equal(t, []llm.Message{{Role: "user", Content: "d"}, {Role: "user", Content: "e"}}, got)
}

func TestLocalTierFailure(t *testing.T) {
	boom := errors.New("runtime crashed")
	tr := NewLocalTier(llmFunc(func(context.Context, []llm.Message) (string, error) { return "", boom }), 0)
	f, ok := tr.Attempt(context.Background(), Input{Session: session.New()}).(Failure)
	require.True(t, ok)
	assert.ErrorIs(t, f, boom)
}
