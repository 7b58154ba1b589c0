package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/internal/repository"
	"pai-assistant-go/internal/service"
	"pai-assistant-go/internal/tier"
	"pai-assistant-go/pkg/kv"
	"pai-assistant-go/pkg/llm"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type llmFunc func(ctx context.Context, msgs []llm.Message) (string, error)

func (f llmFunc) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	return f(ctx, msgs)
}

type fakeTurns struct {
	turns []model.ConversationTurn
	err   error
	limit int
}

func (f *fakeTurns) Create(*model.ConversationTurn) error { return nil }

func (f *fakeTurns) FindRecentByUser(_ string, limit int) ([]model.ConversationTurn, error) {
	f.limit = limit
	return f.turns, f.err
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(t *testing.T, generate llmFunc, turns repository.TurnRepository) (*gin.Engine, service.ChatService) {
	t.Helper()
	repo := repository.NewConversationRepository(kv.NewMemoryStore(), "")
	svc := service.NewChatService(repo, []tier.Tier{tier.NewLocalTier(generate, 20)}, nil, "u-1")
	svc.Restore(context.Background())

	r := gin.New()
	RegisterRoutes(r, NewChatHandler(svc, false, nil), NewTurnHandler(turns, "u-1"))
	return r, svc
}

func echo(reply string) llmFunc {
	return func(context.Context, []llm.Message) (string, error) { return reply, nil }
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestSendMessageEndpoint(t *testing.T) {
	r, _ := newRouter(t, echo("Hi"), nil)

	code, env := do(t, r, http.MethodPost, "/api/v1/chat/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusOK, code)
	var result model.Result
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "Hi", result.Message)
	assert.Equal(t, model.IntentLocalLLM, result.Intent)

	code, env = do(t, r, http.MethodGet, "/api/v1/chat/conversation", "")
	require.Equal(t, http.StatusOK, code)
	var state service.State
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.False(t, state.IsGenerating)
	require.Len(t, state.Conversation, 2)
	assert.Equal(t, "Hello", state.Conversation[0].Content)
	assert.Equal(t, "Hi", state.Conversation[1].Content)
}

func TestSendMessageBlankAndInvalid(t *testing.T) {
	r, svc := newRouter(t, echo("Hi"), nil)

	code, env := do(t, r, http.MethodPost, "/api/v1/chat/messages", `{"text":"  "}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "null", string(env.Data))

	code, _ = do(t, r, http.MethodPost, "/api/v1/chat/messages", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, svc.State().Conversation)
}

func TestSendMessageTerminalFailure(t *testing.T) {
	r, svc := newRouter(t, func(context.Context, []llm.Message) (string, error) {
		return "", errors.New("model offline")
	}, nil)

	code, env := do(t, r, http.MethodPost, "/api/v1/chat/messages", `{"text":"Hello","ragEnabled":true}`)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, terminalFailureMessage, env.Message)
	assert.NotContains(t, env.Message, "model offline")
	assert.Len(t, svc.State().Conversation, 1)
	assert.False(t, svc.IsGenerating())
}

func TestClearConversationEndpoint(t *testing.T) {
	r, svc := newRouter(t, echo("Hi"), nil)
	do(t, r, http.MethodPost, "/api/v1/chat/messages", `{"text":"Hello"}`)
	require.Len(t, svc.State().Conversation, 2)

	code, _ := do(t, r, http.MethodDelete, "/api/v1/chat/conversation", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, svc.State().Conversation)
}

func TestSetProfileEndpoint(t *testing.T) {
	r, _ := newRouter(t, echo("Hi"), nil)

	code, _ := do(t, r, http.MethodPut, "/api/v1/chat/profile", `{"profile":{"name":"Ana"}}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, r, http.MethodPut, "/api/v1/chat/profile", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListTurnsEndpoint(t *testing.T) {
	r, _ := newRouter(t, echo("Hi"), nil)
	code, _ := do(t, r, http.MethodGet, "/api/v1/chat/turns", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	turns := &fakeTurns{turns: []model.ConversationTurn{{UserID: "u-1", Question: "Hello", Answer: "Hi"}}}
	r, _ = newRouter(t, echo("Hi"), turns)

	code, env := do(t, r, http.MethodGet, "/api/v1/chat/turns?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5, turns.limit)
	var got []model.ConversationTurn
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Hi", got[0].Answer)

	code, _ = do(t, r, http.MethodGet, "/api/v1/chat/turns?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	turns.err = errors.New("db down")
	code, _ = do(t, r, http.MethodGet, "/api/v1/chat/turns", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

type wsMessage struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func dial(t *testing.T, r http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chat/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil 读取事件直到出现指定类型，返回途中收到的全部事件。
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []wsMessage {
	t.Helper()
	var seen []wsMessage
	for {
		msg := read(t, conn)
		seen = append(seen, msg)
		if msg.Type == typ {
			return seen
		}
	}
}

func TestWebSocketReply(t *testing.T) {
	r, _ := newRouter(t, echo("Hi"), nil)
	conn := dial(t, r)

	assert.Equal(t, eventState, read(t, conn).Type)
	require.NoError(t, conn.WriteJSON(wsInbound{Type: inboundMessage, Text: "Hello"}))

	seen := readUntil(t, conn, eventReply)
	assert.Equal(t, eventGenerating, seen[0].Type)
	assert.Equal(t, "true", string(seen[0].Data))

	var result model.Result
	require.NoError(t, json.Unmarshal(seen[len(seen)-1].Data, &result))
	assert.Equal(t, "Hi", result.Message)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: "dance"}))
	msg := readUntil(t, conn, eventError)
	assert.Contains(t, msg[len(msg)-1].Message, "dance")
}

func TestWebSocketClearDuringGeneration(t *testing.T) {
	gate := make(chan struct{})
	r, svc := newRouter(t, func(ctx context.Context, _ []llm.Message) (string, error) {
		select {
		case <-gate:
			return "late reply", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}, nil)
	conn := dial(t, r)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: inboundMessage, Text: "Hello"}))
	generating := read(t, conn)
	require.Equal(t, eventGenerating, generating.Type)
	require.Equal(t, "true", string(generating.Data))

	require.NoError(t, conn.WriteJSON(wsInbound{Type: inboundClear}))
	readUntil(t, conn, eventCleared)
	close(gate)

	done := readUntil(t, conn, eventGenerating)
	assert.Equal(t, "false", string(done[len(done)-1].Data))
	for _, m := range done {
		assert.NotEqual(t, eventReply, m.Type)
	}

	// 被丢弃的回复不会出现在清空之后
	require.NoError(t, conn.WriteJSON(wsInbound{Type: inboundClear}))
	assert.Equal(t, eventCleared, read(t, conn).Type)
	assert.Empty(t, svc.State().Conversation)
}

// profileTier 记录它看到的用户画像并给出固定回复。
type profileTier struct {
	seen map[string]interface{}
}

func (p *profileTier) Name() string { return tier.NameLocal }
func (p *profileTier) Enabled(tier.Input) bool { return true }
func (p *profileTier) Attempt(_ context.Context, in tier.Input) tier.Outcome {
	p.seen = in.Session.UserContext()
	return tier.Reply{Message: "ok", Intent: model.IntentLocalLLM}
}

func TestProfileSurvivesDefaultInitializer(t *testing.T) {
	recorder := &profileTier{}
	repo := repository.NewConversationRepository(kv.NewMemoryStore(), "")
	svc := service.NewChatService(repo, []tier.Tier{recorder}, nil, "u-1")
	r := gin.New()
	initializer := service.ProfileInitializer(svc, map[string]interface{}{"name": "config-default"})
	RegisterRoutes(r, NewChatHandler(svc, false, initializer), NewTurnHandler(nil, "u-1"))

	code, _ := do(t, r, http.MethodPut, "/api/v1/chat/profile", `{"profile":{"name":"Ana"}}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/chat/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"name": "Ana"}, recorder.seen)
}

func TestDefaultProfileAppliedWhenUnset(t *testing.T) {
	recorder := &profileTier{}
	repo := repository.NewConversationRepository(kv.NewMemoryStore(), "")
	svc := service.NewChatService(repo, []tier.Tier{recorder}, nil, "u-1")
	r := gin.New()
	initializer := service.ProfileInitializer(svc, map[string]interface{}{"name": "config-default"})
	RegisterRoutes(r, NewChatHandler(svc, false, initializer), NewTurnHandler(nil, "u-1"))

	code, _ := do(t, r, http.MethodPost, "/api/v1/chat/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"name": "config-default"}, recorder.seen)
}
