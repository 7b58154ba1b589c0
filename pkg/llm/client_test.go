package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"pai-assistant-go/internal/config"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks []string, check func(req chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			b, _ := json.Marshal(map[string]interface{}{
				"choices": []map[string]interface{}{{"delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestGenerateCollectsStream(t *testing.T) {
	srv := sseServer(t, []string{"Hi", " there"}, func(req chatRequest) {
		assert.True(t, req.Stream)
		assert.Equal(t, "tiny", req.Model)
		if assert.Len(t, req.Messages, 3) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, Message{Role: "user", Content: "Hello"}, req.Messages[2])
		}
		if assert.NotNil(t, req.MaxTokens) {
			assert.Equal(t, 64, *req.MaxTokens)
		}
		assert.Nil(t, req.TopP)
	})
	defer srv.Close()

	c := NewClient(config.LLMConfig{
		BaseURL:      srv.URL,
		Model:        "tiny",
		SystemPrompt: "be brief",
		Generation:   config.LLMGenerationConfig{MaxTokens: 64},
	})
	got, err := c.Generate(context.Background(), []Message{
		{Role: "assistant", Content: "earlier"},
		{Role: "user", Content: "Hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", got)
}

func TestGenerateEmptyCompletion(t *testing.T) {
	srv := sseServer(t, []string{"", "  "}, nil)
	defer srv.Close()

	_, err := NewClient(config.LLMConfig{BaseURL: srv.URL}).Generate(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestGenerateNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(config.LLMConfig{BaseURL: srv.URL}).Generate(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}
