// Package llm provides a client for the local generation runtime (an OpenAI-compatible chat endpoint).
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"pai-assistant-go/internal/config"
	"strings"
)

// ErrEmptyCompletion 表示模型没有生成任何内容。
var ErrEmptyCompletion = errors.New("llm returned empty completion")

// Client defines the interface for a local generation client.
type Client interface {
	// Generate 以有序的角色消息作为上下文生成一条回复。
	Generate(ctx context.Context, messages []Message) (string, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client from config.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate 以流式方式调用聊天接口，并将所有分块拼接为完整回复。
func (c *openAICompatibleClient) Generate(ctx context.Context, messages []Message) (string, error) {
	if c.cfg.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: c.cfg.SystemPrompt}}, messages...)
	}
	var answer strings.Builder
	err := c.streamChatMessages(ctx, messages, func(chunk string) error {
		answer.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(answer.String())
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

func (c *openAICompatibleClient) buildRequest(messages []Message) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}
	// 从配置注入生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}
	return reqBody
}

func (c *openAICompatibleClient) streamChatMessages(ctx context.Context, messages []Message, onChunk func(string) error) error {
	reqBytes, err := json.Marshal(c.buildRequest(messages))
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			if data == "[DONE]" {
				return nil
			}

			var chunk chatResponse
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr == nil && len(chunk.Choices) > 0 {
				if cbErr := onChunk(chunk.Choices[0].Delta.Content); cbErr != nil {
					return cbErr
				}
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}
