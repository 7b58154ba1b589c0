// Package agent 提供了远程对话代理服务的 HTTP 客户端。
package agent

import (
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

// ErrNonSuccessStatus 表示代理服务返回了非 2xx 状态码。
var ErrNonSuccessStatus = errors.New("agent returned non-success status")

// Client 定义了远程代理客户端的接口。
type Client interface {
	// Ask 发送一次查询并返回代理的回复文本。超时由调用方通过 ctx 控制。
	Ask(ctx context.Context, query, userID string) (string, error)
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

// NewClient 创建一个新的代理客户端。
func NewClient(cfg config.AgentConfig) Client {
	return &httpClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{},
	}
}

type agentRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

type agentResponse struct {
	Response string `json:"response"`
}

// Ask 调用 POST <base>/agent。
func (c *httpClient) Ask(ctx context.Context, query, userID string) (string, error) {
	reqBytes, err := json.Marshal(agentRequest{Query: query, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: %s, body: %s", ErrNonSuccessStatus, resp.Status, string(body))
	}

	var ar agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", fmt.Errorf("failed to decode agent response: %w", err)
	}
	return ar.Response, nil
}
