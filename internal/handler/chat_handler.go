package handler

import (
	"context"
	"errors"
	"net/http"
	"pai-assistant-go/internal/service"
	"pai-assistant-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// terminalFailureMessage 是所有回复层都失败时展示给用户的唯一错误信息。
const terminalFailureMessage = "Sorry, I couldn't get a response right now. Please try again."

// ChatHandler 处理对话相关的 REST 与 WebSocket 请求。
type ChatHandler struct {
	chatService service.ChatService
	ragEnabled  bool
	initializer func(ctx context.Context) error
}

// NewChatHandler 创建一个新的 ChatHandler。ragEnabled 是请求未指定时的默认值。
func NewChatHandler(chatService service.ChatService, ragEnabled bool, initializer func(ctx context.Context) error) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		ragEnabled:  ragEnabled,
		initializer: initializer,
	}
}

type sendMessageRequest struct {
	Text       string `json:"text"`
	RAGEnabled *bool  `json:"ragEnabled"`
}

type profileRequest struct {
	Profile map[string]interface{} `json:"profile"`
}

func (h *ChatHandler) options(ragEnabled *bool) service.SendOptions {
	opts := service.SendOptions{RAGEnabled: h.ragEnabled, Initializer: h.initializer}
	if ragEnabled != nil {
		opts.RAGEnabled = *ragEnabled
	}
	return opts
}

// GetConversation 返回当前对话与生成状态。
func (h *ChatHandler) GetConversation(c *gin.Context) {
	ok(c, h.chatService.State())
}

// SendMessage 发送一条用户消息并返回回复结果。空白消息返回 data 为 null。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), req.Text, h.options(req.RAGEnabled))
	switch {
	case errors.Is(err, service.ErrGenerationCancelled):
		respond(c, http.StatusConflict, "对话已被重置", nil)
	case err != nil:
		log.Errorf("发送消息失败: %v", err)
		respond(c, http.StatusBadGateway, terminalFailureMessage, nil)
	default:
		ok(c, result)
	}
}

// ClearConversation 清空对话并使进行中的生成失效。
func (h *ChatHandler) ClearConversation(c *gin.Context) {
	h.chatService.ClearConversation(c.Request.Context())
	ok(c, h.chatService.State())
}

// SetProfile 用请求中的资料整体替换用户上下文。
func (h *ChatHandler) SetProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	if req.Profile == nil {
		req.Profile = map[string]interface{}{}
	}
	h.chatService.SetUserContext(req.Profile)
	ok(c, nil)
}
