package handler

import (
	"net/http"
	"pai-assistant-go/internal/repository"
	"pai-assistant-go/pkg/log"
	"strconv"

	"github.com/gin-gonic/gin"
)

// TurnHandler 提供已归档问答记录的查询。
type TurnHandler struct {
	turns  repository.TurnRepository
	userID string
}

// NewTurnHandler 创建一个新的 TurnHandler。turns 为 nil 表示归档未启用。
func NewTurnHandler(turns repository.TurnRepository, userID string) *TurnHandler {
	return &TurnHandler{turns: turns, userID: userID}
}

// ListTurns 返回当前用户最近的问答记录，limit 默认 20。
func (h *TurnHandler) ListTurns(c *gin.Context) {
	if h.turns == nil {
		respond(c, http.StatusServiceUnavailable, "对话归档未启用", nil)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		respond(c, http.StatusBadRequest, "limit 必须是 1 到 200 之间的整数", nil)
		return
	}
	turns, err := h.turns.FindRecentByUser(h.userID, limit)
	if err != nil {
		log.Errorf("查询归档问答失败: %v", err)
		respond(c, http.StatusInternalServerError, "Failed to retrieve conversation turns", nil)
		return
	}
	ok(c, turns)
}
