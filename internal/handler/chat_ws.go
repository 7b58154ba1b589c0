package handler

import (
	"context"
	"errors"
	"net/http"
	"pai-assistant-go/internal/service"
	"pai-assistant-go/pkg/log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 本地助手，允许所有来源
	},
}

// 客户端发来的指令类型
const (
	inboundMessage = "message"
	inboundClear   = "clear"
)

// 推送给客户端的事件类型
const (
	eventState      = "state"
	eventReply      = "reply"
	eventError      = "error"
	eventCleared    = "cleared"
	eventGenerating = "generating"
)

type wsInbound struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	RAGEnabled *bool  `json:"ragEnabled"`
}

type wsEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn 串行化对同一连接的写操作，gorilla 连接不支持并发写。
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(event wsEvent) {
	event.Timestamp = time.Now().UnixMilli()
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteJSON(event); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
	}
}

// HandleWebSocket 处理一个 WebSocket 连接。
// 发送在独立的 goroutine 中执行，因此生成回复期间仍能收到清空指令。
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	ws := &wsConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	unsubscribe := h.chatService.Tracker().Subscribe(func(generating bool) {
		ws.send(wsEvent{Type: eventGenerating, Data: generating})
	})
	defer unsubscribe()

	log.Info("WebSocket 连接已建立")
	ws.send(wsEvent{Type: eventState, Data: h.chatService.State()})

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		switch in.Type {
		case inboundMessage:
			opts := h.options(in.RAGEnabled)
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				h.sendOverSocket(ctx, ws, text, opts)
			}(in.Text)
		case inboundClear:
			h.chatService.ClearConversation(ctx)
			ws.send(wsEvent{Type: eventCleared, Data: h.chatService.State()})
		default:
			ws.send(wsEvent{Type: eventError, Message: "unknown message type: " + in.Type})
		}
	}
}

func (h *ChatHandler) sendOverSocket(ctx context.Context, ws *wsConn, text string, opts service.SendOptions) {
	result, err := h.chatService.SendMessage(ctx, text, opts)
	switch {
	case errors.Is(err, service.ErrGenerationCancelled):
		// 被清空的生成不向客户端展示
	case err != nil:
		log.Errorf("处理 WebSocket 消息失败: %v", err)
		ws.send(wsEvent{Type: eventError, Message: terminalFailureMessage})
	case result != nil:
		ws.send(wsEvent{Type: eventReply, Data: result})
	}
}
