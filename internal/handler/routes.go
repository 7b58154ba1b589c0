package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes 注册对话相关的全部路由。
func RegisterRoutes(r *gin.Engine, chat *ChatHandler, turns *TurnHandler) {
	apiV1 := r.Group("/api/v1")
	{
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/conversation", chat.GetConversation)
			chatGroup.DELETE("/conversation", chat.ClearConversation)
			chatGroup.POST("/messages", chat.SendMessage)
			chatGroup.PUT("/profile", chat.SetProfile)
			chatGroup.GET("/turns", turns.ListTurns)
		}
	}
	r.GET("/chat/ws", chat.HandleWebSocket)
}
