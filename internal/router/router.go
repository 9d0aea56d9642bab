package router

import (
	"github.com/gin-gonic/gin"

	"sudooom.market.messaging/internal/config"
	"sudooom.market.messaging/internal/handler"
	"sudooom.market.messaging/internal/jwt"
	"sudooom.market.messaging/internal/middleware"
)

// SetupRouter 设置路由
func SetupRouter(
	cfg *config.Config,
	jwtService *jwt.Service,
	chatHandler *handler.ChatHandler,
	wsHandler *handler.WSHandler,
) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowCredentials,
	))

	// API v1
	v1 := r.Group("/api/v1")
	{
		authenticated := v1.Group("")
		authenticated.Use(middleware.JWTAuth(jwtService))
		{
			// 会话接口
			conversations := authenticated.Group("/conversations")
			{
				conversations.GET("", chatHandler.ListConversations)
				conversations.POST("", chatHandler.CreateConversation)
				conversations.POST("/:id/select", chatHandler.SelectConversation)
				conversations.POST("/deselect", chatHandler.DeselectConversation)
				conversations.POST("/read", chatHandler.MarkRead)
				conversations.POST("/:id/archive", chatHandler.ArchiveConversation)
			}

			// 消息接口
			messages := authenticated.Group("/messages")
			{
				messages.GET("", chatHandler.ListMessages)
				messages.POST("", chatHandler.SendMessage)
				messages.POST("/:localId/retry", chatHandler.RetryMessage)
			}

			// 输入状态与未读
			authenticated.POST("/typing", chatHandler.Typing)
			authenticated.GET("/unread", chatHandler.TotalUnread)

			// 实时推送
			authenticated.GET("/ws", wsHandler.Stream)
		}
	}

	return r
}
