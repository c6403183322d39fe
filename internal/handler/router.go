package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部 HTTP 路由。
func RegisterRoutes(r *gin.Engine, chat *ChatHandler, train *TrainHandler, docs *DocumentHandler) {
	r.GET("/ping", Ping)
	r.POST("/chat", chat.Chat)
	r.GET("/chat/ws", chat.Stream)
	r.GET("/train", train.Train)
	r.GET("/documents", docs.ListDocuments)
}
