package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Ping 处理 GET /ping 健康检查。
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Pong"})
}
