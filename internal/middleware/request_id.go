package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader 是请求 ID 的 HTTP 头
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey 是请求 ID 在 gin.Context 中的键
	RequestIDKey = "requestId"
)

// RequestID 沿用调用方传入的 X-Request-ID，否则生成一个新的，并回写到响应头。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
