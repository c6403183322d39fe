package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"research-rag-go/internal/service"
	"research-rag-go/pkg/log"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatRequest 是 POST /chat 的请求体，检索参数可选，缺省取配置值。
type ChatRequest struct {
	Message  string   `json:"message" binding:"required"`
	Strategy string   `json:"strategy"`
	TopK     *int     `json:"topK"`
	FetchK   *int     `json:"fetchK"`
	Lambda   *float64 `json:"lambda"`
}

// params 用请求中的覆盖项合并默认检索参数。
func (r ChatRequest) params(defaults service.RetrieveParams) service.RetrieveParams {
	p := defaults
	if r.Strategy != "" {
		p.Strategy = service.Strategy(r.Strategy)
	}
	if r.TopK != nil {
		p.TopK = *r.TopK
	}
	if r.FetchK != nil {
		p.FetchK = *r.FetchK
	}
	if r.Lambda != nil {
		p.Lambda = *r.Lambda
	}
	return p
}

// ChatHandler 负责处理问答请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 处理 POST /chat。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "请求体必须是包含 message 字段的 JSON")
		return
	}

	answer, err := h.chatService.Answer(c.Request.Context(), req.Message, req.params(h.chatService.RetrievalDefaults()))
	if err != nil {
		log.Errorf("[ChatHandler] 问答失败, query: '%s', error: %v", req.Message, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// Stream 处理 GET /chat/ws：每条文本消息是一个问题（纯文本或 ChatRequest JSON），
// 回答以 {"chunk":"..."} 帧流式返回，并以 completion 帧结束。
func (h *ChatHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		req := ChatRequest{Message: string(message)}
		if len(message) > 0 && message[0] == '{' {
			if err := json.Unmarshal(message, &req); err != nil {
				h.writeStreamError(conn, errMalformedRequest)
				continue
			}
		}

		err = h.chatService.StreamAnswer(c.Request.Context(), req.Message, req.params(h.chatService.RetrievalDefaults()), conn)
		if err != nil {
			log.Errorf("处理流式响应失败, query: '%s', error: %v", req.Message, err)
			if !h.writeStreamError(conn, err) {
				return
			}
		}
	}
}

// writeStreamError 发送错误帧与 completion 帧，写入失败时返回 false。
func (h *ChatHandler) writeStreamError(conn *websocket.Conn, err error) bool {
	status, kind := classify(err)
	b, _ := json.Marshal(gin.H{"code": status, "error": kind, "message": err.Error()})
	if werr := conn.WriteMessage(websocket.TextMessage, b); werr != nil {
		return false
	}
	return service.SendCompletion(conn) == nil
}
