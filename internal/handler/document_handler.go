package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"research-rag-go/internal/service"
	"research-rag-go/pkg/log"
)

// DocumentHandler 负责处理入库台账的查询请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// ListDocuments 处理 GET /documents。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	docs, err := h.docService.ListDocuments()
	if err != nil {
		log.Error("ListDocuments: failed", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取已入库文件列表成功",
		"data":    docs,
	})
}
