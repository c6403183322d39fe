// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"research-rag-go/internal/model"
	"research-rag-go/internal/service"
)

// 错误类别，出现在响应体的 error 字段
const (
	errKindValidation = "validation_error"
	errKindRetrieval  = "retrieval_error"
	errKindSynthesis  = "synthesis_error"
	errKindIngestion  = "ingestion_error"
	errKindInternal   = "internal_error"
)

var errMalformedRequest = errors.New("malformed request")

// classify 把业务错误映射为 HTTP 状态码与错误类别。
func classify(err error) (int, string) {
	var (
		synthErr     *model.SynthesisError
		retrievalErr *model.RetrievalError
		ingestErr    *model.IngestionError
	)
	switch {
	case errors.Is(err, errMalformedRequest),
		errors.Is(err, model.ErrEmptyQuery),
		errors.Is(err, model.ErrInvalidStrategy),
		errors.Is(err, service.ErrAsyncUnavailable):
		return http.StatusBadRequest, errKindValidation
	case errors.As(err, &synthErr):
		return http.StatusBadGateway, errKindSynthesis
	case errors.As(err, &retrievalErr):
		return http.StatusServiceUnavailable, errKindRetrieval
	case errors.As(err, &ingestErr):
		return http.StatusInternalServerError, errKindIngestion
	default:
		return http.StatusInternalServerError, errKindInternal
	}
}

// respondError 以统一的 {code, error, message} 结构返回错误。
func respondError(c *gin.Context, err error) {
	status, kind := classify(err)
	c.JSON(status, gin.H{"code": status, "error": kind, "message": err.Error()})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": errKindValidation, "message": message})
}
