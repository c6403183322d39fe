package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"research-rag-go/internal/service"
	"research-rag-go/pkg/log"
)

// TrainCompletedMessage 是同步入库完成时的提示信息
const TrainCompletedMessage = "embeddings completed!!"

// TrainHandler 负责处理入库请求。
type TrainHandler struct {
	trainService service.TrainService
}

// NewTrainHandler 创建一个新的 TrainHandler。
func NewTrainHandler(trainService service.TrainService) *TrainHandler {
	return &TrainHandler{trainService: trainService}
}

// Train 处理 GET /train。
// force=true 忽略入库台账；async=true 通过 Kafka 异步执行并返回 202。
func (h *TrainHandler) Train(c *gin.Context) {
	force, err := boolQuery(c, "force")
	if err != nil {
		respondBadRequest(c, "force 参数必须是布尔值")
		return
	}
	async, err := boolQuery(c, "async")
	if err != nil {
		respondBadRequest(c, "async 参数必须是布尔值")
		return
	}

	if async {
		taskID, err := h.trainService.Enqueue(c.Request.Context(), force)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "train task queued", "taskId": taskID})
		return
	}

	report, err := h.trainService.Train(c.Request.Context(), force)
	if err != nil {
		log.Errorf("[TrainHandler] 入库失败: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   TrainCompletedMessage,
		"documents": report.Documents,
		"chunks":    report.Chunks,
		"skipped":   report.Skipped,
		"errors":    report.Errors,
	})
}

func boolQuery(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
