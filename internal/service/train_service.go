package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"research-rag-go/internal/model"
	"research-rag-go/pkg/log"
	"research-rag-go/pkg/tasks"
)

// ErrAsyncUnavailable 表示未配置消息队列，无法异步入库。
var ErrAsyncUnavailable = errors.New("asynchronous ingestion requires kafka")

// Ingester 是入库流程的入口。
type Ingester interface {
	IngestDirectory(ctx context.Context, dir string, force bool) (*model.IngestReport, error)
}

// TaskProducer 投递异步入库任务。
type TaskProducer interface {
	ProduceTrainTask(ctx context.Context, task tasks.TrainTask) error
}

// TrainService 定义了入库操作的接口。
type TrainService interface {
	Train(ctx context.Context, force bool) (*model.IngestReport, error)
	Enqueue(ctx context.Context, force bool) (string, error)
	ProcessTrainTask(ctx context.Context, task tasks.TrainTask) error
}

type trainService struct {
	ingester  Ingester
	producer  TaskProducer
	sourceDir string
}

// NewTrainService 创建一个新的 TrainService 实例，producer 可为 nil。
func NewTrainService(ingester Ingester, producer TaskProducer, sourceDir string) TrainService {
	return &trainService{ingester: ingester, producer: producer, sourceDir: sourceDir}
}

// Train 同步入库配置的源目录。
func (s *trainService) Train(ctx context.Context, force bool) (*model.IngestReport, error) {
	return s.ingester.IngestDirectory(ctx, s.sourceDir, force)
}

// Enqueue 投递一个异步入库任务，返回任务 ID。
func (s *trainService) Enqueue(ctx context.Context, force bool) (string, error) {
	if s.producer == nil {
		return "", ErrAsyncUnavailable
	}
	task := tasks.TrainTask{
		TaskID:      uuid.NewString(),
		SourceDir:   s.sourceDir,
		Force:       force,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.producer.ProduceTrainTask(ctx, task); err != nil {
		log.Errorf("[TrainService] 投递入库任务失败, error: %v", err)
		return "", &model.IngestionError{Op: "enqueue", Err: err}
	}
	log.Infof("[TrainService] 已投递入库任务, task_id: %s", task.TaskID)
	return task.TaskID, nil
}

// ProcessTrainTask 满足 kafka.TaskProcessor 接口，只有目录级失败才返回错误。
func (s *trainService) ProcessTrainTask(ctx context.Context, task tasks.TrainTask) error {
	dir := task.SourceDir
	if dir == "" {
		dir = s.sourceDir
	}
	report, err := s.ingester.IngestDirectory(ctx, dir, task.Force)
	if err != nil {
		return fmt.Errorf("train task %s: %w", task.TaskID, err)
	}
	log.Infof("[TrainService] 入库任务完成, task_id: %s, documents: %d, errors: %d",
		task.TaskID, report.Documents, len(report.Errors))
	return nil
}
