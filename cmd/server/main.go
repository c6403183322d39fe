// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"research-rag-go/internal/config"
	"research-rag-go/internal/handler"
	"research-rag-go/internal/middleware"
	"research-rag-go/internal/model"
	"research-rag-go/internal/pipeline"
	"research-rag-go/internal/repository"
	"research-rag-go/internal/service"
	"research-rag-go/pkg/database"
	"research-rag-go/pkg/embedding"
	"research-rag-go/pkg/es"
	"research-rag-go/pkg/kafka"
	"research-rag-go/pkg/llm"
	"research-rag-go/pkg/log"
	"research-rag-go/pkg/memstore"
	"research-rag-go/pkg/pdf"
	"research-rag-go/pkg/storage"
	"research-rag-go/pkg/tika"
)

const tikaTimeout = 2 * time.Minute

// vectorIndex 是向量索引后端需要同时提供的读写能力。
type vectorIndex interface {
	Upsert(ctx context.Context, records []model.IndexRecord) error
	Search(ctx context.Context, vector []float32, k int) ([]model.ScoredRecord, error)
}

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 加载配置，此时日志尚未初始化
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化可选的 Redis，用于向量缓存与任务重试计数
	var rdb *redis.Client
	if cfg.Database.Redis.Addr != "" {
		rdb, err = database.InitRedis(rootCtx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			log.Fatal("Redis 初始化失败", err)
		}
		defer rdb.Close()
		log.Info("Redis 连接成功")
	}

	embeddingClient := embedding.NewClient(cfg.Embedding)
	if rdb != nil {
		embeddingClient = embedding.NewCachedClient(embeddingClient, rdb, cfg.Embedding.Model, cfg.Embedding.CacheTTL)
	}
	llmClient := llm.NewClient(cfg.LLM)

	// 4. 初始化向量索引
	index, err := newVectorIndex(rootCtx, cfg)
	if err != nil {
		log.Fatal("向量索引初始化失败", err)
	}

	// 5. 初始化文件处理管道 (Processor)
	var opts []pipeline.Option
	if cfg.Ingest.TikaURL != "" {
		opts = append(opts, pipeline.WithFallbackLoader(tika.NewClient(cfg.Ingest.TikaURL, tikaTimeout)))
	}
	var docRepo repository.DocumentRepository
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.InitMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			log.Fatal("MySQL 初始化失败", err)
		}
		docRepo = repository.NewDocumentRepository(db)
		opts = append(opts, pipeline.WithLedger(docRepo))
		if !cfg.Index.Persistent() {
			opts = append(opts, pipeline.WithoutLedgerSkip())
			log.Warnf("进程内索引重启后为空，入库台账仅做记录，不再跳过未变化的文件")
		}
		log.Info("MySQL 连接成功，已启用入库台账")
	}
	if cfg.MinIO.Endpoint != "" {
		archiver, err := storage.NewArchiver(rootCtx, cfg.MinIO)
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		opts = append(opts, pipeline.WithArchiver(archiver))
		log.Info("MinIO 初始化成功，已启用原始文件归档")
	}
	processor := pipeline.NewProcessor(pdf.NewLoader(), embeddingClient, index, cfg.Ingest, cfg.Embedding.Model, opts...)

	// 6. 初始化 Service (依赖注入)
	retrievalService := service.NewRetrievalService(embeddingClient, index, cfg.Retrieval)
	synthesizer, err := service.NewSynthesizer(llmClient, cfg.LLM)
	if err != nil {
		log.Fatal("提示词模板无效", err)
	}
	chatService := service.NewChatService(retrievalService, synthesizer, llmClient, cfg.LLM)
	documentService := service.NewDocumentService(docRepo)

	var producer *kafka.Producer
	var trainService service.TrainService
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		trainService = service.NewTrainService(processor, producer, cfg.Ingest.SourceDir)

		// 7. 启动后台 Kafka 消费者
		go kafka.NewConsumer(cfg.Kafka, rdb).Run(rootCtx, trainService)
		log.Infof("Kafka 消费者已启动, topic: %s", cfg.Kafka.Topic)
	} else {
		trainService = service.NewTrainService(processor, nil, cfg.Ingest.SourceDir)
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestID(), middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	handler.RegisterRoutes(r,
		handler.NewChatHandler(chatService),
		handler.NewTrainHandler(trainService),
		handler.NewDocumentHandler(documentService),
	)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 停止消费者，进行中的入库任务随上下文取消
	cancelRoot()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
		return
	}
	log.Info("服务已优雅关闭")
}

// newVectorIndex 按配置选择 Elasticsearch 或进程内索引。
func newVectorIndex(ctx context.Context, cfg *config.Config) (vectorIndex, error) {
	switch cfg.Index.Backend {
	case config.BackendMemory:
		log.Warnf("使用进程内向量索引 '%s'，数据不会持久化", cfg.Index.Namespace())
		return memstore.NewVectorStore(cfg.Index.Namespace())
	default:
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		store := es.NewVectorStore(client, cfg.Index, cfg.Embedding.Dimensions)
		if err := store.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		log.Infof("Elasticsearch 索引就绪: %s (alias: %s)", cfg.Index.Namespace(), cfg.Index.IndexName)
		return store, nil
	}
}
