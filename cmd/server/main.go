// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"kidsafe-go/internal/config"
	"kidsafe-go/internal/handler"
	"kidsafe-go/internal/model"
	"kidsafe-go/internal/pipeline"
	"kidsafe-go/internal/repository"
	"kidsafe-go/internal/service"
	"kidsafe-go/pkg/database"
	"kidsafe-go/pkg/es"
	"kidsafe-go/pkg/kafka"
	"kidsafe-go/pkg/llm"
	"kidsafe-go/pkg/log"
	"kidsafe-go/pkg/storage"
	"kidsafe-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	if err := log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		panic(fmt.Errorf("初始化日志失败: %w", err))
	}
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL)
	if err := database.AutoMigrate(database.DB, model.AllModels()...); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis)

	// 4. 可选组件：未启用或初始化失败时保持接口为 nil，对应步骤被跳过
	var (
		publisher  service.TaskPublisher
		producer   *kafka.Producer
		searcher   service.MessageSearcher
		indexer    pipeline.MessageIndexer
		transcript service.TranscriptStore
	)
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka)
		publisher = producer
	}
	if cfg.Elasticsearch.Enabled {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败，检索功能不可用: %v", err)
		} else {
			index := es.NewMessageIndex(es.ESClient, cfg.Elasticsearch.IndexName)
			searcher = index
			indexer = index
		}
	}
	if cfg.MinIO.Enabled {
		if err := storage.InitMinIO(cfg.MinIO); err != nil {
			log.Errorf("MinIO 初始化失败，导出功能不可用: %v", err)
		} else {
			transcript = storage.NewObjectStore(storage.MinioClient, cfg.MinIO.BucketName)
		}
	}

	// 5. 初始化 Repository
	parentRepo := repository.NewParentRepository(database.DB)
	childRepo := repository.NewChildRepository(database.DB)
	ruleRepo := repository.NewContentRuleRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB)
	insightRepo := repository.NewInsightRepository(database.DB)
	tokenRepo := repository.NewTokenRepository(database.RDB)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	provider := llm.NewProvider(cfg.AI)
	log.Infof("AI 服务商: %s", provider.Name())
	timeout := time.Duration(cfg.AI.Generation.TimeoutSeconds) * time.Second

	authService := service.NewAuthService(parentRepo, childRepo, tokenRepo, jwtManager)
	parentService := service.NewParentService(childRepo, ruleRepo, sessionRepo)
	chatService := service.NewChatService(childRepo, ruleRepo, sessionRepo, provider, service.NewTitleGenerator(provider), publisher, timeout)
	insightService := service.NewInsightService(childRepo, sessionRepo, insightRepo)
	searchService := service.NewSearchService(childRepo, searcher)
	transcriptService := service.NewTranscriptService(childRepo, sessionRepo, transcript)

	// 7. 启动后台 Kafka 消费者
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.Kafka.Enabled {
		processor := pipeline.NewProcessor(insightService, childRepo, sessionRepo, indexer)
		go kafka.StartConsumer(consumerCtx, cfg.Kafka, processor, database.RDB)
	}

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Services{
		Auth:       authService,
		Parent:     parentService,
		Chat:       chatService,
		Insight:    insightService,
		Search:     searchService,
		Transcript: transcriptService,
	}, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	stopConsumer()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}
