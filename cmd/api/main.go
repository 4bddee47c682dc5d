package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-feed/internal/api/handler"
	"crm-feed/internal/api/middleware"
	"crm-feed/internal/api/router"
	"crm-feed/internal/backend"
	"crm-feed/internal/config"
	"crm-feed/internal/engine"
	"crm-feed/internal/infra/database"
	infraKafka "crm-feed/internal/infra/kafka"
	infraRedis "crm-feed/internal/infra/redis"
	"crm-feed/internal/ledger"
	"crm-feed/internal/repository"
	"crm-feed/internal/service"
	"crm-feed/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("CRM_FEED_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// 加载配置文件
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 初始化日志系统
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.FilePath); err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 点赞账本存储
	store, err := openLedgerStore(cfg)
	if err != nil {
		logger.Fatal("Failed to init like ledger", zap.Error(err))
	}
	defer infraRedis.Close()
	defer database.Close()

	// Kafka：评论事件推送与导出任务（可选）
	var notifier engine.Notifier
	var exporter *service.ExportService
	var producer *infraKafka.Producer
	if cfg.Kafka.Enabled() {
		producer = infraKafka.NewProducer(&cfg.Kafka)
		defer producer.Close()
		notifier = producer
		exporter = service.NewExportRequester(producer)
	} else {
		logger.Warn("Kafka brokers not configured, push invalidation and export disabled")
	}

	opts, err := service.EngineOptions(&cfg.Engine, notifier)
	if err != nil {
		logger.Fatal("Invalid engine config", zap.Error(err))
	}
	instanceID := uuid.NewString()[:8]
	opts.Instance = instanceID

	client := backend.NewClient(&cfg.Backend)
	sessions := service.NewSessionManager(
		service.ClientFactory(client),
		ledger.New(store),
		opts,
		cfg.App.SessionIdleDuration(),
	)
	go sessions.Run(ctx)

	if producer != nil {
		// 每个实例独立消费组，保证所有实例都能收到全部事件
		groupID := fmt.Sprintf("%s-events-%s", cfg.App.Name, instanceID)
		go infraKafka.StartCommentEventConsumer(
			ctx,
			cfg.Kafka.Brokers,
			cfg.Kafka.Topic("comment_events", infraKafka.DefaultCommentEventsTopic),
			groupID,
			sessions.Invalidate,
		)
	}

	// 设置Gin模式
	gin.SetMode(cfg.App.Mode)

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())

	r.GET("/healthz", healthCheckHandler(sessions))

	commentHandler := handler.NewCommentHandler(sessions, exporter)
	router.Setup(r, commentHandler)

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	logger.Info("Starting application",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("mode", cfg.App.Mode),
		zap.String("addr", addr),
	)
	logger.Info("Configuration loaded",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("ledger", cfg.Ledger.Backend),
		zap.Strings("kafka", cfg.Kafka.Brokers),
	)

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	// 先关闭会话，SSE 连接随订阅关闭而结束
	sessions.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}

// openLedgerStore 按配置选择点赞账本的持久化后端
func openLedgerStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Ledger.Backend {
	case "", "memory":
		logger.Warn("Like ledger uses in-memory store, likes are lost on restart")
		return ledger.NewMemoryStore(), nil
	case "redis":
		rdb, err := infraRedis.Init(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		return ledger.NewRedisStore(rdb), nil
	case "postgres":
		db, err := database.Init(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return ledger.NewSQLStore(repository.NewKVRepository(db)), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// healthCheckHandler 健康检查接口
func healthCheckHandler(sessions *service.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := config.Get()

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		deps := gin.H{"redis": "ok", "database": "ok"}
		if err := infraRedis.Ping(ctx); err != nil {
			deps["redis"] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}
		if err := database.Ping(ctx); err != nil {
			deps["database"] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
			"service":   cfg.App.Name,
			"version":   cfg.App.Version,
			"sessions":  sessions.Len(),
			"deps":      deps,
		})
	}
}
