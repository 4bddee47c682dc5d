package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crm-feed/internal/backend"
	"crm-feed/internal/config"
	infraKafka "crm-feed/internal/infra/kafka"
	infraMinio "crm-feed/internal/infra/minio"
	"crm-feed/internal/model"
	"crm-feed/internal/service"
	"crm-feed/pkg/logger"
	"crm-feed/pkg/utils"

	"go.uber.org/zap"
)

const workerUserID = "export-worker"

func main() {
	configPath := os.Getenv("CRM_FEED_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.FilePath); err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer logger.Sync()

	if !cfg.Kafka.Enabled() {
		logger.Fatal("Kafka brokers not configured, export worker has nothing to consume")
	}

	store, err := infraMinio.Init(&cfg.MinIO)
	if err != nil {
		logger.Fatal("Failed to init minio", zap.Error(err))
	}

	// 未配置服务令牌时用共享密钥签发一个
	token := cfg.Backend.ServiceToken
	if token == "" {
		token, err = utils.GenerateToken(model.Identity{UserID: workerUserID, DisplayName: workerUserID})
		if err != nil {
			logger.Fatal("Failed to issue service token", zap.Error(err))
		}
	}
	client := backend.NewClient(&cfg.Backend).As(workerUserID, token)

	opts, err := service.EngineOptions(&cfg.Engine, nil)
	if err != nil {
		logger.Fatal("Invalid engine config", zap.Error(err))
	}
	exporter := service.NewExporter(client, store, opts.Tree)

	// 监听系统信号，优雅退出
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	topic := cfg.Kafka.Topic("feed_export", infraKafka.DefaultFeedExportTopic)
	groupID := cfg.App.Name + "-export-worker"

	logger.Info("Export worker started",
		zap.String("topic", topic),
		zap.String("group", groupID),
		zap.Strings("brokers", cfg.Kafka.Brokers),
	)

	infraKafka.StartExportTaskConsumer(ctx, cfg.Kafka.Brokers, topic, groupID,
		func(ctx context.Context, task *model.ExportTask) error {
			_, err := exporter.Export(ctx, task)
			return err
		},
	)
	logger.Info("Export worker stopped")
}
