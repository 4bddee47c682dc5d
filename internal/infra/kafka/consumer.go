package kafka

import (
	"context"
	"encoding/json"
	"time"

	"crm-feed/internal/model"
	"crm-feed/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventHandler 处理评论变更事件
type EventHandler func(ctx context.Context, ev *model.CommentEvent) error

// ExportHandler 处理评论导出任务
type ExportHandler func(ctx context.Context, task *model.ExportTask) error

// StartCommentEventConsumer 消费评论变更事件（阻塞，需在 goroutine 中运行）。
// 每个 API 实例都需要收到全部事件，groupID 应按实例区分。
func StartCommentEventConsumer(ctx context.Context, brokers []string, topic, groupID string, handler EventHandler) {
	consume(ctx, newReader(brokers, topic, groupID), "comment event", func(msg kafka.Message) {
		var ev model.CommentEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Error("Failed to unmarshal comment event",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
			)
			return
		}
		if err := handler(ctx, &ev); err != nil {
			logger.Error("Failed to handle comment event",
				zap.String("feed_id", ev.FeedID),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	})
}

// StartExportTaskConsumer 消费评论导出任务（阻塞，需在 goroutine 中运行）
func StartExportTaskConsumer(ctx context.Context, brokers []string, topic, groupID string, handler ExportHandler) {
	consume(ctx, newReader(brokers, topic, groupID), "export task", func(msg kafka.Message) {
		var task model.ExportTask
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			logger.Error("Failed to unmarshal export task",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
			)
			return
		}

		logger.Info("Received export task",
			zap.String("feed_id", task.FeedID),
			zap.String("requested_by", task.RequestedBy),
		)

		if err := handler(ctx, &task); err != nil {
			logger.Error("Failed to handle export task",
				zap.String("feed_id", task.FeedID),
				zap.Error(err),
			)
		}
	})
}

func newReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})
}

// consume ctx 取消后退出
func consume(ctx context.Context, reader *kafka.Reader, name string, handle func(kafka.Message)) {
	cfg := reader.Config()
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Error("Failed to close kafka consumer", zap.Error(err))
		}
		logger.Info("Kafka consumer stopped", zap.String("consumer", name))
	}()

	logger.Info("Kafka consumer started",
		zap.String("consumer", name),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
	)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to read kafka message", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		handle(msg)
	}
}
