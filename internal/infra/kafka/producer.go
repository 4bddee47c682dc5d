package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crm-feed/internal/config"
	"crm-feed/internal/model"
	"crm-feed/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultCommentEventsTopic = "comment_events"
	DefaultFeedExportTopic    = "feed_export"
)

// Producer 评论事件与导出任务的生产者
type Producer struct {
	writer      *kafka.Writer
	eventsTopic string
	exportTopic string
}

// NewProducer 初始化 Kafka 生产者
func NewProducer(cfg *config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
	)

	return &Producer{
		writer:      w,
		eventsTopic: cfg.Topic("comment_events", DefaultCommentEventsTopic),
		exportTopic: cfg.Topic("feed_export", DefaultFeedExportTopic),
	}
}

// Publish 发送评论变更事件，同一动态的事件落在同一分区
func (p *Producer) Publish(ctx context.Context, ev model.CommentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal comment event: %w", err)
	}
	if err := p.send(ctx, p.eventsTopic, "feed-"+ev.FeedID, payload); err != nil {
		return err
	}

	logger.Debug("Comment event sent",
		zap.String("type", string(ev.Type)),
		zap.String("feed_id", ev.FeedID),
		zap.String("comment_id", ev.CommentID),
	)
	return nil
}

// SendExportTask 发送评论导出任务
func (p *Producer) SendExportTask(ctx context.Context, task *model.ExportTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal export task: %w", err)
	}
	if err := p.send(ctx, p.exportTopic, "feed-"+task.FeedID, payload); err != nil {
		return err
	}

	logger.Info("Export task sent",
		zap.String("feed_id", task.FeedID),
		zap.String("requested_by", task.RequestedBy),
		zap.String("topic", p.exportTopic),
	)
	return nil
}

func (p *Producer) send(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send kafka message: %w", err)
	}
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	logger.Info("Kafka producer closed")
	return p.writer.Close()
}
