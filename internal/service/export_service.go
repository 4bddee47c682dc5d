package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-feed/internal/model"
	"crm-feed/internal/thread"
	"crm-feed/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrExportDisabled = errors.New("评论导出未启用")
	ErrEmptyFeedID    = errors.New("动态 ID 不能为空")
)

// CommentLister 拉取动态的原始评论列表
type CommentLister interface {
	ListComments(ctx context.Context, feedID string) ([]model.RawComment, error)
}

// ObjectStore 导出文件存储
type ObjectStore interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// TaskSender 投递导出任务
type TaskSender interface {
	SendExportTask(ctx context.Context, task *model.ExportTask) error
}

// ExportDocument 导出文件内容，评论按先序展开
type ExportDocument struct {
	FeedID      string          `json:"feed_id"`
	RequestedBy string          `json:"requested_by,omitempty"`
	ExportedAt  time.Time       `json:"exported_at"`
	Total       int             `json:"total"`
	Comments    []model.Comment `json:"comments"`
}

// ExportService 评论线程导出：API 侧投递任务，worker 侧生成文件
type ExportService struct {
	tasks  TaskSender
	lister CommentLister
	store  ObjectStore
	tree   thread.Options
	now    func() time.Time
}

// NewExportRequester API 侧只负责投递任务
func NewExportRequester(tasks TaskSender) *ExportService {
	return &ExportService{tasks: tasks, now: time.Now}
}

// NewExporter worker 侧拉取评论并写入对象存储
func NewExporter(lister CommentLister, store ObjectStore, tree thread.Options) *ExportService {
	return &ExportService{lister: lister, store: store, tree: tree, now: time.Now}
}

// Request 投递导出任务
func (s *ExportService) Request(ctx context.Context, feedID string, id model.Identity) (*model.ExportTask, error) {
	if s == nil || s.tasks == nil {
		return nil, ErrExportDisabled
	}
	if strings.TrimSpace(feedID) == "" {
		return nil, ErrEmptyFeedID
	}
	task := &model.ExportTask{
		FeedID:      feedID,
		RequestedBy: id.UserID,
		RequestedAt: s.now(),
	}
	if err := s.tasks.SendExportTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Export 执行导出任务，返回对象名
func (s *ExportService) Export(ctx context.Context, task *model.ExportTask) (string, error) {
	if s.lister == nil || s.store == nil {
		return "", ErrExportDisabled
	}
	if task.FeedID == "" {
		return "", ErrEmptyFeedID
	}

	raws, err := s.lister.ListComments(ctx, task.FeedID)
	if err != nil {
		return "", fmt.Errorf("failed to list comments: %w", err)
	}
	flat := thread.Flatten(thread.BuildTree(raws, nil, s.tree))

	now := s.now()
	doc := ExportDocument{
		FeedID:      task.FeedID,
		RequestedBy: task.RequestedBy,
		ExportedAt:  now.UTC(),
		Total:       len(flat),
		Comments:    flat,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal export: %w", err)
	}

	objectName := fmt.Sprintf("feeds/%s/%d.json", task.FeedID, now.Unix())
	if _, err := s.store.Put(ctx, objectName, data, "application/json"); err != nil {
		return "", err
	}

	logger.Info("Comment thread exported",
		zap.String("feed_id", task.FeedID),
		zap.String("object", objectName),
		zap.Int("comments", len(flat)),
	)
	return objectName, nil
}
