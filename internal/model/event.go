package model

import "time"

// CommentEventType 评论变更事件类型
type CommentEventType string

const (
	CommentCreated CommentEventType = "comment_created"
	CommentDeleted CommentEventType = "comment_deleted"
)

// CommentEvent 已被服务端确认的评论变更，用于推送失效通知
type CommentEvent struct {
	Type      CommentEventType `json:"type"`
	FeedID    string           `json:"feed_id"`
	CommentID string           `json:"comment_id"`
	ParentID  string           `json:"parent_id,omitempty"`
	UserID    string           `json:"user_id"`
	Instance  string           `json:"instance,omitempty"`
	At        time.Time        `json:"at"`
}

// ExportTask 导出评论线程的异步任务
type ExportTask struct {
	FeedID      string    `json:"feed_id"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}
