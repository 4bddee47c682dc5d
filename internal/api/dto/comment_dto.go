package dto

import (
	"time"

	"crm-feed/internal/model"
)

// AddCommentRequest 发表顶层评论
type AddCommentRequest struct {
	Text string `json:"text" binding:"required,max=2000"`
}

// AddReplyRequest 回复顶层评论，reply_to 为空时回复父评论作者
type AddReplyRequest struct {
	Text    string `json:"text" binding:"required,max=2000"`
	ReplyTo string `json:"reply_to"`
}

// FlatCommentList 先序展开的评论列表
type FlatCommentList struct {
	FeedID   string          `json:"feed_id"`
	Total    int             `json:"total"`
	Comments []model.Comment `json:"comments"`
}

// LikeResult 点赞切换结果
type LikeResult struct {
	CommentID string `json:"comment_id"`
	Liked     bool   `json:"liked"`
	LikeCount int64  `json:"like_count"`
}

// ExpandResult 展开状态
type ExpandResult struct {
	CommentID string `json:"comment_id"`
	Expanded  bool   `json:"expanded"`
}

// ExportAccepted 导出任务已受理
type ExportAccepted struct {
	FeedID      string    `json:"feed_id"`
	RequestedAt time.Time `json:"requested_at"`
}
