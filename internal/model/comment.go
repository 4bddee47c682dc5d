package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CommentState 评论的确认状态
type CommentState int

const (
	// StateConfirmed 已由服务端确认，ID 为服务端下发
	StateConfirmed CommentState = iota
	// StatePending 乐观插入，等待服务端确认，仅有 LocalID
	StatePending
)

const (
	PendingCommentPrefix = "temp-"
	PendingReplyPrefix   = "temp-reply-"
)

// Comment 评论树节点（顶层评论或一级回复）
type Comment struct {
	ID        string       `json:"-"`
	LocalID   string       `json:"-"`
	State     CommentState `json:"-"`
	Text      string       `json:"text"`
	Author    string       `json:"author"`
	AuthorID  string       `json:"author_id"`
	CreatedAt time.Time    `json:"created_at"`
	Timestamp string       `json:"timestamp"`
	Liked     bool         `json:"liked"`
	LikeCount int64        `json:"like_count"`
	ParentID  string       `json:"parent_id,omitempty"`
	ReplyTo   string       `json:"reply_to,omitempty"`
	Replies   []Comment    `json:"replies,omitempty"`
	Orphan    bool         `json:"orphan,omitempty"`
	IsReply   bool         `json:"is_reply,omitempty"`
}

// Key 返回节点在树中的唯一标识：已确认为服务端 ID，待确认为本地 ID
func (c *Comment) Key() string {
	if c.State == StatePending {
		return c.LocalID
	}
	return c.ID
}

// IsTemp 是否为尚未确认的乐观节点
func (c *Comment) IsTemp() bool {
	return c.State == StatePending
}

// IsTopLevel 是否为顶层评论
func (c *Comment) IsTopLevel() bool {
	return c.ParentID == ""
}

type commentJSON struct {
	ID     string `json:"id"`
	IsTemp bool   `json:"is_temp,omitempty"`
	*commentAlias
}

type commentAlias Comment

// MarshalJSON 对外暴露 Key 作为 id，待确认节点带 is_temp 标记
func (c Comment) MarshalJSON() ([]byte, error) {
	alias := commentAlias(c)
	return json.Marshal(commentJSON{
		ID:           c.Key(),
		IsTemp:       c.IsTemp(),
		commentAlias: &alias,
	})
}

// RawComment 后端 GET /feeds/{id}/comments/ 返回的原始评论记录
type RawComment struct {
	ID         string
	Content    string
	UserName   string
	CreatedBy  string
	CreatedAt  time.Time
	LikesCount int64
	ParentID   string
	ReplyTo    string
}

type rawCommentWire struct {
	ID         json.RawMessage `json:"id"`
	MongoID    json.RawMessage `json:"_id"`
	Content    string          `json:"content"`
	UserName   string          `json:"user_name"`
	CreatedBy  json.RawMessage `json:"created_by"`
	CreatedAt  string          `json:"created_at"`
	LikesCount int64           `json:"likes_count"`
	ParentID   json.RawMessage `json:"parent_id"`
	ReplyTo    string          `json:"reply_to"`
}

// UnmarshalJSON 兼容 id/_id、字符串或数字 ID、多种时间格式
func (r *RawComment) UnmarshalJSON(b []byte) error {
	var w rawCommentWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	id, err := FlexibleID(w.ID)
	if err != nil {
		return fmt.Errorf("invalid comment id: %w", err)
	}
	if id == "" {
		if id, err = FlexibleID(w.MongoID); err != nil {
			return fmt.Errorf("invalid comment _id: %w", err)
		}
	}
	createdBy, err := FlexibleID(w.CreatedBy)
	if err != nil {
		return fmt.Errorf("invalid created_by: %w", err)
	}
	parentID, err := FlexibleID(w.ParentID)
	if err != nil {
		return fmt.Errorf("invalid parent_id: %w", err)
	}

	*r = RawComment{
		ID:         id,
		Content:    w.Content,
		UserName:   w.UserName,
		CreatedBy:  createdBy,
		CreatedAt:  ParseTimestamp(w.CreatedAt),
		LikesCount: w.LikesCount,
		ParentID:   parentID,
		ReplyTo:    w.ReplyTo,
	}
	return nil
}

// FlexibleID 将 JSON 中的字符串、数字或 null 统一为字符串 ID
func FlexibleID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp 解析后端时间，无法解析时返回零值
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
