// Package backend 是 Feed/Comment REST 接口的客户端。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crm-feed/internal/config"
	"crm-feed/internal/model"
	"crm-feed/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const maxErrorBody = 4 * 1024

var ErrMissingID = errors.New("backend response carries no comment id")

// StatusError 后端返回非 2xx
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// CreateCommentRequest POST /feeds/{feedId}/comments/ 请求体
type CreateCommentRequest struct {
	FeedID    string `json:"feed_id"`
	CreatedBy string `json:"created_by"`
	Content   string `json:"content"`
	ParentID  string `json:"parent_id,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// Client 以某个用户身份调用后端，零值不可用
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetry   time.Duration
	userID     string
	token      string
}

func NewClient(cfg *config.BackendConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.TimeoutDuration()},
		maxRetry:   cfg.MaxRetryDuration(),
	}
}

// As 返回以指定用户身份发起请求的客户端副本
func (c *Client) As(userID, token string) *Client {
	cp := *c
	cp.userID = userID
	cp.token = token
	return &cp
}

// ListComments GET /feeds/{feedId}/comments/?user_id=<id>，幂等请求，5xx 和网络错误会退避重试
func (c *Client) ListComments(ctx context.Context, feedID string) ([]model.RawComment, error) {
	u := c.url("feeds", feedID, "comments") + "?" + url.Values{"user_id": {c.userID}}.Encode()

	var body []byte
	op := func() error {
		req, err := c.newRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		body, err = c.do(req)
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("List comments failed, retrying",
			zap.String("feed_id", feedID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	// MaxElapsedTime 为 0 在 backoff 中表示永不停止，这里按不重试处理
	var b backoff.BackOff = &backoff.StopBackOff{}
	if c.maxRetry > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = c.maxRetry
		b = exp
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return decodeList(body)
}

// CreateComment POST /feeds/{feedId}/comments/，返回服务端评论 ID，不重试
func (c *Client) CreateComment(ctx context.Context, in CreateCommentRequest) (string, error) {
	if in.CreatedBy == "" {
		in.CreatedBy = c.userID
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.url("feeds", in.FeedID, "comments"), payload)
	if err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	return decodeID(body)
}

// DeleteComment DELETE /feeds/comments/{commentId}/?user_id=<id>，404 视为已删除
func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	u := c.url("feeds", "comments", commentID) + "?" + url.Values{"user_id": {c.userID}}.Encode()
	req, err := c.newRequest(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		logger.Debug("Comment already gone on backend", zap.String("comment_id", commentID))
		return nil
	}
	return err
}

func (c *Client) url(segments ...string) string {
	var sb strings.Builder
	sb.WriteString(c.baseURL)
	for _, s := range segments {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(s))
	}
	sb.WriteByte('/')
	return sb.String()
}

func (c *Client) newRequest(ctx context.Context, method, u string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method: req.Method,
			URL:    req.URL.Path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
		}
	}
	return io.ReadAll(resp.Body)
}

// decodeList 兼容裸数组以及 {"data": [...]} / {"comments": [...]} 包装
func decodeList(body []byte) ([]model.RawComment, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return []model.RawComment{}, nil
	}
	if body[0] == '[' {
		var list []model.RawComment
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode comments: %w", err)
		}
		return list, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	for _, k := range []string{"data", "comments", "results"} {
		if inner, ok := envelope[k]; ok {
			return decodeList(inner)
		}
	}
	return nil, fmt.Errorf("failed to decode comments: unexpected envelope")
}

// decodeID 兼容 {"id": ...} / {"_id": ...} / {"data": {...}}
func decodeID(body []byte) (string, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	for _, k := range []string{"id", "_id"} {
		if raw, ok := envelope[k]; ok {
			id, err := model.FlexibleID(raw)
			if err != nil {
				return "", fmt.Errorf("failed to decode comment id: %w", err)
			}
			if id != "" {
				return id, nil
			}
		}
	}
	if inner, ok := envelope["data"]; ok && len(bytes.TrimSpace(inner)) > 0 && bytes.TrimSpace(inner)[0] == '{' {
		return decodeID(inner)
	}
	return "", ErrMissingID
}
