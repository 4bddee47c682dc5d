package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"crm-feed/internal/api/dto"
	"crm-feed/internal/api/middleware"
	"crm-feed/internal/api/response"
	"crm-feed/internal/backend"
	"crm-feed/internal/engine"
	"crm-feed/internal/service"
	"crm-feed/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CommentHandler struct {
	sessions *service.SessionManager
	exports  *service.ExportService
}

func NewCommentHandler(sessions *service.SessionManager, exports *service.ExportService) *CommentHandler {
	return &CommentHandler{sessions: sessions, exports: exports}
}

// List GET /api/v1/feeds/:feed_id/comments
// ?refresh=true 强制从服务端重新加载
func (h *CommentHandler) List(c *gin.Context) {
	e, feedID, ok := h.open(c)
	if !ok {
		return
	}

	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		snap, err := e.Refresh(c.Request.Context(), feedID)
		if err != nil {
			handleCommentError(c, err)
			return
		}
		response.OK(c, "刷新评论成功", snap)
		return
	}

	snap, err := e.Snapshot(feedID)
	if err != nil {
		handleCommentError(c, err)
		return
	}
	response.OK(c, "获取评论成功", snap)
}

// Flat GET /api/v1/feeds/:feed_id/comments/flat
func (h *CommentHandler) Flat(c *gin.Context) {
	e, feedID, ok := h.open(c)
	if !ok {
		return
	}

	list, err := e.Flatten(feedID)
	if err != nil {
		handleCommentError(c, err)
		return
	}
	response.OK(c, "获取评论列表成功", dto.FlatCommentList{
		FeedID:   feedID,
		Total:    len(list),
		Comments: list,
	})
}

// Stream GET /api/v1/feeds/:feed_id/comments/stream
// 以 SSE 推送评论树快照，每次状态变更推送一次
func (h *CommentHandler) Stream(c *gin.Context) {
	e, feedID, ok := h.open(c)
	if !ok {
		return
	}

	ch, unsubscribe, err := e.Subscribe(feedID)
	if err != nil {
		handleCommentError(c, err)
		return
	}
	defer unsubscribe()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		}
	})
}

// Create POST /api/v1/feeds/:feed_id/comments
func (h *CommentHandler) Create(c *gin.Context) {
	var req dto.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数无效: "+err.Error())
		return
	}

	e, feedID, ok := h.open(c)
	if !ok {
		return
	}

	comment, err := e.AddComment(c.Request.Context(), feedID, req.Text)
	if err != nil {
		handleCommentError(c, err)
		return
	}
	response.Created(c, "发表评论成功", comment)
}

// Reply POST /api/v1/feeds/:feed_id/comments/:comment_id/replies
func (h *CommentHandler) Reply(c *gin.Context) {
	var req dto.AddReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数无效: "+err.Error())
		return
	}

	e, feedID, ok := h.open(c)
	if !ok {
		return
	}

	comment, err := e.AddReply(c.Request.Context(), feedID, c.Param("comment_id"), req.ReplyTo, req.Text)
	if err != nil {
		handleCommentError(c, err)
		return
	}
	response.Created(c, "回复成功", comment)
}

// Like POST /api/v1/feeds/:feed_id/comments/:comment_id/like
func (h *CommentHandler) Like(c *gin.Context) {
	e, feedID, ok := h.open(c)
	if !ok {
		return
	}

	comment, err := e.LikeToggle(c.Request.Context(), feedID, c.Param("comment_id"))
	if err != nil {
		handleCommentError(c, err)
		return
	}
	response.OK(c, "操作成功", dto.LikeResult{
		CommentID: comment.Key(),
		Liked:     comment.Liked,
		LikeCount: comment.LikeCount,
	})
}

// Expand POST /api/v1/feeds/:feed_id/comments/:comment_id/expand
func (h *CommentHandler) Expand(c *gin.Context) {
	e, feedID, ok := h.open(c)
	if !ok {
		return
	}

	commentID := c.Param("comment_id")
	expanded, err := e.ToggleExpand(feedID, commentID)
	if err != nil {
		handleCommentError(c, err)
		return
	}
	response.OK(c, "操作成功", dto.ExpandResult{CommentID: commentID, Expanded: expanded})
}

// Delete DELETE /api/v1/feeds/:feed_id/comments/:comment_id?confirm=true
func (h *CommentHandler) Delete(c *gin.Context) {
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))

	e, feedID, ok := h.open(c)
	if !ok {
		return
	}

	if err := e.DeleteComment(c.Request.Context(), feedID, c.Param("comment_id"), confirmed); err != nil {
		handleCommentError(c, err)
		return
	}
	response.OK(c, "删除评论成功", nil)
}

// DismissError DELETE /api/v1/feeds/:feed_id/error
func (h *CommentHandler) DismissError(c *gin.Context) {
	e, ok := h.session(c)
	if !ok {
		return
	}

	if err := e.DismissError(c.Param("feed_id")); err != nil {
		handleCommentError(c, err)
		return
	}
	response.OK(c, "已关闭错误提示", nil)
}

// CloseFeed DELETE /api/v1/feeds/:feed_id
func (h *CommentHandler) CloseFeed(c *gin.Context) {
	e, ok := h.session(c)
	if !ok {
		return
	}

	e.CloseFeed(c.Param("feed_id"))
	response.OK(c, "已关闭动态", nil)
}

// Export POST /api/v1/feeds/:feed_id/comments/export
func (h *CommentHandler) Export(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "缺少认证信息")
		return
	}

	task, err := h.exports.Request(c.Request.Context(), c.Param("feed_id"), id)
	if err != nil {
		handleCommentError(c, err)
		return
	}
	response.Accepted(c, "导出任务已提交", dto.ExportAccepted{
		FeedID:      task.FeedID,
		RequestedAt: task.RequestedAt,
	})
}

func (h *CommentHandler) session(c *gin.Context) (*engine.Engine, bool) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		response.Unauthorized(c, "缺少认证信息")
		return nil, false
	}
	e, err := h.sessions.Acquire(id)
	if err != nil {
		handleCommentError(c, err)
		return nil, false
	}
	return e, true
}

// open 获取会话并确保动态已打开
func (h *CommentHandler) open(c *gin.Context) (*engine.Engine, string, bool) {
	e, ok := h.session(c)
	if !ok {
		return nil, "", false
	}
	feedID := c.Param("feed_id")
	if _, err := e.Open(c.Request.Context(), feedID); err != nil {
		handleCommentError(c, err)
		return nil, "", false
	}
	return e, feedID, true
}

func handleCommentError(c *gin.Context, err error) {
	var se *backend.StatusError
	switch {
	case errors.Is(err, engine.ErrEmptyContent),
		errors.Is(err, engine.ErrConfirmationRequired),
		errors.Is(err, service.ErrEmptyFeedID):
		response.BadRequest(c, err.Error())
	case errors.Is(err, engine.ErrCommentNotFound),
		errors.Is(err, engine.ErrParentNotFound),
		errors.Is(err, engine.ErrFeedNotOpen):
		response.NotFound(c, err.Error())
	case errors.Is(err, engine.ErrNoPermission):
		response.Forbidden(c, err.Error())
	case errors.Is(err, engine.ErrCommentPending),
		errors.Is(err, engine.ErrFeedClosed):
		response.Conflict(c, err.Error())
	case errors.Is(err, engine.ErrLikeInFlight):
		response.TooManyRequests(c, err.Error())
	case errors.Is(err, engine.ErrEngineClosed),
		errors.Is(err, service.ErrExportDisabled):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, engine.ErrMutationFailed):
		logger.Warn("Comment mutation rejected by backend", zap.Error(err))
		response.BadGateway(c, engine.ErrMutationFailed.Error())
	case errors.As(err, &se):
		switch se.Code {
		case http.StatusNotFound:
			response.NotFound(c, "动态不存在")
		case http.StatusUnauthorized, http.StatusForbidden:
			response.Forbidden(c, "没有权限查看该动态的评论")
		default:
			logger.Error("Feed backend request failed", zap.Error(err))
			response.BadGateway(c, "评论服务暂时不可用")
		}
	default:
		logger.Error("Comment operation failed", zap.Error(err))
		response.InternalError(c, "操作失败，请稍后重试")
	}
}
