package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-feed/internal/backend"
	"crm-feed/internal/model"
	"crm-feed/internal/thread"
	"crm-feed/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	msgCreateFailed = "发表评论失败，请稍后重试"
	msgReplyFailed  = "回复失败，请稍后重试"
	msgDeleteFailed = "删除评论失败，已重新加载评论"

	notifyTimeout = 5 * time.Second
)

// AddComment 发表顶层评论：乐观插入到顶层列表最前，后端确认后原位替换并整体刷新，失败则移除
func (e *Engine) AddComment(ctx context.Context, feedID, text string) (model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Comment{}, ErrEmptyContent
	}

	e.mu.Lock()
	st, err := e.openLocked(feedID)
	if err != nil {
		e.mu.Unlock()
		return model.Comment{}, err
	}
	pending := e.newPending(model.PendingCommentPrefix, text)
	pending.Replies = []model.Comment{}
	st.tree = thread.PrependTop(st.tree, pending)
	st.touchLocked()
	e.publishLocked(feedID, st)
	e.mu.Unlock()

	return e.confirm(ctx, feedID, st, pending, backend.CreateCommentRequest{
		FeedID:    feedID,
		CreatedBy: e.identity.UserID,
		Content:   text,
	})
}

// AddReply 回复顶层评论：乐观插入到父评论回复列表最前。
// 父评论不在当前树中时不做任何修改。确认成功后自动展开父评论。
func (e *Engine) AddReply(ctx context.Context, feedID, parentID, replyTo, text string) (model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Comment{}, ErrEmptyContent
	}

	e.mu.Lock()
	st, err := e.openLocked(feedID)
	if err != nil {
		e.mu.Unlock()
		return model.Comment{}, err
	}
	parent, ok := thread.Get(st.tree, parentID)
	if !ok || !parent.IsTopLevel() {
		e.mu.Unlock()
		return model.Comment{}, ErrParentNotFound
	}
	if parent.IsTemp() {
		e.mu.Unlock()
		return model.Comment{}, ErrCommentPending
	}
	if replyTo == "" {
		replyTo = parent.Author
	}
	pending := e.newPending(model.PendingReplyPrefix, text)
	pending.ParentID = parent.ID
	pending.ReplyTo = replyTo
	st.tree, _ = thread.PrependReply(st.tree, parent.ID, pending)
	st.touchLocked()
	e.publishLocked(feedID, st)
	e.mu.Unlock()

	return e.confirm(ctx, feedID, st, pending, backend.CreateCommentRequest{
		FeedID:    feedID,
		CreatedBy: e.identity.UserID,
		Content:   text,
		ParentID:  parent.ID,
		ReplyTo:   replyTo,
	})
}

// confirm 发送创建请求并对乐观节点做确认或回滚
func (e *Engine) confirm(ctx context.Context, feedID string, st *feedState, pending model.Comment, req backend.CreateCommentRequest) (model.Comment, error) {
	mctx, cancel := e.mutationContext(ctx, st)
	id, err := e.backend.CreateComment(mctx, req)
	cancel()

	if err != nil {
		msg := msgCreateFailed
		if pending.ParentID != "" {
			msg = msgReplyFailed
		}
		e.mu.Lock()
		if e.currentLocked(feedID, st) {
			st.tree, _ = thread.Remove(st.tree, pending.LocalID)
			st.touchLocked()
			st.errMsg = msg
			e.publishLocked(feedID, st)
		}
		e.mu.Unlock()

		logger.Error("Create comment failed, optimistic insert rolled back",
			zap.String("feed_id", feedID),
			zap.String("local_id", pending.LocalID),
			zap.String("parent_id", pending.ParentID),
			zap.Error(err),
		)
		return model.Comment{}, fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}

	confirmed := pending
	confirmed.ID = id
	confirmed.LocalID = ""
	confirmed.State = model.StateConfirmed

	e.mu.Lock()
	if !e.currentLocked(feedID, st) {
		e.mu.Unlock()
		logger.Info("Comment confirmed after feed was closed",
			zap.String("feed_id", feedID),
			zap.String("comment_id", id),
		)
		return confirmed, nil
	}
	st.tree, _ = thread.Replace(st.tree, pending.LocalID, confirmed)
	st.touchLocked()
	if confirmed.ParentID != "" {
		st.expanded[confirmed.ParentID] = true
	}
	e.publishLocked(feedID, st)
	e.mu.Unlock()

	logger.Info("Comment confirmed",
		zap.String("feed_id", feedID),
		zap.String("comment_id", id),
		zap.String("parent_id", confirmed.ParentID),
	)

	e.notify(ctx, model.CommentEvent{
		Type:      model.CommentCreated,
		FeedID:    feedID,
		CommentID: id,
		ParentID:  confirmed.ParentID,
		UserID:    e.identity.UserID,
		Instance:  e.opts.Instance,
		At:        e.opts.Now(),
	})

	// 并发写入可能造成偏差，以服务端列表为准
	if _, err := e.Refresh(ctx, feedID); err != nil {
		logger.Warn("Refresh after create failed",
			zap.String("feed_id", feedID),
			zap.Error(err),
		)
	}
	return confirmed, nil
}

// DeleteComment 删除评论或回复。调用方必须先经用户确认。
// 顶层评论连同回复一起乐观移除；后端失败时整体重新加载评论而不是回插节点。
func (e *Engine) DeleteComment(ctx context.Context, feedID, commentID string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}

	e.mu.Lock()
	st, err := e.openLocked(feedID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	node, ok := thread.Get(st.tree, commentID)
	if !ok {
		e.mu.Unlock()
		return ErrCommentNotFound
	}
	if node.IsTemp() {
		e.mu.Unlock()
		return ErrCommentPending
	}
	if !e.opts.Permissions.CanDeleteComment(e.identity.Permissions, &node, e.identity.UserID) {
		e.mu.Unlock()
		return ErrNoPermission
	}
	var removed int
	st.tree, removed = thread.Remove(st.tree, commentID)
	delete(st.expanded, commentID)
	st.touchLocked()
	e.publishLocked(feedID, st)
	e.mu.Unlock()

	mctx, cancel := e.mutationContext(ctx, st)
	err = e.backend.DeleteComment(mctx, commentID)
	cancel()

	if err != nil {
		logger.Error("Delete comment failed, reloading feed",
			zap.String("feed_id", feedID),
			zap.String("comment_id", commentID),
			zap.Error(err),
		)
		e.mu.Lock()
		if e.currentLocked(feedID, st) {
			st.touchLocked()
			st.errMsg = msgDeleteFailed
			e.publishLocked(feedID, st)
		}
		e.mu.Unlock()
		if _, rerr := e.Refresh(ctx, feedID); rerr != nil {
			logger.Warn("Reload after failed delete failed",
				zap.String("feed_id", feedID),
				zap.Error(rerr),
			)
		}
		return fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}

	// 删除之前发起的拉取可能仍包含该评论
	e.mu.Lock()
	if e.currentLocked(feedID, st) {
		st.touchLocked()
	}
	e.mu.Unlock()

	logger.Info("Comment deleted",
		zap.String("feed_id", feedID),
		zap.String("comment_id", commentID),
		zap.Int("removed_nodes", removed),
	)
	e.notify(ctx, model.CommentEvent{
		Type:      model.CommentDeleted,
		FeedID:    feedID,
		CommentID: commentID,
		ParentID:  node.ParentID,
		UserID:    e.identity.UserID,
		Instance:  e.opts.Instance,
		At:        e.opts.Now(),
	})
	return nil
}

func (e *Engine) openLocked(feedID string) (*feedState, error) {
	if e.closed {
		return nil, ErrEngineClosed
	}
	st, ok := e.feeds[feedID]
	if !ok {
		return nil, ErrFeedNotOpen
	}
	return st, nil
}

func (e *Engine) newPending(prefix, text string) model.Comment {
	now := e.opts.Now()
	return model.Comment{
		LocalID:   prefix + uuid.NewString(),
		State:     model.StatePending,
		Text:      text,
		Author:    e.identity.DisplayName,
		AuthorID:  e.identity.UserID,
		CreatedAt: now,
		Timestamp: e.opts.Tree.Format(now),
	}
}

func (e *Engine) notify(ctx context.Context, ev model.CommentEvent) {
	if e.opts.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := e.opts.Notifier.Publish(nctx, ev); err != nil {
		logger.Warn("Failed to publish comment event",
			zap.String("feed_id", ev.FeedID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}
