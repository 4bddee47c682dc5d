package engine

import (
	"context"
	"time"

	"crm-feed/internal/model"
	"crm-feed/internal/thread"
	"crm-feed/pkg/logger"

	"go.uber.org/zap"
)

// LikeToggle 切换当前用户对评论的点赞状态。
// 后端没有评论点赞接口，此操作只读写本地账本并原位更新节点的 Liked/LikeCount。
// 同一评论在防抖时间内的重复调用返回 ErrLikeInFlight 并被忽略。
func (e *Engine) LikeToggle(ctx context.Context, feedID, commentID string) (model.Comment, error) {
	e.mu.Lock()
	st, err := e.openLocked(feedID)
	if err != nil {
		e.mu.Unlock()
		return model.Comment{}, err
	}
	node, ok := thread.Get(st.tree, commentID)
	if !ok {
		e.mu.Unlock()
		return model.Comment{}, ErrCommentNotFound
	}
	if node.IsTemp() {
		e.mu.Unlock()
		return node, ErrCommentPending
	}
	if _, busy := e.liking[commentID]; busy {
		e.mu.Unlock()
		return node, ErrLikeInFlight
	}
	e.liking[commentID] = nil
	e.mu.Unlock()

	defer e.settleLike(commentID)

	liked, err := e.ledger.IsLiked(ctx, e.identity.UserID, commentID)
	if err != nil {
		return node, err
	}
	liked = !liked
	if err := e.ledger.SetLiked(ctx, e.identity.UserID, commentID, liked); err != nil {
		logger.Error("Failed to write like ledger",
			zap.String("user_id", e.identity.UserID),
			zap.String("comment_id", commentID),
			zap.Error(err),
		)
		return node, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(feedID, st) {
		return node, ErrFeedClosed
	}
	var updated model.Comment
	st.tree, ok = thread.Update(st.tree, commentID, func(c *model.Comment) {
		c.Liked = liked
		if liked {
			c.LikeCount++
		} else {
			c.LikeCount = max(0, c.LikeCount-1)
		}
		updated = *c
	})
	if !ok {
		return node, ErrCommentNotFound
	}
	e.publishLocked(feedID, st)
	return updated, nil
}

// settleLike 防抖时间过后释放点赞锁，无论成功与否
func (e *Engine) settleLike(commentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		delete(e.liking, commentID)
		return
	}
	if e.opts.LikeSettleDelay <= 0 {
		delete(e.liking, commentID)
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(e.opts.LikeSettleDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.liking[commentID] == timer {
			delete(e.liking, commentID)
		}
	})
	e.liking[commentID] = timer
}
