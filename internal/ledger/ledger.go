// Package ledger 记录当前用户点赞过哪些评论。
//
// 后端不提供评论级别的点赞状态，账本是本地的补偿机制：每个用户一个键
// comment_likes_<userId>，值为 {commentID: true} 的 JSON 对象，不存 false。
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"crm-feed/pkg/logger"

	"go.uber.org/zap"
)

const keyPrefix = "comment_likes_"

// Key 返回用户的账本键
func Key(userID string) string {
	return keyPrefix + userID
}

// Ledger 点赞账本
type Ledger struct {
	store Store

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func New(store Store) *Ledger {
	return &Ledger{store: store, users: make(map[string]*sync.Mutex)}
}

// Liked 读取用户的全部点赞记录，存储损坏时按空处理
func (l *Ledger) Liked(ctx context.Context, userID string) (map[string]bool, error) {
	data, err := l.store.Get(ctx, Key(userID))
	if errors.Is(err, ErrKeyNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read like ledger: %w", err)
	}

	liked := make(map[string]bool)
	if err := json.Unmarshal(data, &liked); err != nil {
		logger.Warn("Corrupted like ledger, treating as empty",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return map[string]bool{}, nil
	}
	for id, v := range liked {
		if !v {
			delete(liked, id)
		}
	}
	return liked, nil
}

// IsLiked 查询用户是否点赞过某条评论
func (l *Ledger) IsLiked(ctx context.Context, userID, commentID string) (bool, error) {
	liked, err := l.Liked(ctx, userID)
	if err != nil {
		return false, err
	}
	return liked[commentID], nil
}

// SetLiked 写入点赞状态，取消点赞时删除该条记录，记录清空后删除整个账本键
func (l *Ledger) SetLiked(ctx context.Context, userID, commentID string, liked bool) error {
	mu := l.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	current, err := l.Liked(ctx, userID)
	if err != nil {
		return err
	}
	if liked {
		current[commentID] = true
	} else {
		delete(current, commentID)
	}

	if len(current) == 0 {
		if err := l.store.Delete(ctx, Key(userID)); err != nil {
			return fmt.Errorf("failed to clear like ledger: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode like ledger: %w", err)
	}
	if err := l.store.Set(ctx, Key(userID), data); err != nil {
		return fmt.Errorf("failed to write like ledger: %w", err)
	}
	return nil
}

func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.users[userID] = mu
	}
	return mu
}
