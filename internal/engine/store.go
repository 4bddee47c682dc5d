package engine

import (
	"context"
	"fmt"
	"sort"

	"crm-feed/internal/model"
	"crm-feed/internal/thread"
	"crm-feed/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxRefreshAttempts = 3

// Snapshot 某条动态评论树在某一时刻的只读视图
type Snapshot struct {
	FeedID   string          `json:"feed_id"`
	Comments []model.Comment `json:"comments"`
	Expanded map[string]bool `json:"expanded"`
	Error    string          `json:"error,omitempty"`
	Version  uint64          `json:"version"`
	Settled  bool            `json:"settled"`
}

type feedState struct {
	gen      uint64
	epoch    uint64 // 本地树每次被变更推进一次，拉取期间变化则结果作废
	loaded   bool
	tree     []model.Comment
	expanded map[string]bool
	errMsg   string
	version  uint64

	ctx    context.Context
	cancel context.CancelFunc
	subs   map[int]chan Snapshot
}

// Open 打开动态并加载评论，已打开时直接返回当前快照
func (e *Engine) Open(ctx context.Context, feedID string) (Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, ErrEngineClosed
	}
	st, ok := e.feeds[feedID]
	if ok && st.loaded {
		snap := e.snapshotLocked(feedID, st)
		e.mu.Unlock()
		return snap, nil
	}
	if !ok {
		e.gen++
		sctx, cancel := context.WithCancel(e.ctx)
		st = &feedState{
			gen:      e.gen,
			tree:     []model.Comment{},
			expanded: make(map[string]bool),
			ctx:      sctx,
			cancel:   cancel,
			subs:     make(map[int]chan Snapshot),
		}
		e.feeds[feedID] = st
	}
	e.mu.Unlock()

	snap, err := e.Refresh(ctx, feedID)
	if err != nil {
		e.mu.Lock()
		if cur, ok := e.feeds[feedID]; ok && cur == st && !st.loaded {
			e.dropLocked(feedID, st)
		}
		e.mu.Unlock()
		return Snapshot{}, err
	}
	return snap, nil
}

// Refresh 从服务端重新拉取评论并整体替换评论树，同一动态的并发刷新合并为一次请求。
// 仍在等待确认的乐观节点会保留。拉取期间本地树发生过变更时，结果作废并重新拉取。
func (e *Engine) Refresh(ctx context.Context, feedID string) (Snapshot, error) {
	for attempt := 1; ; attempt++ {
		e.mu.Lock()
		st, err := e.openLocked(feedID)
		if err != nil {
			e.mu.Unlock()
			return Snapshot{}, err
		}
		epoch := st.epoch
		e.mu.Unlock()

		key := fmt.Sprintf("%s#%d#%d", feedID, st.gen, epoch)
		ch := e.group.DoChan(key, func() (interface{}, error) {
			return e.fetchTree(st.ctx, feedID)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			logger.Warn("Failed to load comments",
				zap.String("feed_id", feedID),
				zap.String("user_id", e.identity.UserID),
				zap.Error(res.Err),
			)
			return Snapshot{}, fmt.Errorf("failed to load comments: %w", res.Err)
		}

		e.mu.Lock()
		if !e.currentLocked(feedID, st) {
			e.mu.Unlock()
			return Snapshot{}, ErrFeedClosed
		}
		if st.epoch != epoch && attempt < maxRefreshAttempts {
			e.mu.Unlock()
			logger.Debug("Comments changed locally during load, refetching",
				zap.String("feed_id", feedID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if st.epoch != epoch && st.loaded {
			// 变更方会自行刷新，保留当前树
			snap := e.snapshotLocked(feedID, st)
			e.mu.Unlock()
			return snap, nil
		}
		st.tree = thread.MergePending(res.Val.([]model.Comment), st.tree)
		st.loaded = true
		snap := e.publishLocked(feedID, st)
		e.mu.Unlock()
		return snap, nil
	}
}

func (e *Engine) fetchTree(ctx context.Context, feedID string) ([]model.Comment, error) {
	raws, err := e.backend.ListComments(ctx, feedID)
	if err != nil {
		return nil, err
	}
	liked, err := e.ledger.Liked(ctx, e.identity.UserID)
	if err != nil {
		logger.Warn("Like ledger unavailable, loading without liked flags",
			zap.String("user_id", e.identity.UserID),
			zap.Error(err),
		)
		liked = nil
	}
	return thread.BuildTree(raws, liked, e.opts.Tree), nil
}

// CloseFeed 关闭动态：取消其进行中的请求并关闭订阅
func (e *Engine) CloseFeed(feedID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.feeds[feedID]; ok {
		e.dropLocked(feedID, st)
	}
}

// Snapshot 返回当前快照
func (e *Engine) Snapshot(feedID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.feeds[feedID]
	if !ok {
		return Snapshot{}, ErrFeedNotOpen
	}
	return e.snapshotLocked(feedID, st), nil
}

// Flatten 返回先序展开的评论列表
func (e *Engine) Flatten(feedID string) ([]model.Comment, error) {
	snap, err := e.Snapshot(feedID)
	if err != nil {
		return nil, err
	}
	return thread.Flatten(snap.Comments), nil
}

// Subscribe 订阅动态的快照更新，订阅时立即收到当前快照。
// 通道只保留最新一份快照，消费慢时中间版本会被跳过。
func (e *Engine) Subscribe(feedID string) (<-chan Snapshot, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.feeds[feedID]
	if !ok {
		return nil, nil, ErrFeedNotOpen
	}
	e.nextSub++
	id := e.nextSub
	ch := make(chan Snapshot, 1)
	st.subs[id] = ch
	ch <- e.snapshotLocked(feedID, st)

	unsubscribe := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := st.subs[id]; ok {
			delete(st.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe, nil
}

// ToggleExpand 展开或收起某条顶层评论的回复
func (e *Engine) ToggleExpand(feedID, commentID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.feeds[feedID]
	if !ok {
		return false, ErrFeedNotOpen
	}
	if _, _, found := thread.Find(st.tree, commentID); !found {
		return false, ErrCommentNotFound
	}
	expanded := !st.expanded[commentID]
	if expanded {
		st.expanded[commentID] = true
	} else {
		delete(st.expanded, commentID)
	}
	e.publishLocked(feedID, st)
	return expanded, nil
}

// DismissError 关闭错误提示
func (e *Engine) DismissError(feedID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.feeds[feedID]
	if !ok {
		return ErrFeedNotOpen
	}
	if st.errMsg != "" {
		st.errMsg = ""
		e.publishLocked(feedID, st)
	}
	return nil
}

// OpenFeeds 当前打开的动态 ID
func (e *Engine) OpenFeeds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.feeds))
	for id := range e.feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// touchLocked 本地树被变更后调用，使进行中的拉取结果作废
func (st *feedState) touchLocked() {
	st.epoch++
}

// currentLocked 判断作用域是否仍然有效，调用方需持有 e.mu
func (e *Engine) currentLocked(feedID string, st *feedState) bool {
	cur, ok := e.feeds[feedID]
	return ok && cur == st
}

func (e *Engine) snapshotLocked(feedID string, st *feedState) Snapshot {
	expanded := make(map[string]bool, len(st.expanded))
	for k, v := range st.expanded {
		expanded[k] = v
	}
	return Snapshot{
		FeedID:   feedID,
		Comments: st.tree,
		Expanded: expanded,
		Error:    st.errMsg,
		Version:  st.version,
		Settled:  !hasPending(st.tree),
	}
}

// publishLocked 版本号加一并推送给所有订阅者，每次状态变更只推送一次
func (e *Engine) publishLocked(feedID string, st *feedState) Snapshot {
	st.version++
	snap := e.snapshotLocked(feedID, st)
	for _, ch := range st.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return snap
}

func (e *Engine) dropLocked(feedID string, st *feedState) {
	st.cancel()
	for id, ch := range st.subs {
		delete(st.subs, id)
		close(ch)
	}
	delete(e.feeds, feedID)
}

func hasPending(tree []model.Comment) bool {
	for i := range tree {
		if tree[i].IsTemp() {
			return true
		}
		for j := range tree[i].Replies {
			if tree[i].Replies[j].IsTemp() {
				return true
			}
		}
	}
	return false
}
