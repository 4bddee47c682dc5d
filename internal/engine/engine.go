// Package engine 维护用户打开的动态评论树，并以乐观更新的方式执行评论变更：
// 先在本地树上立即生效，再调用后端，最后根据结果确认或回滚。
//
// 每条动态只有一份评论树（feedID -> tree），列表项和详情视图都订阅同一份快照。
// 每条打开的动态拥有独立的取消作用域，关闭动态会取消其所有进行中的请求，
// 作用域被替换后返回的结果不再回写。
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"crm-feed/internal/backend"
	"crm-feed/internal/ledger"
	"crm-feed/internal/model"
	"crm-feed/internal/permission"
	"crm-feed/internal/thread"

	"golang.org/x/sync/singleflight"
)

var (
	ErrEngineClosed         = errors.New("评论会话已关闭")
	ErrFeedNotOpen          = errors.New("动态未打开")
	ErrFeedClosed           = errors.New("动态已关闭，请求结果被丢弃")
	ErrEmptyContent         = errors.New("评论内容不能为空")
	ErrParentNotFound       = errors.New("父评论不存在")
	ErrCommentNotFound      = errors.New("评论不存在")
	ErrCommentPending       = errors.New("评论尚未发布完成")
	ErrLikeInFlight         = errors.New("点赞操作过于频繁")
	ErrConfirmationRequired = errors.New("删除评论需要确认")
	ErrNoPermission         = errors.New("没有权限操作该评论")
	ErrMutationFailed       = errors.New("操作失败，请稍后重试")
)

// Backend 引擎依赖的 Feed/Comment REST 接口
type Backend interface {
	ListComments(ctx context.Context, feedID string) ([]model.RawComment, error)
	CreateComment(ctx context.Context, req backend.CreateCommentRequest) (string, error)
	DeleteComment(ctx context.Context, commentID string) error
}

// Notifier 发布已确认的评论变更
type Notifier interface {
	Publish(ctx context.Context, ev model.CommentEvent) error
}

// Options 引擎选项，零值可用
type Options struct {
	MutationTimeout time.Duration
	LikeSettleDelay time.Duration
	Tree            thread.Options
	Permissions     permission.Checker
	Notifier        Notifier
	Instance        string // 本实例标识，随评论事件发布
	Now             func() time.Time
}

// Engine 单个用户的评论会话
type Engine struct {
	identity model.Identity
	backend  Backend
	ledger   *ledger.Ledger
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu      sync.Mutex
	closed  bool
	feeds   map[string]*feedState
	gen     uint64
	nextSub int
	liking  map[string]*time.Timer
}

func New(identity model.Identity, b Backend, l *ledger.Ledger, opts Options) *Engine {
	if opts.Permissions == nil {
		opts.Permissions = permission.Policy{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tree.Format == nil {
		opts.Tree.Format = thread.LayoutFormatter("", nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		identity: identity,
		backend:  b,
		ledger:   l,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		feeds:    make(map[string]*feedState),
		liking:   make(map[string]*time.Timer),
	}
}

// Identity 当前会话用户
func (e *Engine) Identity() model.Identity {
	return e.identity
}

// Close 关闭会话：取消所有进行中的请求，停止点赞防抖计时器，关闭所有订阅
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.cancel()
	for id, t := range e.liking {
		if t != nil {
			t.Stop()
		}
		delete(e.liking, id)
	}
	for feedID, st := range e.feeds {
		e.dropLocked(feedID, st)
	}
}

// Subscribers 当前所有动态的订阅数量
func (e *Engine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, st := range e.feeds {
		n += len(st.subs)
	}
	return n
}

// mutationContext 变更请求的生命周期绑定在动态作用域上，而不是调用方的请求上
func (e *Engine) mutationContext(ctx context.Context, st *feedState) (context.Context, context.CancelFunc) {
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(st.ctx, cancel)
	if e.opts.MutationTimeout > 0 {
		var cancelTimeout context.CancelFunc
		mctx, cancelTimeout = context.WithTimeout(mctx, e.opts.MutationTimeout)
		return mctx, func() {
			stop()
			cancelTimeout()
			cancel()
		}
	}
	return mctx, func() {
		stop()
		cancel()
	}
}
