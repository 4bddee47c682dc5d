package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crm-feed/internal/backend"
	"crm-feed/internal/config"
	"crm-feed/internal/engine"
	"crm-feed/internal/ledger"
	"crm-feed/internal/model"
	"crm-feed/internal/thread"
	"crm-feed/pkg/logger"

	"go.uber.org/zap"
)

const invalidateTimeout = 10 * time.Second

// BackendFactory 为指定用户构造后端客户端
type BackendFactory func(id model.Identity) engine.Backend

// ClientFactory 使用共享的 REST 客户端
func ClientFactory(c *backend.Client) BackendFactory {
	return func(id model.Identity) engine.Backend {
		return c.As(id.UserID, id.Token)
	}
}

// EngineOptions 根据配置构造引擎选项
func EngineOptions(cfg *config.EngineConfig, notifier engine.Notifier) (engine.Options, error) {
	orphans, err := thread.ParseOrphanPolicy(cfg.OrphanPolicy)
	if err != nil {
		return engine.Options{}, err
	}
	format, err := thread.NewFormatter(cfg.TimeFormat, cfg.TimeLayout, cfg.TimeZone)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		MutationTimeout: cfg.MutationTimeoutDuration(),
		LikeSettleDelay: cfg.LikeSettleDuration(),
		Tree:            thread.Options{Orphans: orphans, Format: format},
		Notifier:        notifier,
	}, nil
}

type session struct {
	engine   *engine.Engine
	token    string
	lastSeen time.Time
}

// SessionManager 每个用户一个评论会话，空闲超时后回收
type SessionManager struct {
	backends BackendFactory
	ledger   *ledger.Ledger
	opts     engine.Options
	idle     time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewSessionManager(backends BackendFactory, l *ledger.Ledger, opts engine.Options, idle time.Duration) *SessionManager {
	return &SessionManager{
		backends: backends,
		ledger:   l,
		opts:     opts,
		idle:     idle,
		sessions: make(map[string]*session),
	}
}

// Acquire 获取用户的评论会话，token 变化时重建会话
func (m *SessionManager) Acquire(id model.Identity) (*engine.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, engine.ErrEngineClosed
	}

	s, ok := m.sessions[id.UserID]
	if ok && s.token != id.Token {
		logger.Info("Token changed, recreating comment session", zap.String("user_id", id.UserID))
		s.engine.Close()
		ok = false
	}
	if !ok {
		s = &session{
			engine: engine.New(id, m.backends(id), m.ledger, m.opts),
			token:  id.Token,
		}
		m.sessions[id.UserID] = s
		logger.Debug("Comment session created", zap.String("user_id", id.UserID))
	}
	s.lastSeen = time.Now()
	return s.engine, nil
}

// Invalidate 其他实例或其他用户确认了评论变更，刷新所有打开该动态的会话。
// 只有本实例上发起变更的会话已经刷新过，跳过。
func (m *SessionManager) Invalidate(ctx context.Context, ev *model.CommentEvent) error {
	if ev.FeedID == "" {
		return fmt.Errorf("comment event without feed_id")
	}

	var targets []*engine.Engine
	m.mu.Lock()
	for userID, s := range m.sessions {
		if userID == ev.UserID && ev.Instance == m.opts.Instance {
			continue
		}
		for _, feedID := range s.engine.OpenFeeds() {
			if feedID == ev.FeedID {
				targets = append(targets, s.engine)
				break
			}
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range targets {
		wg.Add(1)
		go func(e *engine.Engine) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, invalidateTimeout)
			defer cancel()
			if _, err := e.Refresh(rctx, ev.FeedID); err != nil {
				logger.Warn("Failed to refresh feed after comment event",
					zap.String("feed_id", ev.FeedID),
					zap.String("user_id", e.Identity().UserID),
					zap.Error(err),
				)
			}
		}(e)
	}
	wg.Wait()

	logger.Debug("Comment event applied",
		zap.String("feed_id", ev.FeedID),
		zap.String("type", string(ev.Type)),
		zap.Int("sessions", len(targets)),
	)
	return nil
}

// Sweep 回收空闲会话，返回回收数量
func (m *SessionManager) Sweep(now time.Time) int {
	if m.idle <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for userID, s := range m.sessions {
		if s.engine.Subscribers() > 0 {
			// 有活跃的推送流
			s.lastSeen = now
			continue
		}
		if now.Sub(s.lastSeen) < m.idle {
			continue
		}
		s.engine.Close()
		delete(m.sessions, userID)
		n++
	}
	if n > 0 {
		logger.Info("Idle comment sessions closed", zap.Int("count", n))
	}
	return n
}

// Run 周期性回收空闲会话，ctx 取消后返回
func (m *SessionManager) Run(ctx context.Context) {
	if m.idle <= 0 {
		return
	}
	interval := m.idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Len 当前会话数量
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close 关闭所有会话
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for userID, s := range m.sessions {
		s.engine.Close()
		delete(m.sessions, userID)
	}
	logger.Info("Comment sessions closed")
}
