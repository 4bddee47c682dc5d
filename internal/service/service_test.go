package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"crm-feed/internal/backend"
	"crm-feed/internal/config"
	"crm-feed/internal/engine"
	"crm-feed/internal/ledger"
	"crm-feed/internal/model"
	"crm-feed/internal/thread"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu       sync.Mutex
	comments map[string][]model.RawComment
	lists    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{comments: make(map[string][]model.RawComment), lists: make(map[string]int)}
}

func (b *memBackend) ListComments(_ context.Context, feedID string) ([]model.RawComment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists[feedID]++
	return append([]model.RawComment(nil), b.comments[feedID]...), nil
}

func (b *memBackend) CreateComment(_ context.Context, req backend.CreateCommentRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := req.FeedID + "-" + time.Now().Format("150405.000000000")
	b.comments[req.FeedID] = append(b.comments[req.FeedID], model.RawComment{
		ID: id, Content: req.Content, CreatedBy: req.CreatedBy, CreatedAt: time.Now(), ParentID: req.ParentID,
	})
	return id, nil
}

func (b *memBackend) DeleteComment(context.Context, string) error { return nil }

func (b *memBackend) listCount(feedID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lists[feedID]
}

func newManager(b *memBackend, idle time.Duration) *SessionManager {
	factory := func(model.Identity) engine.Backend { return b }
	return NewSessionManager(factory, ledger.New(ledger.NewMemoryStore()), engine.Options{}, idle)
}

func TestEngineOptions(t *testing.T) {
	opts, err := EngineOptions(&config.EngineConfig{
		MutationTimeout: 3,
		LikeSettleDelay: 250,
		OrphanPolicy:    "drop",
		TimeFormat:      "layout",
		TimeLayout:      "2006-01-02",
		TimeZone:        "UTC",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, opts.MutationTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.LikeSettleDelay)
	assert.Equal(t, thread.OrphanDrop, opts.Tree.Orphans)
	assert.Equal(t, "2026-05-04", opts.Tree.Format(time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC)))
	assert.Nil(t, opts.Notifier)

	_, err = EngineOptions(&config.EngineConfig{OrphanPolicy: "explode"}, nil)
	assert.Error(t, err)
}

func TestSessionManager_AcquireReusesSession(t *testing.T) {
	m := newManager(newMemBackend(), time.Minute)
	defer m.Close()

	alice := model.Identity{UserID: "1", Token: "t1"}
	e1, err := m.Acquire(alice)
	require.NoError(t, err)
	e2, err := m.Acquire(alice)
	require.NoError(t, err)
	assert.Same(t, e1, e2)

	alice.Token = "t2"
	e3, err := m.Acquire(alice)
	require.NoError(t, err)
	assert.NotSame(t, e1, e3)
	_, err = e1.Open(context.Background(), "f")
	assert.ErrorIs(t, err, engine.ErrEngineClosed)
	assert.Equal(t, 1, m.Len())
}

func TestSessionManager_SweepClosesIdle(t *testing.T) {
	m := newManager(newMemBackend(), time.Minute)
	defer m.Close()

	e, err := m.Acquire(model.Identity{UserID: "1"})
	require.NoError(t, err)

	assert.Zero(t, m.Sweep(time.Now()))
	assert.Equal(t, 1, m.Sweep(time.Now().Add(2*time.Minute)))
	assert.Zero(t, m.Len())
	_, err = e.Open(context.Background(), "f")
	assert.ErrorIs(t, err, engine.ErrEngineClosed)
}

func TestSessionManager_SweepKeepsStreamingSessions(t *testing.T) {
	m := newManager(newMemBackend(), time.Minute)
	defer m.Close()

	e, err := m.Acquire(model.Identity{UserID: "1"})
	require.NoError(t, err)
	_, err = e.Open(context.Background(), "f")
	require.NoError(t, err)
	_, unsubscribe, err := e.Subscribe("f")
	require.NoError(t, err)

	now := time.Now()
	assert.Zero(t, m.Sweep(now.Add(2*time.Minute)))
	assert.Zero(t, m.Sweep(now.Add(10*time.Minute)))
	assert.Equal(t, 1, m.Len())

	unsubscribe()
	// 推送流结束后从最后一次活跃时间开始计算空闲
	assert.Zero(t, m.Sweep(now.Add(10*time.Minute+30*time.Second)))
	assert.Equal(t, 1, m.Sweep(now.Add(12*time.Minute)))
	assert.Zero(t, m.Len())
}

func TestSessionManager_InvalidateFromOtherInstanceRefreshesSameUser(t *testing.T) {
	b := newMemBackend()
	factory := func(model.Identity) engine.Backend { return b }
	m := NewSessionManager(factory, ledger.New(ledger.NewMemoryStore()), engine.Options{Instance: "api-1"}, time.Minute)
	defer m.Close()
	ctx := context.Background()

	alice, err := m.Acquire(model.Identity{UserID: "alice"})
	require.NoError(t, err)
	_, err = alice.Open(ctx, "f1")
	require.NoError(t, err)

	before := b.listCount("f1")
	require.NoError(t, m.Invalidate(ctx, &model.CommentEvent{
		Type: model.CommentCreated, FeedID: "f1", UserID: "alice", Instance: "api-1",
	}))
	assert.Equal(t, before, b.listCount("f1"), "originating session already refreshed")

	require.NoError(t, m.Invalidate(ctx, &model.CommentEvent{
		Type: model.CommentCreated, FeedID: "f1", UserID: "alice", Instance: "api-2",
	}))
	assert.Equal(t, before+1, b.listCount("f1"), "same user on another instance reloads")
}

func TestSessionManager_InvalidateRefreshesOtherSessions(t *testing.T) {
	b := newMemBackend()
	m := newManager(b, time.Minute)
	defer m.Close()
	ctx := context.Background()

	alice, err := m.Acquire(model.Identity{UserID: "alice"})
	require.NoError(t, err)
	bob, err := m.Acquire(model.Identity{UserID: "bob"})
	require.NoError(t, err)
	carol, err := m.Acquire(model.Identity{UserID: "carol"})
	require.NoError(t, err)

	_, err = alice.Open(ctx, "f1")
	require.NoError(t, err)
	_, err = bob.Open(ctx, "f1")
	require.NoError(t, err)
	_, err = carol.Open(ctx, "f2")
	require.NoError(t, err)

	_, err = alice.AddComment(ctx, "f1", "hi bob")
	require.NoError(t, err)
	before := b.listCount("f1")

	require.NoError(t, m.Invalidate(ctx, &model.CommentEvent{
		Type: model.CommentCreated, FeedID: "f1", UserID: "alice",
	}))

	assert.Equal(t, before+1, b.listCount("f1"), "only bob reloads f1")
	assert.Equal(t, 1, b.listCount("f2"))
	snap, err := bob.Snapshot("f1")
	require.NoError(t, err)
	require.Len(t, snap.Comments, 1)
	assert.Equal(t, "hi bob", snap.Comments[0].Text)

	assert.Error(t, m.Invalidate(ctx, &model.CommentEvent{}))
}

func TestSessionManager_Closed(t *testing.T) {
	m := newManager(newMemBackend(), 0)
	m.Close()
	_, err := m.Acquire(model.Identity{UserID: "1"})
	assert.ErrorIs(t, err, engine.ErrEngineClosed)
}

type taskRecorder struct {
	tasks []*model.ExportTask
	err   error
}

func (r *taskRecorder) SendExportTask(_ context.Context, task *model.ExportTask) error {
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

type objectRecorder struct {
	name        string
	data        []byte
	contentType string
}

func (o *objectRecorder) Put(_ context.Context, name string, data []byte, contentType string) (string, error) {
	o.name, o.data, o.contentType = name, data, contentType
	return name, nil
}

func TestExportService_Request(t *testing.T) {
	rec := &taskRecorder{}
	s := NewExportRequester(rec)

	task, err := s.Request(context.Background(), "f1", model.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "f1", task.FeedID)
	assert.Equal(t, "u1", task.RequestedBy)
	require.Len(t, rec.tasks, 1)

	_, err = s.Request(context.Background(), " ", model.Identity{UserID: "u1"})
	assert.ErrorIs(t, err, ErrEmptyFeedID)

	rec.err = errors.New("broker down")
	_, err = s.Request(context.Background(), "f1", model.Identity{UserID: "u1"})
	assert.Error(t, err)

	var disabled *ExportService
	_, err = disabled.Request(context.Background(), "f1", model.Identity{})
	assert.ErrorIs(t, err, ErrExportDisabled)
}

func TestExportService_Export(t *testing.T) {
	b := newMemBackend()
	t0 := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	b.comments["f1"] = []model.RawComment{
		{ID: "a", Content: "top", UserName: "alice", CreatedAt: t0},
		{ID: "b", Content: "reply", UserName: "bob", CreatedAt: t0.Add(time.Minute), ParentID: "a"},
		{ID: "z", Content: "newer", UserName: "zed", CreatedAt: t0.Add(time.Hour)},
	}
	store := &objectRecorder{}
	s := NewExporter(b, store, thread.Options{})
	s.now = func() time.Time { return t0 }

	name, err := s.Export(context.Background(), &model.ExportTask{FeedID: "f1", RequestedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "feeds/f1/1777896000.json", name)
	assert.Equal(t, name, store.name)
	assert.Equal(t, "application/json", store.contentType)

	var doc struct {
		FeedID   string `json:"feed_id"`
		Total    int    `json:"total"`
		Comments []struct {
			ID      string `json:"id"`
			IsReply bool   `json:"is_reply"`
			ReplyTo string `json:"reply_to"`
		} `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(store.data, &doc))
	assert.Equal(t, "f1", doc.FeedID)
	assert.Equal(t, 3, doc.Total)
	require.Len(t, doc.Comments, 3)
	assert.Equal(t, "z", doc.Comments[0].ID)
	assert.Equal(t, "a", doc.Comments[1].ID)
	assert.Equal(t, "b", doc.Comments[2].ID)
	assert.True(t, doc.Comments[2].IsReply)
	assert.Equal(t, "alice", doc.Comments[2].ReplyTo)

	_, err = NewExportRequester(&taskRecorder{}).Export(context.Background(), &model.ExportTask{FeedID: "f1"})
	assert.ErrorIs(t, err, ErrExportDisabled)
}
