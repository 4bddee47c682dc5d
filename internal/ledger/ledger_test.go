package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_SetAndUnset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store)

	liked, err := l.IsLiked(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, liked)

	require.NoError(t, l.SetLiked(ctx, "u1", "c1", true))
	require.NoError(t, l.SetLiked(ctx, "u1", "c2", true))

	liked, err = l.IsLiked(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, liked)

	require.NoError(t, l.SetLiked(ctx, "u1", "c1", false))

	raw, err := store.Get(ctx, "comment_likes_u1")
	require.NoError(t, err)
	var persisted map[string]bool
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, map[string]bool{"c2": true}, persisted, "unliked ids are removed, never stored as false")
}

func TestLedger_UnlikingLastRemovesKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store)

	require.NoError(t, l.SetLiked(ctx, "u1", "c1", true))
	_, err := store.Get(ctx, Key("u1"))
	require.NoError(t, err)

	require.NoError(t, l.SetLiked(ctx, "u1", "c1", false))
	_, err = store.Get(ctx, Key("u1"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	liked, err := l.Liked(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, liked)

	// 从未点赞过的用户取消点赞也不会写入
	require.NoError(t, l.SetLiked(ctx, "u2", "c1", false))
	_, err = store.Get(ctx, Key("u2"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLedger_ScopedPerUser(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore())

	require.NoError(t, l.SetLiked(ctx, "alice", "c1", true))

	liked, err := l.IsLiked(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.False(t, liked)

	all, err := l.Liked(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"c1": true}, all)
}

func TestLedger_CorruptedValueIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, Key("u1"), []byte("{not json")))
	l := New(store)

	all, err := l.Liked(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, l.SetLiked(ctx, "u1", "c9", true))
	liked, err := l.IsLiked(ctx, "u1", "c9")
	require.NoError(t, err)
	assert.True(t, liked)
}

func TestLedger_IgnoresExplicitFalse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, Key("u1"), []byte(`{"a":true,"b":false}`)))

	all, err := New(store).Liked(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, all)
}
