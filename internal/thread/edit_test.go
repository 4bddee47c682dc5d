package thread

import (
	"testing"

	"crm-feed/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() []model.Comment {
	return BuildTree([]model.RawComment{
		raw("a", "", "", 10),
		raw("a1", "a", "", 11),
		raw("a2", "a", "", 12),
		raw("a3", "a", "", 13),
		raw("b", "", "", 5),
	}, nil, Options{})
}

func pending(local, parent string) model.Comment {
	return model.Comment{LocalID: local, State: model.StatePending, ParentID: parent, Text: local}
}

func TestRemove_TopLevelCascades(t *testing.T) {
	tree := sampleTree()
	before := Count(tree)

	out, removed := Remove(tree, "a")
	assert.Equal(t, 4, removed)
	assert.Equal(t, before-4, Count(out))
	assert.Equal(t, []string{"b"}, keys(out))

	// 入参不被修改
	assert.Equal(t, before, Count(tree))
}

func TestRemove_ReplyOnly(t *testing.T) {
	tree := sampleTree()
	out, removed := Remove(tree, "a2")
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"a3", "a1"}, keys(out[0].Replies))
	assert.Equal(t, []string{"a", "b"}, keys(out))
	assert.Equal(t, []string{"a3", "a2", "a1"}, keys(tree[0].Replies))

	_, removed = Remove(tree, "missing")
	assert.Zero(t, removed)
}

func TestPrependAndReplace(t *testing.T) {
	tree := sampleTree()

	tree = PrependTop(tree, pending("temp-1", ""))
	assert.Equal(t, []string{"temp-1", "a", "b"}, keys(tree))

	tree, ok := PrependReply(tree, "a", pending("temp-reply-1", "a"))
	require.True(t, ok)
	assert.Equal(t, "temp-reply-1", tree[1].Replies[0].Key())

	_, ok = PrependReply(tree, "a1", pending("temp-reply-2", "a1"))
	assert.False(t, ok, "replies cannot be nested under replies")

	tree, ok = Replace(tree, "temp-reply-1", model.Comment{ID: "c", ParentID: "a"})
	require.True(t, ok)
	assert.Equal(t, []string{"c", "a3", "a2", "a1"}, keys(tree[1].Replies))
	assert.False(t, tree[1].Replies[0].IsTemp())

	tree, ok = Replace(tree, "temp-1", model.Comment{ID: "x"})
	require.True(t, ok)
	assert.Equal(t, []string{"x", "a", "b"}, keys(tree))
}

func TestUpdate(t *testing.T) {
	tree := sampleTree()
	out, ok := Update(tree, "a1", func(c *model.Comment) { c.LikeCount = 7 })
	require.True(t, ok)

	got, _ := Get(out, "a1")
	assert.EqualValues(t, 7, got.LikeCount)
	orig, _ := Get(tree, "a1")
	assert.Zero(t, orig.LikeCount)
}

func TestMergePending(t *testing.T) {
	old := sampleTree()
	old = PrependTop(old, pending("temp-1", ""))
	old, _ = PrependReply(old, "b", pending("temp-reply-1", "b"))
	old, _ = PrependReply(old, "a", pending("temp-reply-2", "a"))

	fresh := BuildTree([]model.RawComment{raw("b", "", "", 5), raw("n", "", "", 20)}, nil, Options{})
	merged := MergePending(fresh, old)

	assert.Equal(t, []string{"temp-1", "n", "b"}, keys(merged))
	assert.Equal(t, []string{"temp-reply-1"}, keys(merged[2].Replies))
}
