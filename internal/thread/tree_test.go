package thread

import (
	"sort"
	"testing"
	"time"

	"crm-feed/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func raw(id, parent, content string, minute int) model.RawComment {
	return model.RawComment{
		ID:        id,
		ParentID:  parent,
		Content:   content,
		UserName:  "user-" + id,
		CreatedBy: "uid-" + id,
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func keys(nodes []model.Comment) []string {
	out := make([]string, 0, len(nodes))
	for i := range nodes {
		out = append(out, nodes[i].Key())
	}
	return out
}

func TestBuildTree_Example(t *testing.T) {
	tree := BuildTree([]model.RawComment{
		raw("a", "", "first", 0),
		raw("b", "a", "reply to first", 1),
	}, nil, Options{})

	require.Len(t, tree, 1)
	assert.Equal(t, "a", tree[0].ID)
	assert.Equal(t, []string{"b"}, keys(tree[0].Replies))
	assert.Equal(t, "reply to first", tree[0].Replies[0].Text)
}

func TestBuildTree_Empty(t *testing.T) {
	tree := BuildTree(nil, nil, Options{})
	assert.NotNil(t, tree)
	assert.Empty(t, tree)
}

func TestBuildTree_SortsNewestFirst(t *testing.T) {
	tree := BuildTree([]model.RawComment{
		raw("old", "", "", 0),
		raw("new", "", "", 10),
		raw("r1", "old", "", 1),
		raw("r3", "old", "", 30),
		raw("r2", "old", "", 2),
	}, nil, Options{})

	assert.Equal(t, []string{"new", "old"}, keys(tree))
	assert.Equal(t, []string{"r3", "r2", "r1"}, keys(tree[1].Replies))
}

func TestBuildTree_SeedsLikedAndFormatsTime(t *testing.T) {
	format := func(ts time.Time) string { return ts.Format("15:04") }
	tree := BuildTree([]model.RawComment{raw("a", "", "", 5), raw("b", "a", "", 6)},
		map[string]bool{"b": true}, Options{Format: format})

	assert.False(t, tree[0].Liked)
	assert.True(t, tree[0].Replies[0].Liked)
	assert.Equal(t, "09:05", tree[0].Timestamp)
}

func TestBuildTree_Orphans(t *testing.T) {
	raws := []model.RawComment{
		raw("a", "", "", 0),
		raw("b", "a", "", 1),
		raw("lost", "elsewhere", "", 2),
		raw("grandchild", "b", "", 3),
		raw("self", "self", "", 4),
	}

	promoted := BuildTree(raws, nil, Options{Orphans: OrphanPromote})
	assert.ElementsMatch(t, []string{"a", "lost", "grandchild", "self"}, keys(promoted))
	for _, c := range promoted {
		if c.ID != "a" {
			assert.True(t, c.Orphan, c.ID)
			assert.Empty(t, c.Replies)
		}
	}

	dropped := BuildTree(raws, nil, Options{Orphans: OrphanDrop})
	assert.Equal(t, []string{"a"}, keys(dropped))
	assert.Equal(t, []string{"b"}, keys(dropped[0].Replies))
}

func TestBuildTree_OneLevelNesting(t *testing.T) {
	raws := []model.RawComment{
		raw("a", "", "", 0), raw("b", "a", "", 1), raw("c", "b", "", 2),
		raw("d", "c", "", 3), raw("e", "a", "", 4), raw("f", "", "", 5),
	}
	for _, policy := range []OrphanPolicy{OrphanPromote, OrphanDrop} {
		for _, c := range BuildTree(raws, nil, Options{Orphans: policy}) {
			if c.ParentID != "" {
				assert.Empty(t, c.Replies, c.ID)
			}
			for _, r := range c.Replies {
				assert.Empty(t, r.Replies, r.ID)
			}
		}
	}
}

func TestFlatten_RoundTrip(t *testing.T) {
	raws := []model.RawComment{
		raw("a", "", "", 0), raw("b", "a", "", 1), raw("c", "a", "", 2),
		raw("d", "", "", 3), raw("e", "d", "", 4),
	}
	flat := Flatten(BuildTree(raws, nil, Options{}))

	got := keys(flat)
	want := []string{"a", "b", "c", "d", "e"}
	sort.Strings(got)
	assert.Equal(t, want, got)

	// 每条回复都出现在其父评论之后，且父评论之前最近的顶层节点就是它的父评论
	lastTop := ""
	for _, c := range flat {
		assert.Empty(t, c.Replies)
		if !c.IsReply {
			lastTop = c.ID
			continue
		}
		assert.Equal(t, c.ParentID, lastTop, c.ID)
	}
}

func TestFlatten_ReplyToFallsBackToParentAuthor(t *testing.T) {
	explicit := raw("c", "a", "", 2)
	explicit.ReplyTo = "bob"
	flat := Flatten(BuildTree([]model.RawComment{raw("a", "", "", 0), raw("b", "a", "", 1), explicit}, nil, Options{}))

	require.Len(t, flat, 3)
	assert.False(t, flat[0].IsReply)
	assert.Equal(t, "", flat[0].ReplyTo)
	assert.True(t, flat[1].IsReply)
	assert.Equal(t, "bob", flat[1].ReplyTo)
	assert.Equal(t, "user-a", flat[2].ReplyTo)
}

func TestParseOrphanPolicy(t *testing.T) {
	p, err := ParseOrphanPolicy("drop")
	require.NoError(t, err)
	assert.Equal(t, OrphanDrop, p)

	_, err = ParseOrphanPolicy("keep")
	assert.Error(t, err)
}
