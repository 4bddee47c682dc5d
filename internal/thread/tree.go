// Package thread 负责把后端返回的扁平评论列表组装成两级评论树，以及反向展开。
//
// 评论树只有两层：顶层评论和它们的直接回复。回复本身的 Replies 永远为空。
package thread

import (
	"fmt"
	"sort"

	"crm-feed/internal/model"
)

// OrphanPolicy 父评论不在本批顶层评论中的回复如何处理
type OrphanPolicy int

const (
	// OrphanPromote 提升为顶层评论并标记 Orphan
	OrphanPromote OrphanPolicy = iota
	// OrphanDrop 直接丢弃
	OrphanDrop
)

// ParseOrphanPolicy 解析配置中的 promote / drop
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch s {
	case "", "promote":
		return OrphanPromote, nil
	case "drop":
		return OrphanDrop, nil
	default:
		return OrphanPromote, fmt.Errorf("unknown orphan policy %q", s)
	}
}

// Options 组装评论树的选项
type Options struct {
	Orphans OrphanPolicy
	Format  Formatter
}

// BuildTree 将扁平评论列表组装为两级评论树。
// liked 为当前用户的点赞账本，用于初始化 Liked。
func BuildTree(raws []model.RawComment, liked map[string]bool, opts Options) []model.Comment {
	roots := make([]model.Comment, 0, len(raws))
	if len(raws) == 0 {
		return roots
	}

	format := opts.Format
	if format == nil {
		format = LayoutFormatter(defaultLayout, nil)
	}

	// 先收集顶层评论，回复只能挂到顶层评论上
	index := make(map[string]int, len(raws))
	for i := range raws {
		if raws[i].ParentID != "" {
			continue
		}
		index[raws[i].ID] = len(roots)
		roots = append(roots, toComment(&raws[i], liked, format))
	}

	var orphans []model.Comment
	for i := range raws {
		raw := &raws[i]
		if raw.ParentID == "" {
			continue
		}
		pos, ok := index[raw.ParentID]
		if !ok {
			if opts.Orphans == OrphanPromote {
				c := toComment(raw, liked, format)
				c.Orphan = true
				orphans = append(orphans, c)
			}
			continue
		}
		roots[pos].Replies = append(roots[pos].Replies, toComment(raw, liked, format))
	}
	roots = append(roots, orphans...)

	sortNewestFirst(roots)
	for i := range roots {
		sortNewestFirst(roots[i].Replies)
	}
	return roots
}

// Flatten 先序展开评论树，父评论在前，回复紧随其后。
// 回复标记 IsReply，未指定 ReplyTo 时取最近祖先的作者名。
func Flatten(tree []model.Comment) []model.Comment {
	out := make([]model.Comment, 0, Count(tree))
	var walk func(nodes []model.Comment, level int, ancestor string)
	walk = func(nodes []model.Comment, level int, ancestor string) {
		for i := range nodes {
			c := nodes[i]
			c.Replies = nil
			c.IsReply = level > 0
			if c.IsReply && c.ReplyTo == "" {
				c.ReplyTo = ancestor
			}
			out = append(out, c)
			walk(nodes[i].Replies, level+1, nodes[i].Author)
		}
	}
	walk(tree, 0, "")
	return out
}

func toComment(raw *model.RawComment, liked map[string]bool, format Formatter) model.Comment {
	return model.Comment{
		ID:        raw.ID,
		State:     model.StateConfirmed,
		Text:      raw.Content,
		Author:    raw.UserName,
		AuthorID:  raw.CreatedBy,
		CreatedAt: raw.CreatedAt,
		Timestamp: format(raw.CreatedAt),
		Liked:     liked[raw.ID],
		LikeCount: max(raw.LikesCount, 0),
		ParentID:  raw.ParentID,
		ReplyTo:   raw.ReplyTo,
	}
}

// sortNewestFirst 按创建时间倒序，时间相同保持原顺序
func sortNewestFirst(nodes []model.Comment) {
	if len(nodes) <= 1 {
		return
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].CreatedAt.After(nodes[j].CreatedAt)
	})
}
