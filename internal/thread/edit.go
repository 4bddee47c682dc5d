package thread

import "crm-feed/internal/model"

// 以下编辑函数均不修改入参，返回新的切片。
// 已发布给订阅者的快照因此可以安全共享。

// Count 统计树中节点总数（顶层 + 回复）
func Count(tree []model.Comment) int {
	n := len(tree)
	for i := range tree {
		n += len(tree[i].Replies)
	}
	return n
}

// Find 按 Key 查找节点，reply 为 -1 表示顶层评论
func Find(tree []model.Comment, key string) (top, reply int, ok bool) {
	for i := range tree {
		if tree[i].Key() == key {
			return i, -1, true
		}
		for j := range tree[i].Replies {
			if tree[i].Replies[j].Key() == key {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}

// Get 按 Key 取节点副本
func Get(tree []model.Comment, key string) (model.Comment, bool) {
	top, reply, ok := Find(tree, key)
	if !ok {
		return model.Comment{}, false
	}
	if reply < 0 {
		return tree[top], true
	}
	return tree[top].Replies[reply], true
}

// PrependTop 在顶层列表最前面插入评论
func PrependTop(tree []model.Comment, c model.Comment) []model.Comment {
	out := make([]model.Comment, 0, len(tree)+1)
	out = append(out, c)
	return append(out, tree...)
}

// PrependReply 在父评论的回复列表最前面插入回复，父评论不存在时返回 false
func PrependReply(tree []model.Comment, parentKey string, c model.Comment) ([]model.Comment, bool) {
	top, reply, ok := Find(tree, parentKey)
	if !ok || reply >= 0 {
		return tree, false
	}
	out := copyTop(tree)
	replies := make([]model.Comment, 0, len(out[top].Replies)+1)
	replies = append(replies, c)
	out[top].Replies = append(replies, out[top].Replies...)
	return out, true
}

// Replace 原位替换节点，用于把待确认节点换成服务端确认后的节点
func Replace(tree []model.Comment, key string, c model.Comment) ([]model.Comment, bool) {
	return Update(tree, key, func(n *model.Comment) {
		replies := n.Replies
		*n = c
		if n.IsTopLevel() && n.Replies == nil {
			n.Replies = replies
		}
	})
}

// Update 原位修改节点
func Update(tree []model.Comment, key string, fn func(c *model.Comment)) ([]model.Comment, bool) {
	top, reply, ok := Find(tree, key)
	if !ok {
		return tree, false
	}
	out := copyTop(tree)
	if reply < 0 {
		fn(&out[top])
		return out, true
	}
	replies := make([]model.Comment, len(out[top].Replies))
	copy(replies, out[top].Replies)
	fn(&replies[reply])
	out[top].Replies = replies
	return out, true
}

// Remove 删除节点：顶层评论连同其全部回复一起删除，回复只删除自身。
// 返回删除的节点数，未找到时为 0。
func Remove(tree []model.Comment, key string) ([]model.Comment, int) {
	top, reply, ok := Find(tree, key)
	if !ok {
		return tree, 0
	}
	if reply < 0 {
		removed := 1 + len(tree[top].Replies)
		out := make([]model.Comment, 0, len(tree)-1)
		out = append(out, tree[:top]...)
		return append(out, tree[top+1:]...), removed
	}
	out := copyTop(tree)
	old := out[top].Replies
	replies := make([]model.Comment, 0, len(old)-1)
	replies = append(replies, old[:reply]...)
	out[top].Replies = append(replies, old[reply+1:]...)
	return out, 1
}

// MergePending 把旧树里仍在等待确认的节点合并进新拉取的树。
// 父评论已不存在的待确认回复被丢弃，由其自身的确认流程收尾。
func MergePending(fresh, old []model.Comment) []model.Comment {
	var tops []model.Comment
	type pendingReply struct {
		parent string
		c      model.Comment
	}
	var replies []pendingReply
	for i := range old {
		if old[i].IsTemp() {
			c := old[i]
			c.Replies = nil
			tops = append(tops, c)
		}
		for _, r := range old[i].Replies {
			if r.IsTemp() {
				replies = append(replies, pendingReply{parent: old[i].Key(), c: r})
			}
		}
	}
	if len(tops) == 0 && len(replies) == 0 {
		return fresh
	}

	out := fresh
	for i := len(replies) - 1; i >= 0; i-- {
		out, _ = PrependReply(out, replies[i].parent, replies[i].c)
	}
	for i := len(tops) - 1; i >= 0; i-- {
		out = PrependTop(out, tops[i])
	}
	return out
}

func copyTop(tree []model.Comment) []model.Comment {
	out := make([]model.Comment, len(tree))
	copy(out, tree)
	return out
}
