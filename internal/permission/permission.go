// Package permission 提供评论删除的能力判定。
package permission

import "crm-feed/internal/model"

const (
	DeleteAnyComment = "comments.delete_any"
	Admin            = "admin"
)

// Checker 判断当前用户能否删除某条评论或回复
type Checker interface {
	CanDeleteComment(permissions []string, c *model.Comment, userID string) bool
}

// Policy 默认策略：作者本人可删除，持有 comments.delete_any 或 admin 可删除任意评论
type Policy struct{}

func (Policy) CanDeleteComment(permissions []string, c *model.Comment, userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	if c.AuthorID != "" && c.AuthorID == userID {
		return true
	}
	for _, p := range permissions {
		if p == DeleteAnyComment || p == Admin {
			return true
		}
	}
	return false
}
