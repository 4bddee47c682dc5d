package middleware

import (
	"strings"

	"crm-feed/internal/api/response"
	"crm-feed/internal/model"
	"crm-feed/pkg/utils"

	"github.com/gin-gonic/gin"
)

const ContextKeyIdentity = "currentIdentity"

// AuthRequired JWT 认证中间件，要求请求必须携带有效 Token。
// 原始 token 随身份一起保存，调用后端时原样转发。
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, "缺少认证令牌")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(token)
		if err != nil {
			response.Unauthorized(c, "无效或过期的认证令牌")
			c.Abort()
			return
		}

		c.Set(ContextKeyIdentity, claims.Identity(token))
		c.Next()
	}
}

// GetIdentity 从 Gin Context 中获取当前登录用户
func GetIdentity(c *gin.Context) (model.Identity, bool) {
	val, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return model.Identity{}, false
	}
	id, ok := val.(model.Identity)
	return id, ok
}

// PermissionRequired 能力校验中间件（必须在 AuthRequired 之后使用）
func PermissionRequired(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			response.Unauthorized(c, "缺少认证信息")
			c.Abort()
			return
		}
		if !id.HasPermission(name) && !id.HasPermission("admin") {
			response.Forbidden(c, "没有权限执行该操作")
			c.Abort()
			return
		}
		c.Next()
	}
}

// extractToken 从 Authorization 头中提取 Bearer Token
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		// EventSource 无法设置请求头，SSE 允许通过 query 传递
		return c.Query("access_token")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
