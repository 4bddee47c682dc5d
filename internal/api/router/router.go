package router

import (
	"crm-feed/internal/api/handler"
	"crm-feed/internal/api/middleware"

	"github.com/gin-gonic/gin"
)

// PermExport 导出评论线程所需能力
const PermExport = "comments.export"

// Setup 注册所有业务路由
func Setup(r *gin.Engine, commentHandler *handler.CommentHandler) {
	v1 := r.Group("/api/v1")

	// --- 动态评论模块 ---
	feeds := v1.Group("/feeds/:feed_id", middleware.AuthRequired())
	{
		feeds.DELETE("", commentHandler.CloseFeed)
		feeds.DELETE("/error", commentHandler.DismissError)

		comments := feeds.Group("/comments")
		{
			comments.GET("", commentHandler.List)
			comments.GET("/flat", commentHandler.Flat)
			comments.GET("/stream", commentHandler.Stream)
			comments.POST("", commentHandler.Create)
			comments.POST("/export", middleware.PermissionRequired(PermExport), commentHandler.Export)

			comments.POST("/:comment_id/replies", commentHandler.Reply)
			comments.POST("/:comment_id/like", commentHandler.Like)
			comments.POST("/:comment_id/expand", commentHandler.Expand)
			comments.DELETE("/:comment_id", commentHandler.Delete)
		}
	}
}
