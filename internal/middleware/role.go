package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole 检查当前账号的角色。
// 此中间件必须在 AuthMiddleware 之后使用。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		current, exists := c.Get(ContextRole)
		if !exists {
			// AuthMiddleware 未能写入身份，属于路由配置错误
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
			return
		}
		if current != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足", "data": nil})
			return
		}
		c.Next()
	}
}
