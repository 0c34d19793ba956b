// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kidsafe-go/pkg/log"
	"kidsafe-go/pkg/token"
)

// 上下文中的键
const (
	ContextClaims   = "claims"
	ContextUserID   = "userId"
	ContextRole     = "role"
	ContextParentID = "parentId"
	ContextToken    = "token"
)

// RevocationChecker 判断 token 是否已登出，service.AuthService 满足该接口。
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenString string) (bool, error)
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 access token，校验签名、类型与黑名单，并把身份写入上下文。
func AuthMiddleware(jwtManager *token.JWTManager, revocation RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头", "data": nil})
			return
		}

		// Token 通常以 "Bearer <token>" 的形式提供，我们需要提取出 token 本身
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式", "data": nil})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, ok := Authenticate(c, jwtManager, revocation, tokenString)
		if !ok {
			return
		}
		c.Set(ContextToken, tokenString)
		SetIdentity(c, claims)
		c.Next()
	}
}

// Authenticate 校验 access token，失败时已写出 401 响应。
// WebSocket 握手从查询参数取 token，与请求头共用此校验。
func Authenticate(c *gin.Context, jwtManager *token.JWTManager, revocation RevocationChecker, tokenString string) (*token.CustomClaims, bool) {
	claims, err := jwtManager.VerifyAccessToken(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
		return nil, false
	}
	if revocation != nil {
		revoked, err := revocation.IsRevoked(c.Request.Context(), tokenString)
		if err != nil {
			log.Errorf("检查 token 黑名单失败: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务器内部错误", "data": nil})
			return nil, false
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "token 已失效", "data": nil})
			return nil, false
		}
	}
	return claims, true
}

// SetIdentity 将 claims 中的身份写入上下文。
func SetIdentity(c *gin.Context, claims *token.CustomClaims) {
	c.Set(ContextClaims, claims)
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextRole, claims.Role)
	c.Set(ContextParentID, claims.ParentID)
}
