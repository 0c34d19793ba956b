package handler

import (
	"github.com/gin-gonic/gin"

	"kidsafe-go/internal/middleware"
	"kidsafe-go/internal/service"
	"kidsafe-go/pkg/token"
)

// Services 路由所需的全部业务服务。
type Services struct {
	Auth       service.AuthService
	Parent     service.ParentService
	Chat       service.ChatService
	Insight    service.InsightService
	Search     service.SearchService
	Transcript service.TranscriptService
}

// NewRouter 创建路由引擎并注册 /api/v1 下的全部路由。
func NewRouter(svc Services, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	authHandler := NewAuthHandler(svc.Auth)
	parentHandler := NewParentHandler(svc.Parent)
	insightHandler := NewInsightHandler(svc.Insight, svc.Parent)
	searchHandler := NewSearchHandler(svc.Search, svc.Transcript)
	kidHandler := NewKidHandler(svc.Chat)
	chatHandler := NewChatHandler(svc.Chat, jwtManager, svc.Auth)
	authed := middleware.AuthMiddleware(jwtManager, svc.Auth)

	apiV1 := r.Group("/api/v1")
	{
		// 无需认证的路由 (公开访问)
		auth := apiV1.Group("/auth")
		{
			auth.POST("/parent/register", authHandler.RegisterParent)
			auth.POST("/parent/login", authHandler.LoginParent)
			auth.POST("/kid/login", authHandler.LoginKid)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", authed, authHandler.Logout)
		}

		parent := apiV1.Group("/parent")
		parent.Use(authed, middleware.RequireRole(token.RoleParent))
		{
			parent.POST("/children", parentHandler.CreateChild)
			parent.GET("/children", parentHandler.ListChildren)
			parent.PUT("/children/:childId", parentHandler.UpdateChild)
			parent.DELETE("/children/:childId", parentHandler.DeleteChild)
			parent.GET("/content-rules", parentHandler.GetRules)
			parent.PUT("/content-rules", parentHandler.UpdateRules)
			parent.GET("/children/:childId/chat-history", parentHandler.ChildHistory)
			parent.GET("/children/:childId/analytics", parentHandler.ChildAnalytics)
			parent.GET("/children/:childId/insights", insightHandler.Dashboard)
			parent.POST("/children/:childId/insights/process", insightHandler.Process)
			parent.GET("/children/:childId/search", searchHandler.Search)
			parent.POST("/children/:childId/sessions/:sessionId/transcript", searchHandler.ExportTranscript)
		}

		// WebSocket 握手无法携带请求头，token 走查询参数，单独校验
		apiV1.GET("/kid/chat/ws", chatHandler.Handle)

		kid := apiV1.Group("/kid")
		kid.Use(authed, middleware.RequireRole(token.RoleKid))
		{
			kid.POST("/chat", kidHandler.Chat)
			kid.GET("/chat-history", kidHandler.History)
			kid.GET("/current-session", kidHandler.CurrentSession)
			kid.GET("/chat-sessions/recent", kidHandler.RecentSessions)
			kid.GET("/chat-sessions", kidHandler.ListSessions)
			kid.POST("/chat-sessions", kidHandler.CreateSession)
			kid.GET("/chat-sessions/:sessionId", kidHandler.GetSession)
			kid.POST("/chat-sessions/:sessionId/end", kidHandler.EndSession)
		}
	}
	return r
}
