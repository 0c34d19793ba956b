package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kidsafe-go/internal/middleware"
	"kidsafe-go/internal/service"
	"kidsafe-go/pkg/log"
)

// AuthHandler 负责处理注册、登录与 token 相关的 API 请求。
type AuthHandler struct {
	authService service.AuthService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRequest 定义了家长注册 API 的请求体结构。
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest 定义了登录 API 的请求体结构，家长与孩子共用。
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RegisterParent 处理家长注册请求。
func (h *AuthHandler) RegisterParent(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	parent, err := h.authService.RegisterParent(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Parent registered successfully", parent)
}

// LoginParent 处理家长登录请求。
func (h *AuthHandler) LoginParent(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	pair, err := h.authService.LoginParent(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		log.Warnf("LoginParent: 登录失败: %v", err)
		respondError(c, err)
		return
	}
	ok(c, "Login successful", pair)
}

// LoginKid 处理孩子登录请求。
func (h *AuthHandler) LoginKid(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	pair, err := h.authService.LoginKid(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		log.Warnf("LoginKid: 登录失败: %v", err)
		respondError(c, err)
		return
	}
	ok(c, "Login successful", pair)
}

// RefreshToken 处理刷新 token 的请求。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: Failed to refresh token, error: %v", err)
		respondError(c, err)
		return
	}
	log.Info("Token refreshed successfully")
	ok(c, "Token refreshed successfully", pair)
}

// Logout 将当前 access token 加入黑名单，可选地一并注销 refresh token。
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.authService.Logout(ctx, c.GetString(middleware.ContextToken)); err != nil {
		respondError(c, err)
		return
	}
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		if err := h.authService.Logout(ctx, req.RefreshToken); err != nil {
			log.Warnf("Logout: 注销 refresh token 失败: %v", err)
		}
	}
	ok(c, "Logged out successfully", nil)
}
