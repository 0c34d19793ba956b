// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kidsafe-go/internal/middleware"
	"kidsafe-go/internal/service"
	"kidsafe-go/pkg/llm"
	"kidsafe-go/pkg/log"
)

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

func ok(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusOK, message, data)
}

// errorStatus 将业务错误映射为 HTTP 状态码与可展示的文案。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, detail(err, service.ErrValidation)
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, detail(err, service.ErrUnauthorized)
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Access denied"
	case errors.Is(err, service.ErrNotFound):
		what := detail(err, service.ErrNotFound)
		if what == service.ErrNotFound.Error() {
			return http.StatusNotFound, "Not found"
		}
		return http.StatusNotFound, what + " not found"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, detail(err, service.ErrConflict)
	case errors.Is(err, service.ErrServiceUnavailable):
		var providerErr *llm.Error
		if errors.As(err, &providerErr) {
			return http.StatusServiceUnavailable, providerErr.Kind.UserMessage()
		}
		return http.StatusServiceUnavailable, "Service temporarily unavailable. Please try again later."
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// detail 去掉 "%w: " 包装前缀，只保留具体描述。
func detail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func respondError(c *gin.Context, err error) {
	status, message := errorStatus(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.Errorf("[Handler] %s %s 处理失败: %v", c.Request.Method, c.FullPath(), err)
	case status == http.StatusNotFound || status == http.StatusForbidden:
		log.Warnf("[Handler] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	respond(c, status, message, nil)
}

// bindError 请求体结构不合法
func bindError(c *gin.Context, err error) {
	log.Warnf("[Handler] %s %s 请求参数无效: %v", c.Request.Method, c.FullPath(), err)
	respond(c, http.StatusUnprocessableEntity, "Invalid request payload", nil)
}

func currentUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserID)
}

func currentParentID(c *gin.Context) string {
	return c.GetString(middleware.ContextParentID)
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", service.ErrValidation, msg)
}
