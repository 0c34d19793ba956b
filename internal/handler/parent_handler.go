package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kidsafe-go/internal/model"
	"kidsafe-go/internal/service"
)

// ParentHandler 负责家长管理孩子账号、内容规则与查看记录。
type ParentHandler struct {
	parentService service.ParentService
}

// NewParentHandler 创建一个新的 ParentHandler 实例。
func NewParentHandler(parentService service.ParentService) *ParentHandler {
	return &ParentHandler{parentService: parentService}
}

// CreateChildRequest 创建孩子账号的请求体。
type CreateChildRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// UpdateChildRequest 修改孩子账号的请求体，省略的字段保持不变。
type UpdateChildRequest struct {
	Password *string `json:"password"`
	Name     *string `json:"name"`
}

// UpdateRulesRequest 更新内容规则的请求体。
type UpdateRulesRequest struct {
	Mode     model.RuleMode `json:"mode" binding:"required"`
	Topics   []string       `json:"topics"`
	Keywords []string       `json:"keywords"`
}

func (h *ParentHandler) CreateChild(c *gin.Context) {
	var req CreateChildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	child, err := h.parentService.CreateChild(c.Request.Context(), currentUserID(c), service.ChildInput{
		Email:    req.Email,
		Password: &req.Password,
		Name:     &req.Name,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Child created successfully", child)
}

func (h *ParentHandler) ListChildren(c *gin.Context) {
	children, err := h.parentService.ListChildren(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", children)
}

func (h *ParentHandler) UpdateChild(c *gin.Context) {
	var req UpdateChildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	child, err := h.parentService.UpdateChild(c.Request.Context(), currentUserID(c), c.Param("childId"), service.ChildInput{
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "Child updated successfully", child)
}

func (h *ParentHandler) DeleteChild(c *gin.Context) {
	if err := h.parentService.DeleteChild(c.Request.Context(), currentUserID(c), c.Param("childId")); err != nil {
		respondError(c, err)
		return
	}
	ok(c, "Child deleted successfully", nil)
}

func (h *ParentHandler) GetRules(c *gin.Context) {
	rule, err := h.parentService.GetRules(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", rule)
}

func (h *ParentHandler) UpdateRules(c *gin.Context) {
	var req UpdateRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	rule, err := h.parentService.UpdateRules(c.Request.Context(), currentUserID(c), service.RulesInput{
		Mode:     req.Mode,
		Topics:   req.Topics,
		Keywords: req.Keywords,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "Content rules updated successfully", rule)
}

// ChildHistory 返回孩子的全部聊天记录，包括被拦截的消息。
func (h *ParentHandler) ChildHistory(c *gin.Context) {
	history, err := h.parentService.ChildHistory(c.Request.Context(), currentUserID(c), c.Param("childId"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", history)
}

func (h *ParentHandler) ChildAnalytics(c *gin.Context) {
	analytics, err := h.parentService.ChildAnalytics(c.Request.Context(), currentUserID(c), c.Param("childId"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", analytics)
}
