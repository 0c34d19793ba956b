package handler

import (
	"github.com/gin-gonic/gin"

	"kidsafe-go/internal/service"
	"kidsafe-go/pkg/log"
)

// InsightHandler 家长查看学习看板与手动触发消息分析。
type InsightHandler struct {
	insightService service.InsightService
	parentService  service.ParentService
}

func NewInsightHandler(insightService service.InsightService, parentService service.ParentService) *InsightHandler {
	return &InsightHandler{insightService: insightService, parentService: parentService}
}

func (h *InsightHandler) Dashboard(c *gin.Context) {
	dashboard, err := h.insightService.Dashboard(c.Request.Context(), currentUserID(c), c.Param("childId"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", dashboard)
}

// Process 同步补算该孩子尚未分析的消息。
func (h *InsightHandler) Process(c *gin.Context) {
	ctx := c.Request.Context()
	child, err := h.parentService.ChildOf(ctx, currentUserID(c), c.Param("childId"))
	if err != nil {
		respondError(c, err)
		return
	}
	processed, err := h.insightService.ProcessChild(ctx, child.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[InsightHandler] 手动触发分析完成, childId: %s, processed: %d", child.ID, processed)
	ok(c, "success", gin.H{"processed": processed})
}
