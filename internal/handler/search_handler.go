package handler

import (
	"github.com/gin-gonic/gin"

	"kidsafe-go/internal/service"
	"kidsafe-go/pkg/log"
)

// SearchHandler 结构体定义了检索与导出相关的处理器。
type SearchHandler struct {
	searchService     service.SearchService
	transcriptService service.TranscriptService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService, transcriptService service.TranscriptService) *SearchHandler {
	return &SearchHandler{
		searchService:     searchService,
		transcriptService: transcriptService,
	}
}

// Search 在孩子的消息中全文检索，?q=关键词&size=条数。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	size, err := intQuery(c, "size")
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[SearchHandler] 收到检索请求, childId: %s, query: %s", c.Param("childId"), query)

	hits, err := h.searchService.SearchChildMessages(c.Request.Context(), currentUserID(c), c.Param("childId"), query, size)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", hits)
}

// ExportTranscript 导出一个会话的文本记录，返回限时下载链接。
func (h *SearchHandler) ExportTranscript(c *gin.Context) {
	export, err := h.transcriptService.Export(c.Request.Context(), currentUserID(c), c.Param("childId"), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "Transcript exported successfully", export)
}
