package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kidsafe-go/internal/service"
)

// KidHandler 孩子端的聊天与会话接口。
type KidHandler struct {
	chatService service.ChatService
}

// NewKidHandler 创建一个新的 KidHandler 实例。
func NewKidHandler(chatService service.ChatService) *KidHandler {
	return &KidHandler{chatService: chatService}
}

// ChatRequest 发送一条聊天消息的请求体。
type ChatRequest struct {
	Message   string `json:"message" binding:"required,max=2000"`
	SessionID string `json:"sessionId"`
}

// Chat 执行一轮聊天，被拦截时同样返回 200，由 wasBlocked 区分。
func (h *KidHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	result, err := h.chatService.SendMessage(c.Request.Context(), currentUserID(c), req.SessionID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", result)
}

func (h *KidHandler) History(c *gin.Context) {
	history, err := h.chatService.History(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", history)
}

// CurrentSession 返回当前打开的会话，没有则新建。
func (h *KidHandler) CurrentSession(c *gin.Context) {
	current, err := h.chatService.CurrentSession(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", current)
}

func (h *KidHandler) RecentSessions(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	sessions, err := h.chatService.RecentSessions(c.Request.Context(), currentUserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", sessions)
}

func (h *KidHandler) ListSessions(c *gin.Context) {
	page, err := intQuery(c, "page")
	if err != nil {
		respondError(c, err)
		return
	}
	pageSize, err := intQuery(c, "pageSize")
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := h.chatService.ListSessions(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", result)
}

func (h *KidHandler) CreateSession(c *gin.Context) {
	session, err := h.chatService.CreateSession(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Session created successfully", session)
}

func (h *KidHandler) GetSession(c *gin.Context) {
	session, err := h.chatService.GetSession(c.Request.Context(), currentUserID(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "success", session)
}

func (h *KidHandler) EndSession(c *gin.Context) {
	session, err := h.chatService.EndSession(c.Request.Context(), currentUserID(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, "Session ended successfully", session)
}

// intQuery 读取可选的整数查询参数，缺省返回 0。
func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(key + " must be an integer")
	}
	return n, nil
}
