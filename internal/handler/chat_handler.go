package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kidsafe-go/internal/filter"
	"kidsafe-go/internal/middleware"
	"kidsafe-go/internal/service"
	"kidsafe-go/pkg/log"
	"kidsafe-go/pkg/token"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// wsChatRequest 客户端通过 WebSocket 发送的一条消息。
type wsChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ChatHandler 负责处理孩子端的 WebSocket 流式聊天连接。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
	revocation  middleware.RevocationChecker
}

// NewChatHandler 创建一个新的 ChatHandler。revocation 可以为 nil。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager, revocation middleware.RevocationChecker) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
		revocation:  revocation,
	}
}

// wsWriterInterceptor 把服务商写出的原始分块包装为 {"chunk": "..."}。
type wsWriterInterceptor struct {
	conn *websocket.Conn
}

func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	payload, err := json.Marshal(map[string]string{"chunk": string(data)})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, payload)
}

// Handle 处理一个传入的 WebSocket 连接，token 通过查询参数传入。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, ok := middleware.Authenticate(c, h.jwtManager, h.revocation, c.Query("token"))
	if !ok {
		return
	}
	if claims.Role != token.RoleKid {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，childId: %s", claims.UserID)
	writer := &wsWriterInterceptor{conn: conn}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		var req wsChatRequest
		if err := json.Unmarshal(raw, &req); err != nil || strings.TrimSpace(req.Message) == "" {
			writeFrame(conn, gin.H{"type": "error", "error": "Message cannot be empty"})
			continue
		}
		if utf8.RuneCountInString(req.Message) > filter.MaxMessageLength {
			writeFrame(conn, gin.H{"type": "error", "error": "Message is too long"})
			continue
		}

		result, err := h.chatService.StreamMessage(c.Request.Context(), claims.UserID, req.SessionID, req.Message, writer)
		if err != nil {
			status, message := errorStatus(err)
			if status >= http.StatusInternalServerError {
				log.Errorf("处理流式响应失败, childId: %s, err: %v", claims.UserID, err)
			}
			writeFrame(conn, gin.H{"type": "error", "error": message})
			writeCompletion(conn, nil)
			continue
		}

		if result.WasBlocked {
			writeFrame(conn, gin.H{
				"type":        "blocked",
				"blockReason": result.BlockReason,
				"sessionId":   result.SessionID,
				"message":     result.UserMessage,
			})
		}
		writeCompletion(conn, result)
	}
}

// writeCompletion 每轮结束都发送完成通知，出错时 result 为 nil。
func writeCompletion(conn *websocket.Conn, result *service.TurnResult) {
	frame := gin.H{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	}
	if result != nil {
		frame["sessionId"] = result.SessionID
		frame["sessionTitle"] = result.SessionTitle
		frame["wasBlocked"] = result.WasBlocked
	}
	writeFrame(conn, frame)
}

func writeFrame(conn *websocket.Conn, frame gin.H) {
	b, err := json.Marshal(frame)
	if err != nil {
		log.Errorf("序列化 WebSocket 帧失败: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 帧失败: %v", err)
	}
}
