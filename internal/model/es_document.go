package model

import "fmt"

// MessageDocument 代表存储在 Elasticsearch 中的一条聊天消息。
// 家长检索时需要看到被拦截的尝试，因此 blocked 消息同样入索引。
type MessageDocument struct {
	DocID       string    `json:"doc_id"` // 唯一标识，等于消息 ID
	MessageID   uint      `json:"message_id"`
	SessionID   string    `json:"session_id"`
	ChildID     string    `json:"child_id"`
	ParentID    string    `json:"parent_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Blocked     bool      `json:"blocked"`
	BlockReason string    `json:"block_reason,omitempty"`
	CreatedAt   LocalTime `json:"created_at"`
}

// NewMessageDocument 由数据库消息构造索引文档。
func NewMessageDocument(msg Message, childID, parentID string) MessageDocument {
	doc := MessageDocument{
		DocID:     fmt.Sprintf("%d", msg.ID),
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		ChildID:   childID,
		ParentID:  parentID,
		Role:      msg.Role,
		Content:   msg.Content,
		Blocked:   msg.Blocked,
		CreatedAt: LocalTime(msg.CreatedAt),
	}
	if msg.BlockReason != nil {
		doc.BlockReason = *msg.BlockReason
	}
	return doc
}

// MessageSearchHit 返回给前端的检索结果。
type MessageSearchHit struct {
	MessageID   uint    `json:"messageId"`
	SessionID   string  `json:"sessionId"`
	Role        string  `json:"role"`
	Content     string  `json:"content"`
	Blocked     bool    `json:"blocked"`
	BlockReason string  `json:"blockReason,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	Score       float64 `json:"score"`
}
