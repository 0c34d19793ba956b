package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultSessionTitle 会话尚未生成标题时的占位值。
const DefaultSessionTitle = "New Chat"

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession 孩子的一次会话。EndedAt 为空表示会话仍处于打开状态。
type ChatSession struct {
	ID            string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChildID       string     `gorm:"type:varchar(36);index:idx_child_open,priority:1;not null" json:"childId"`
	Title         string     `gorm:"type:varchar(2000);not null" json:"title"`
	StartedAt     time.Time  `gorm:"precision:6;not null;index:idx_child_open,priority:3" json:"startedAt"`
	EndedAt       *time.Time `gorm:"precision:6;index:idx_child_open,priority:2" json:"endedAt"`
	LastMessageAt *time.Time `gorm:"precision:6" json:"lastMessageAt"`
	MessageCount  int        `gorm:"not null;default:0" json:"messageCount"`

	Messages []Message `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// IsOpen 会话是否仍可隐式续用。
func (s *ChatSession) IsOpen() bool {
	return s.EndedAt == nil
}

// HasDefaultTitle 标题是否仍是占位值。
func (s *ChatSession) HasDefaultTitle() bool {
	return s.Title == "" || s.Title == DefaultSessionTitle
}

// Message 会话中的一条消息，写入后不再修改。
// 被拦截的消息只可能是 user 角色，且 BlockReason 非空。
type Message struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"type:varchar(36);index;not null" json:"sessionId"`
	Role        string    `gorm:"type:varchar(20);not null" json:"role"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Blocked     bool      `gorm:"not null;default:false" json:"blocked"`
	BlockReason *string   `gorm:"type:text" json:"blockReason"`
	CreatedAt   time.Time `gorm:"precision:6;index" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}
