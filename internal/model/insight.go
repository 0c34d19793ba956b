package model

import "time"

// MessageInsight 与 Message 一一对应，首次分析时创建，之后不再更新。
type MessageInsight struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	MessageID            uint      `gorm:"uniqueIndex;not null" json:"messageId"`
	ChildID              string    `gorm:"type:varchar(36);index;not null" json:"childId"`
	Topic                *string   `gorm:"type:varchar(100)" json:"topic"`
	IsLearningQuestion   bool      `gorm:"not null;default:false" json:"isLearningQuestion"`
	EstimatedTimeSeconds int       `gorm:"not null;default:0" json:"estimatedTimeSeconds"`
	CreatedAt            time.Time `json:"createdAt"`

	Message Message `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
}

func (MessageInsight) TableName() string {
	return "message_insights"
}

// ChildTopicSummary 每个 (child, topic) 一行，累计时长与消息数。
type ChildTopicSummary struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ChildID          string    `gorm:"type:varchar(36);uniqueIndex:idx_child_topic;not null" json:"childId"`
	Topic            string    `gorm:"type:varchar(100);uniqueIndex:idx_child_topic;not null" json:"topic"`
	TotalTimeSeconds int       `gorm:"not null;default:0" json:"totalTimeSeconds"`
	MessageCount     int       `gorm:"not null;default:0" json:"messageCount"`
	LastAccessed     time.Time `json:"lastAccessed"`

	Child Child `gorm:"foreignKey:ChildID;constraint:OnDelete:CASCADE" json:"-"`
}

func (ChildTopicSummary) TableName() string {
	return "child_topic_summaries"
}

// AllModels 返回需要迁移的全部模型，供启动和测试共用。
func AllModels() []interface{} {
	return []interface{}{
		&Parent{}, &Child{}, &ContentRule{}, &ChatSession{}, &Message{},
		&MessageInsight{}, &ChildTopicSummary{},
	}
}
