package model

import (
	"time"

	"gorm.io/datatypes"
)

// RuleMode 内容规则的过滤模式。
type RuleMode string

const (
	ModeAllowlist RuleMode = "allowlist"
	ModeBlocklist RuleMode = "blocklist"
)

// Valid 判断模式取值是否合法。
func (m RuleMode) Valid() bool {
	return m == ModeAllowlist || m == ModeBlocklist
}

// DefaultBlockedKeywords 新注册家长的默认屏蔽词。
var DefaultBlockedKeywords = []string{"violence", "drugs", "weapons", "explicit", "adult"}

// ContentRule 每个家长恰好一条。
// Topics 仅在 allowlist 模式下生效，Keywords 仅在 blocklist 模式下生效。
type ContentRule struct {
	ID        uint                        `gorm:"primaryKey" json:"id"`
	ParentID  string                      `gorm:"type:varchar(36);uniqueIndex;not null" json:"parentId"`
	Mode      RuleMode                    `gorm:"type:varchar(20);not null;default:'blocklist'" json:"mode"`
	Topics    datatypes.JSONSlice[string] `json:"topics"`
	Keywords  datatypes.JSONSlice[string] `json:"keywords"`
	CreatedAt time.Time                   `json:"createdAt"`
	UpdatedAt time.Time                   `json:"updatedAt"`
}

func (ContentRule) TableName() string {
	return "content_rules"
}

// NewDefaultContentRule 构造注册时使用的默认规则。
func NewDefaultContentRule(parentID string) *ContentRule {
	keywords := make([]string, len(DefaultBlockedKeywords))
	copy(keywords, DefaultBlockedKeywords)
	return &ContentRule{
		ParentID: parentID,
		Mode:     ModeBlocklist,
		Topics:   datatypes.JSONSlice[string]{},
		Keywords: datatypes.JSONSlice[string](keywords),
	}
}
