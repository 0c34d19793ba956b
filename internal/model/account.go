// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Parent 家长账号。注册时同时创建其唯一的 ContentRule。
type Parent struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	Children    []Child      `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
	ContentRule *ContentRule `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Parent) TableName() string {
	return "parents"
}

func (p *Parent) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Child 孩子账号，隶属于唯一的家长。
type Child struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ParentID     string    `gorm:"type:varchar(36);index;not null" json:"parentId"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	Sessions []ChatSession `gorm:"foreignKey:ChildID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Child) TableName() string {
	return "children"
}

func (c *Child) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
