// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"

	"gorm.io/gorm"

	"kidsafe-go/internal/model"
)

// ParentRepository 接口定义了家长账号的持久化操作。
type ParentRepository interface {
	// CreateWithRule 在同一事务中创建家长及其内容规则。
	CreateWithRule(ctx context.Context, parent *model.Parent, rule *model.ContentRule) error
	FindByEmail(ctx context.Context, email string) (*model.Parent, error)
	FindByID(ctx context.Context, id string) (*model.Parent, error)
}

type parentRepository struct {
	db *gorm.DB
}

// NewParentRepository 创建一个新的 ParentRepository 实例。
func NewParentRepository(db *gorm.DB) ParentRepository {
	return &parentRepository{db: db}
}

func (r *parentRepository) CreateWithRule(ctx context.Context, parent *model.Parent, rule *model.ContentRule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(parent).Error; err != nil {
			return err
		}
		rule.ParentID = parent.ID
		return tx.Create(rule).Error
	})
}

func (r *parentRepository) FindByEmail(ctx context.Context, email string) (*model.Parent, error) {
	var parent model.Parent
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&parent).Error; err != nil {
		return nil, err
	}
	return &parent, nil
}

func (r *parentRepository) FindByID(ctx context.Context, id string) (*model.Parent, error) {
	var parent model.Parent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&parent).Error; err != nil {
		return nil, err
	}
	return &parent, nil
}

// ChildRepository 接口定义了孩子账号的持久化操作。
type ChildRepository interface {
	Create(ctx context.Context, child *model.Child) error
	FindByEmail(ctx context.Context, email string) (*model.Child, error)
	FindByID(ctx context.Context, id string) (*model.Child, error)
	// FindByIDAndParent 只返回属于该家长的孩子。
	FindByIDAndParent(ctx context.Context, id, parentID string) (*model.Child, error)
	ListByParent(ctx context.Context, parentID string) ([]model.Child, error)
	ListIDs(ctx context.Context) ([]string, error)
	Update(ctx context.Context, child *model.Child) error
	// Delete 删除孩子及其全部会话、消息与分析数据。
	Delete(ctx context.Context, id string) error
}

type childRepository struct {
	db *gorm.DB
}

// NewChildRepository 创建一个新的 ChildRepository 实例。
func NewChildRepository(db *gorm.DB) ChildRepository {
	return &childRepository{db: db}
}

func (r *childRepository) Create(ctx context.Context, child *model.Child) error {
	return r.db.WithContext(ctx).Create(child).Error
}

func (r *childRepository) FindByEmail(ctx context.Context, email string) (*model.Child, error) {
	var child model.Child
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&child).Error; err != nil {
		return nil, err
	}
	return &child, nil
}

func (r *childRepository) FindByID(ctx context.Context, id string) (*model.Child, error) {
	var child model.Child
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&child).Error; err != nil {
		return nil, err
	}
	return &child, nil
}

func (r *childRepository) FindByIDAndParent(ctx context.Context, id, parentID string) (*model.Child, error) {
	var child model.Child
	err := r.db.WithContext(ctx).Where("id = ? AND parent_id = ?", id, parentID).First(&child).Error
	if err != nil {
		return nil, err
	}
	return &child, nil
}

func (r *childRepository) ListByParent(ctx context.Context, parentID string) ([]model.Child, error) {
	var children []model.Child
	err := r.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("created_at ASC").Find(&children).Error
	return children, err
}

func (r *childRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Child{}).Pluck("id", &ids).Error
	return ids, err
}

func (r *childRepository) Update(ctx context.Context, child *model.Child) error {
	return r.db.WithContext(ctx).Save(child).Error
}

func (r *childRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessionIDs := tx.Model(&model.ChatSession{}).Select("id").Where("child_id = ?", id)
		messageIDs := tx.Model(&model.Message{}).Select("id").Where("session_id IN (?)", sessionIDs)

		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.MessageInsight{}).Error; err != nil {
			return err
		}
		if err := tx.Where("child_id = ?", id).Delete(&model.ChildTopicSummary{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id IN (?)", sessionIDs).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("child_id = ?", id).Delete(&model.ChatSession{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Child{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ContentRuleRepository 接口定义了内容规则的读写。
type ContentRuleRepository interface {
	GetByParentID(ctx context.Context, parentID string) (*model.ContentRule, error)
	Update(ctx context.Context, rule *model.ContentRule) error
}

type contentRuleRepository struct {
	db *gorm.DB
}

// NewContentRuleRepository 创建一个新的 ContentRuleRepository 实例。
func NewContentRuleRepository(db *gorm.DB) ContentRuleRepository {
	return &contentRuleRepository{db: db}
}

func (r *contentRuleRepository) GetByParentID(ctx context.Context, parentID string) (*model.ContentRule, error) {
	var rule model.ContentRule
	if err := r.db.WithContext(ctx).Where("parent_id = ?", parentID).First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *contentRuleRepository) Update(ctx context.Context, rule *model.ContentRule) error {
	return r.db.WithContext(ctx).Model(rule).Select("mode", "topics", "keywords", "updated_at").Updates(rule).Error
}
