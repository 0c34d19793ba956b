package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"kidsafe-go/internal/model"
	"kidsafe-go/internal/repository"
	"kidsafe-go/pkg/hash"
	"kidsafe-go/pkg/log"
)

// 规则列表的边界限制
const (
	MaxRuleEntries     = 100
	MaxRuleEntryLength = 100
	minKidPasswordLen  = 6
)

// ChildInput 创建或修改孩子账号的参数，修改时 nil 字段保持不变。
type ChildInput struct {
	Email    string
	Password *string
	Name     *string
}

// RulesInput 更新内容规则的参数。
type RulesInput struct {
	Mode     model.RuleMode
	Topics   []string
	Keywords []string
}

// SessionWithMessages 会话及其消息。
type SessionWithMessages struct {
	Session  model.ChatSession `json:"session"`
	Messages []model.Message   `json:"messages"`
}

// ChildHistory 家长视角的完整聊天记录（包含被拦截的消息）。
type ChildHistory struct {
	Child    model.Child           `json:"child"`
	Sessions []SessionWithMessages `json:"sessions"`
}

// ChildAnalytics 孩子使用情况的基础统计。
type ChildAnalytics struct {
	ChildID         string     `json:"childId"`
	ChildName       string     `json:"childName"`
	TotalSessions   int64      `json:"totalSessions"`
	TotalMessages   int64      `json:"totalMessages"`
	BlockedMessages int64      `json:"blockedMessages"`
	LastActivity    *time.Time `json:"lastActivity"`
}

// ParentService 家长侧的孩子账号、内容规则与记录查看。
type ParentService interface {
	CreateChild(ctx context.Context, parentID string, in ChildInput) (*model.Child, error)
	ListChildren(ctx context.Context, parentID string) ([]model.Child, error)
	UpdateChild(ctx context.Context, parentID, childID string, in ChildInput) (*model.Child, error)
	DeleteChild(ctx context.Context, parentID, childID string) error
	GetRules(ctx context.Context, parentID string) (*model.ContentRule, error)
	UpdateRules(ctx context.Context, parentID string, in RulesInput) (*model.ContentRule, error)
	ChildHistory(ctx context.Context, parentID, childID string) (*ChildHistory, error)
	ChildAnalytics(ctx context.Context, parentID, childID string) (*ChildAnalytics, error)
	// ChildOf 返回属于该家长的孩子，否则返回 ErrNotFound。
	ChildOf(ctx context.Context, parentID, childID string) (*model.Child, error)
}

type parentService struct {
	childRepo   repository.ChildRepository
	ruleRepo    repository.ContentRuleRepository
	sessionRepo repository.SessionRepository
}

// NewParentService 创建一个新的 ParentService 实例。
func NewParentService(childRepo repository.ChildRepository, ruleRepo repository.ContentRuleRepository, sessionRepo repository.SessionRepository) ParentService {
	return &parentService{childRepo: childRepo, ruleRepo: ruleRepo, sessionRepo: sessionRepo}
}

func (s *parentService) ChildOf(ctx context.Context, parentID, childID string) (*model.Child, error) {
	child, err := s.childRepo.FindByIDAndParent(ctx, childID, parentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: child", ErrNotFound)
		}
		return nil, err
	}
	return child, nil
}

func (s *parentService) CreateChild(ctx context.Context, parentID string, in ChildInput) (*model.Child, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Password == nil || len(*in.Password) < minKidPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minKidPasswordLen)
	}

	_, err = s.childRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := hash.HashPassword(*in.Password)
	if err != nil {
		return nil, err
	}
	child := &model.Child{ParentID: parentID, Email: email, PasswordHash: hashed, Name: strings.TrimSpace(*in.Name)}
	if err := s.childRepo.Create(ctx, child); err != nil {
		return nil, err
	}
	log.Infof("[ParentService] 孩子账号创建成功, parentId: %s, childId: %s", parentID, child.ID)
	return child, nil
}

func (s *parentService) ListChildren(ctx context.Context, parentID string) ([]model.Child, error) {
	return s.childRepo.ListByParent(ctx, parentID)
}

func (s *parentService) UpdateChild(ctx context.Context, parentID, childID string, in ChildInput) (*model.Child, error) {
	child, err := s.ChildOf(ctx, parentID, childID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		child.Name = name
	}
	if in.Password != nil {
		if len(*in.Password) < minKidPasswordLen {
			return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minKidPasswordLen)
		}
		hashed, err := hash.HashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		child.PasswordHash = hashed
	}
	if err := s.childRepo.Update(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

func (s *parentService) DeleteChild(ctx context.Context, parentID, childID string) error {
	if _, err := s.ChildOf(ctx, parentID, childID); err != nil {
		return err
	}
	if err := s.childRepo.Delete(ctx, childID); err != nil {
		return err
	}
	log.Infof("[ParentService] 孩子账号已删除, parentId: %s, childId: %s", parentID, childID)
	return nil
}

func (s *parentService) GetRules(ctx context.Context, parentID string) (*model.ContentRule, error) {
	rule, err := s.ruleRepo.GetByParentID(ctx, parentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: content rules", ErrNotFound)
		}
		return nil, err
	}
	return rule, nil
}

func (s *parentService) UpdateRules(ctx context.Context, parentID string, in RulesInput) (*model.ContentRule, error) {
	if !in.Mode.Valid() {
		return nil, fmt.Errorf("%w: mode must be allowlist or blocklist", ErrValidation)
	}
	topics, err := normalizeRuleEntries("topics", in.Topics)
	if err != nil {
		return nil, err
	}
	keywords, err := normalizeRuleEntries("keywords", in.Keywords)
	if err != nil {
		return nil, err
	}

	rule, err := s.GetRules(ctx, parentID)
	if err != nil {
		return nil, err
	}
	rule.Mode = in.Mode
	rule.Topics = topics
	rule.Keywords = keywords
	if err := s.ruleRepo.Update(ctx, rule); err != nil {
		return nil, err
	}
	log.Infof("[ParentService] 内容规则已更新, parentId: %s, mode: %s, topics: %d, keywords: %d", parentID, rule.Mode, len(topics), len(keywords))
	return rule, nil
}

// normalizeRuleEntries 去除首尾空白，按大小写不敏感去重并保留首次出现的顺序。
func normalizeRuleEntries(field string, entries []string) ([]string, error) {
	if len(entries) > MaxRuleEntries {
		return nil, fmt.Errorf("%w: %s cannot exceed %d entries", ErrValidation, field, MaxRuleEntries)
	}
	out := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			return nil, fmt.Errorf("%w: %s cannot contain empty entries", ErrValidation, field)
		}
		if len([]rune(e)) > MaxRuleEntryLength {
			return nil, fmt.Errorf("%w: %s entries cannot exceed %d characters", ErrValidation, field, MaxRuleEntryLength)
		}
		key := strings.ToLower(e)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// ChildHistory 返回全部会话（新的在前）及其全部消息，包括被拦截的消息。
func (s *parentService) ChildHistory(ctx context.Context, parentID, childID string) (*ChildHistory, error) {
	child, err := s.ChildOf(ctx, parentID, childID)
	if err != nil {
		return nil, err
	}
	sessions, _, err := s.sessionRepo.ListSessions(ctx, childID, 0, -1)
	if err != nil {
		return nil, err
	}
	history := &ChildHistory{Child: *child, Sessions: make([]SessionWithMessages, 0, len(sessions))}
	for _, session := range sessions {
		messages, err := s.sessionRepo.ListMessages(ctx, session.ID, false)
		if err != nil {
			return nil, err
		}
		history.Sessions = append(history.Sessions, SessionWithMessages{Session: session, Messages: messages})
	}
	return history, nil
}

func (s *parentService) ChildAnalytics(ctx context.Context, parentID, childID string) (*ChildAnalytics, error) {
	child, err := s.ChildOf(ctx, parentID, childID)
	if err != nil {
		return nil, err
	}
	stats, err := s.sessionRepo.Stats(ctx, childID)
	if err != nil {
		return nil, err
	}
	return &ChildAnalytics{
		ChildID:         child.ID,
		ChildName:       child.Name,
		TotalSessions:   stats.TotalSessions,
		TotalMessages:   stats.TotalMessages,
		BlockedMessages: stats.BlockedMessages,
		LastActivity:    stats.LastActivity,
	}, nil
}
