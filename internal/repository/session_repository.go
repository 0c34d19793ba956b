package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kidsafe-go/internal/model"
)

// SessionUpdate 描述一次会话元数据变更，nil 字段保持不变。
type SessionUpdate struct {
	Title         *string
	LastMessageAt *time.Time
	// MessageCountDelta 以 SQL 自增方式累加，不做读改写
	MessageCountDelta int
}

// SessionStats 某个孩子会话的汇总数据。
type SessionStats struct {
	TotalSessions   int64
	TotalMessages   int64
	BlockedMessages int64
	LastActivity    *time.Time
}

// SessionRepository 会话与消息的持久化操作。
type SessionRepository interface {
	// FindOpenSession 返回最近打开且未结束的会话，没有时返回 gorm.ErrRecordNotFound。
	FindOpenSession(ctx context.Context, childID string) (*model.ChatSession, error)
	// GetOrCreateOpenSession 在事务中查找打开的会话，不存在则创建。MySQL 下会锁住孩子行。
	GetOrCreateOpenSession(ctx context.Context, childID string, now time.Time) (*model.ChatSession, error)
	CreateSession(ctx context.Context, session *model.ChatSession) error
	// FindSessionByID 按 ID 查找，且必须属于 childID。
	FindSessionByID(ctx context.Context, id, childID string) (*model.ChatSession, error)
	AppendMessage(ctx context.Context, msg *model.Message) error
	UpdateSessionMetadata(ctx context.Context, sessionID string, update SessionUpdate) error
	// ListMessages 按创建顺序返回会话消息。
	ListMessages(ctx context.Context, sessionID string, excludeBlocked bool) ([]model.Message, error)
	// ListUserContents 返回会话中未被拦截的 user 消息内容。
	ListUserContents(ctx context.Context, sessionID string) ([]string, error)
	// ListSessions 按最近活动时间倒序分页。
	ListSessions(ctx context.Context, childID string, offset, limit int) ([]model.ChatSession, int64, error)
	// FirstUserMessages 返回每个会话的第一条未被拦截的 user 消息。
	FirstUserMessages(ctx context.Context, sessionIDs []string) (map[string]string, error)
	EndSession(ctx context.Context, sessionID string, at time.Time) error
	Stats(ctx context.Context, childID string) (*SessionStats, error)
	// Transaction 在同一数据库事务中执行 fn。
	Transaction(ctx context.Context, fn func(tx SessionRepository) error) error
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Transaction(ctx context.Context, fn func(tx SessionRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sessionRepository{db: tx})
	})
}

func (r *sessionRepository) FindOpenSession(ctx context.Context, childID string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).
		Where("child_id = ? AND ended_at IS NULL", childID).
		Order("started_at DESC").
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) GetOrCreateOpenSession(ctx context.Context, childID string, now time.Time) (*model.ChatSession, error) {
	var session *model.ChatSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住孩子行，同一孩子的并发首轮对话串行执行，避免出现两个打开的会话
		if tx.Dialector.Name() == "mysql" {
			var child model.Child
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", childID).Take(&child).Error; err != nil {
				return err
			}
		}
		txRepo := &sessionRepository{db: tx}
		found, err := txRepo.FindOpenSession(ctx, childID)
		if err == nil {
			session = found
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		session = NewSession(childID, now)
		return txRepo.CreateSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// NewSession 构造一个带默认值的会话。
func NewSession(childID string, now time.Time) *model.ChatSession {
	return &model.ChatSession{
		ChildID:       childID,
		Title:         model.DefaultSessionTitle,
		StartedAt:     now,
		LastMessageAt: &now,
	}
}

func (r *sessionRepository) CreateSession(ctx context.Context, session *model.ChatSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepository) FindSessionByID(ctx context.Context, id, childID string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).Where("id = ? AND child_id = ?", id, childID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) AppendMessage(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *sessionRepository) UpdateSessionMetadata(ctx context.Context, sessionID string, update SessionUpdate) error {
	updates := map[string]interface{}{}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.LastMessageAt != nil {
		updates["last_message_at"] = *update.LastMessageAt
	}
	if update.MessageCountDelta != 0 {
		updates["message_count"] = gorm.Expr("message_count + ?", update.MessageCountDelta)
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.ChatSession{}).Where("id = ?", sessionID).Updates(updates).Error
}

func (r *sessionRepository) ListMessages(ctx context.Context, sessionID string, excludeBlocked bool) ([]model.Message, error) {
	var messages []model.Message
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if excludeBlocked {
		q = q.Where("blocked = ?", false)
	}
	err := q.Order("created_at ASC").Order("id ASC").Find(&messages).Error
	return messages, err
}

func (r *sessionRepository) ListUserContents(ctx context.Context, sessionID string) ([]string, error) {
	var contents []string
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("session_id = ? AND role = ? AND blocked = ?", sessionID, model.RoleUser, false).
		Order("created_at ASC").Order("id ASC").
		Pluck("content", &contents).Error
	return contents, err
}

func (r *sessionRepository) ListSessions(ctx context.Context, childID string, offset, limit int) ([]model.ChatSession, int64, error) {
	var sessions []model.ChatSession
	var total int64

	db := r.db.WithContext(ctx).Model(&model.ChatSession{}).Where("child_id = ?", childID).Session(&gorm.Session{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("COALESCE(last_message_at, started_at) DESC").Order("started_at DESC").
		Offset(offset).Limit(limit).Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *sessionRepository) FirstUserMessages(ctx context.Context, sessionIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("session_id IN ? AND role = ? AND blocked = ?", sessionIDs, model.RoleUser, false).
		Order("created_at ASC").Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if _, ok := out[m.SessionID]; !ok {
			out[m.SessionID] = m.Content
		}
	}
	return out, nil
}

func (r *sessionRepository) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.ChatSession{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", at).Error
}

func (r *sessionRepository) Stats(ctx context.Context, childID string) (*SessionStats, error) {
	stats := &SessionStats{}
	db := r.db.WithContext(ctx)

	if err := db.Model(&model.ChatSession{}).Where("child_id = ?", childID).Count(&stats.TotalSessions).Error; err != nil {
		return nil, err
	}
	sessionIDs := db.Model(&model.ChatSession{}).Select("id").Where("child_id = ?", childID)
	if err := db.Model(&model.Message{}).Where("session_id IN (?)", sessionIDs).Count(&stats.TotalMessages).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Message{}).Where("session_id IN (?) AND blocked = ?", sessionIDs, true).Count(&stats.BlockedMessages).Error; err != nil {
		return nil, err
	}

	var last model.Message
	err := db.Where("session_id IN (?)", sessionIDs).Order("created_at DESC").Order("id DESC").First(&last).Error
	switch {
	case err == nil:
		stats.LastActivity = &last.CreatedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return stats, nil
}
