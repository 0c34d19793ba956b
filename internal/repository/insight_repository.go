package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kidsafe-go/internal/model"
)

// LearningStats 学习类提问的统计。
type LearningStats struct {
	TotalQuestions    int64
	LearningQuestions int64
}

// InsightRepository 消息分析结果与主题汇总的持久化操作。
type InsightRepository interface {
	// FindUnprocessedUserMessages 返回孩子名下尚无分析结果的、未被拦截的 user 消息，按创建顺序。
	FindUnprocessedUserMessages(ctx context.Context, childID string) ([]model.Message, error)
	// FindNextAssistantMessage 返回同一会话中紧随 msg 之后创建的 assistant 消息。
	FindNextAssistantMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	// SaveInsight 写入分析结果，并在主题非空时累加主题汇总，两者处于同一事务。
	// 该消息已有分析结果时不做任何修改，返回 false。
	SaveInsight(ctx context.Context, insight *model.MessageInsight, accessedAt time.Time) (bool, error)
	TopTopics(ctx context.Context, childID string, limit int) ([]model.ChildTopicSummary, error)
	LearningStats(ctx context.Context, childID string) (*LearningStats, error)
	TotalEngagementSeconds(ctx context.Context, childID string) (int64, error)
	// ActivityTimes 返回孩子全部消息的创建时间，倒序。
	ActivityTimes(ctx context.Context, childID string) ([]time.Time, error)
	// InsightsBetween 返回消息创建时间落在 [from, to) 内的分析结果，按消息创建顺序。
	InsightsBetween(ctx context.Context, childID string, from, to time.Time) ([]model.MessageInsight, error)
	TopicSummaries(ctx context.Context, childID string) ([]model.ChildTopicSummary, error)
}

type insightRepository struct {
	db *gorm.DB
}

// NewInsightRepository 创建一个新的 InsightRepository 实例。
func NewInsightRepository(db *gorm.DB) InsightRepository {
	return &insightRepository{db: db}
}

func (r *insightRepository) FindUnprocessedUserMessages(ctx context.Context, childID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Select("messages.*").
		Joins("JOIN chat_sessions ON chat_sessions.id = messages.session_id").
		Joins("LEFT JOIN message_insights ON message_insights.message_id = messages.id").
		Where("chat_sessions.child_id = ?", childID).
		Where("messages.role = ? AND messages.blocked = ?", model.RoleUser, false).
		Where("message_insights.id IS NULL").
		Order("messages.created_at ASC").Order("messages.id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *insightRepository) FindNextAssistantMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	var next model.Message
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND role = ?", msg.SessionID, model.RoleAssistant).
		Where("(created_at > ? OR (created_at = ? AND id > ?))", msg.CreatedAt, msg.CreatedAt, msg.ID).
		Order("created_at ASC").Order("id ASC").
		First(&next).Error
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (r *insightRepository) SaveInsight(ctx context.Context, insight *model.MessageInsight, accessedAt time.Time) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).Create(insight)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		if insight.Topic == nil {
			return nil
		}
		return bumpTopicSummary(tx, insight, accessedAt)
	})
	return created, err
}

func bumpTopicSummary(tx *gorm.DB, insight *model.MessageInsight, accessedAt time.Time) error {
	var summary model.ChildTopicSummary
	err := tx.Where("child_id = ? AND topic = ?", insight.ChildID, *insight.Topic).First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&model.ChildTopicSummary{
			ChildID:          insight.ChildID,
			Topic:            *insight.Topic,
			TotalTimeSeconds: insight.EstimatedTimeSeconds,
			MessageCount:     1,
			LastAccessed:     accessedAt,
		}).Error
	}
	if err != nil {
		return err
	}
	lastAccessed := summary.LastAccessed
	if accessedAt.After(lastAccessed) {
		lastAccessed = accessedAt
	}
	return tx.Model(&model.ChildTopicSummary{}).Where("id = ?", summary.ID).Updates(map[string]interface{}{
		"total_time_seconds": gorm.Expr("total_time_seconds + ?", insight.EstimatedTimeSeconds),
		"message_count":      gorm.Expr("message_count + ?", 1),
		"last_accessed":      lastAccessed,
	}).Error
}

func (r *insightRepository) TopTopics(ctx context.Context, childID string, limit int) ([]model.ChildTopicSummary, error) {
	var summaries []model.ChildTopicSummary
	err := r.db.WithContext(ctx).Where("child_id = ?", childID).
		Order("total_time_seconds DESC").Order("topic ASC").
		Limit(limit).Find(&summaries).Error
	return summaries, err
}

func (r *insightRepository) LearningStats(ctx context.Context, childID string) (*LearningStats, error) {
	stats := &LearningStats{}
	db := r.db.WithContext(ctx).Model(&model.MessageInsight{}).Where("child_id = ?", childID).Session(&gorm.Session{})
	if err := db.Count(&stats.TotalQuestions).Error; err != nil {
		return nil, err
	}
	if err := db.Where("is_learning_question = ?", true).Count(&stats.LearningQuestions).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *insightRepository) TotalEngagementSeconds(ctx context.Context, childID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.ChildTopicSummary{}).
		Where("child_id = ?", childID).
		Select("COALESCE(SUM(total_time_seconds), 0)").
		Scan(&total).Error
	return total, err
}

func (r *insightRepository) ActivityTimes(ctx context.Context, childID string) ([]time.Time, error) {
	var times []time.Time
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Joins("JOIN chat_sessions ON chat_sessions.id = messages.session_id").
		Where("chat_sessions.child_id = ?", childID).
		Order("messages.created_at DESC").
		Pluck("messages.created_at", &times).Error
	return times, err
}

func (r *insightRepository) InsightsBetween(ctx context.Context, childID string, from, to time.Time) ([]model.MessageInsight, error) {
	var insights []model.MessageInsight
	err := r.db.WithContext(ctx).Model(&model.MessageInsight{}).
		Select("message_insights.*").
		Joins("JOIN messages ON messages.id = message_insights.message_id").
		Where("message_insights.child_id = ?", childID).
		Where("messages.created_at >= ? AND messages.created_at < ?", from, to).
		Order("messages.created_at ASC").Order("messages.id ASC").
		Find(&insights).Error
	return insights, err
}

func (r *insightRepository) TopicSummaries(ctx context.Context, childID string) ([]model.ChildTopicSummary, error) {
	var summaries []model.ChildTopicSummary
	err := r.db.WithContext(ctx).Where("child_id = ?", childID).Order("topic ASC").Find(&summaries).Error
	return summaries, err
}
