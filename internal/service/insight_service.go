package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"kidsafe-go/internal/insight"
	"kidsafe-go/internal/model"
	"kidsafe-go/internal/repository"
	"kidsafe-go/pkg/log"
)

const (
	dashboardTopTopics = 5
	weeklyTopTopics    = 2

	// 主题累计消息数不超过该值视为新兴趣
	newCuriosityMaxMessages = 3

	// 本周同一主题提问达到该次数视为需要帮助
	needsSupportMinQuestions = 4
)

// TopicUsage 看板中单个主题的使用情况。
type TopicUsage struct {
	Topic        string    `json:"topic"`
	Minutes      int       `json:"minutes"`
	MessageCount int       `json:"messageCount"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// LearningMetrics 学习类提问的统计。
type LearningMetrics struct {
	TotalQuestions     int64   `json:"totalQuestions"`
	LearningQuestions  int64   `json:"learningQuestions"`
	LearningPercentage float64 `json:"learningPercentage"`
	StreakDays         int     `json:"streakDays"`
}

// WeeklyHighlights 本周（周一起）的学习亮点。
type WeeklyHighlights struct {
	WeekStart            time.Time    `json:"weekStart"`
	TopInterests         []TopicUsage `json:"topInterests"`
	NewCuriosity         *string      `json:"newCuriosity"`
	NeedsSupport         *string      `json:"needsSupport"`
	SuggestedDinnerTopic *string      `json:"suggestedDinnerTopic"`
}

// Dashboard 家长查看的孩子学习看板。本周没有已分析的消息时 WeeklyHighlights 为 nil。
type Dashboard struct {
	ChildID                string            `json:"childId"`
	ChildName              string            `json:"childName"`
	TopTopics              []TopicUsage      `json:"topTopics"`
	Learning               LearningMetrics   `json:"learning"`
	WeeklyHighlights       *WeeklyHighlights `json:"weeklyHighlights"`
	TotalSessions          int64             `json:"totalSessions"`
	TotalEngagementMinutes int64             `json:"totalEngagementMinutes"`
	LastActivity           *time.Time        `json:"lastActivity"`
}

// InsightService 消息分析的补算与看板汇总。
type InsightService interface {
	// ProcessChild 分析孩子名下尚未分析的消息，返回新写入的分析条数。
	ProcessChild(ctx context.Context, childID string) (int, error)
	ProcessAll(ctx context.Context) (int, error)
	Dashboard(ctx context.Context, parentID, childID string) (*Dashboard, error)
}

type insightService struct {
	childRepo   repository.ChildRepository
	sessionRepo repository.SessionRepository
	insightRepo repository.InsightRepository
	now         func() time.Time
}

// NewInsightService 创建一个新的 InsightService 实例。
func NewInsightService(childRepo repository.ChildRepository, sessionRepo repository.SessionRepository, insightRepo repository.InsightRepository) InsightService {
	return &insightService{
		childRepo:   childRepo,
		sessionRepo: sessionRepo,
		insightRepo: insightRepo,
		now:         time.Now,
	}
}

func (s *insightService) ProcessChild(ctx context.Context, childID string) (int, error) {
	messages, err := s.insightRepo.FindUnprocessedUserMessages(ctx, childID)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range messages {
		msg := &messages[i]
		response := ""
		next, err := s.insightRepo.FindNextAssistantMessage(ctx, msg)
		switch {
		case err == nil:
			response = next.Content
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return processed, err
		}

		result := insight.Extract(msg.Content, response)
		created, err := s.insightRepo.SaveInsight(ctx, &model.MessageInsight{
			MessageID:            msg.ID,
			ChildID:              childID,
			Topic:                result.Topic,
			IsLearningQuestion:   result.IsLearningQuestion,
			EstimatedTimeSeconds: result.EstimatedTimeSeconds,
		}, msg.CreatedAt)
		if err != nil {
			return processed, err
		}
		if created {
			processed++
		}
	}
	if processed > 0 {
		log.Infof("[InsightService] 消息分析完成, childId: %s, 新增: %d", childID, processed)
	}
	return processed, nil
}

func (s *insightService) ProcessAll(ctx context.Context) (int, error) {
	ids, err := s.childRepo.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n, err := s.ProcessChild(ctx, id)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *insightService) Dashboard(ctx context.Context, parentID, childID string) (*Dashboard, error) {
	child, err := s.childRepo.FindByIDAndParent(ctx, childID, parentID)
	if err != nil {
		return nil, notFoundOr(err, "child")
	}

	summaries, err := s.insightRepo.TopTopics(ctx, childID, dashboardTopTopics)
	if err != nil {
		return nil, err
	}
	learning, err := s.insightRepo.LearningStats(ctx, childID)
	if err != nil {
		return nil, err
	}
	engagement, err := s.insightRepo.TotalEngagementSeconds(ctx, childID)
	if err != nil {
		return nil, err
	}
	activity, err := s.insightRepo.ActivityTimes(ctx, childID)
	if err != nil {
		return nil, err
	}
	stats, err := s.sessionRepo.Stats(ctx, childID)
	if err != nil {
		return nil, err
	}
	weekly, err := s.weeklyHighlights(ctx, childID)
	if err != nil {
		return nil, err
	}

	dashboard := &Dashboard{
		ChildID:   child.ID,
		ChildName: child.Name,
		TopTopics: make([]TopicUsage, 0, len(summaries)),
		Learning: LearningMetrics{
			TotalQuestions:     learning.TotalQuestions,
			LearningQuestions:  learning.LearningQuestions,
			LearningPercentage: learningPercentage(learning.LearningQuestions, learning.TotalQuestions),
			StreakDays:         streakDays(activity, s.now()),
		},
		WeeklyHighlights:       weekly,
		TotalSessions:          stats.TotalSessions,
		TotalEngagementMinutes: engagement / 60,
		LastActivity:           stats.LastActivity,
	}
	for _, summary := range summaries {
		dashboard.TopTopics = append(dashboard.TopTopics, TopicUsage{
			Topic:        summary.Topic,
			Minutes:      summary.TotalTimeSeconds / 60,
			MessageCount: summary.MessageCount,
			LastAccessed: summary.LastAccessed,
		})
	}
	return dashboard, nil
}

func (s *insightService) weeklyHighlights(ctx context.Context, childID string) (*WeeklyHighlights, error) {
	start := weekStart(s.now())
	insights, err := s.insightRepo.InsightsBetween(ctx, childID, start, start.AddDate(0, 0, 7))
	if err != nil || len(insights) == 0 {
		return nil, err
	}
	summaries, err := s.insightRepo.TopicSummaries(ctx, childID)
	if err != nil {
		return nil, err
	}
	return buildWeeklyHighlights(start, insights, summaries), nil
}

type weeklyTopic struct {
	topic   string
	seconds int
	count   int
}

// buildWeeklyHighlights 按本周的分析结果汇总亮点，insights 须按消息时间正序。
// 并列时以本周首次出现的顺序为准。
func buildWeeklyHighlights(start time.Time, insights []model.MessageInsight, summaries []model.ChildTopicSummary) *WeeklyHighlights {
	byTopic := make(map[string]*weeklyTopic)
	var order []*weeklyTopic
	for _, in := range insights {
		if in.Topic == nil {
			continue
		}
		wt, ok := byTopic[*in.Topic]
		if !ok {
			wt = &weeklyTopic{topic: *in.Topic}
			byTopic[wt.topic] = wt
			order = append(order, wt)
		}
		wt.seconds += in.EstimatedTimeSeconds
		wt.count++
	}
	summaryOf := make(map[string]model.ChildTopicSummary, len(summaries))
	for _, summary := range summaries {
		summaryOf[summary.Topic] = summary
	}

	h := &WeeklyHighlights{WeekStart: start, TopInterests: []TopicUsage{}}

	for _, wt := range order {
		if summary, ok := summaryOf[wt.topic]; ok && summary.MessageCount <= newCuriosityMaxMessages {
			h.NewCuriosity = stringPtr("Started exploring " + strings.ToLower(wt.topic))
			break
		}
	}
	for _, wt := range order {
		if wt.count >= needsSupportMinQuestions {
			h.NeedsSupport = stringPtr(fmt.Sprintf("%s (asked %dx)", wt.topic, wt.count))
			break
		}
	}

	ranked := append([]*weeklyTopic(nil), order...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].seconds > ranked[j].seconds })
	if len(ranked) > 0 {
		h.SuggestedDinnerTopic = stringPtr("Ask about their " + strings.ToLower(ranked[0].topic) + " research!")
	}
	for _, wt := range ranked {
		if len(h.TopInterests) == weeklyTopTopics {
			break
		}
		summary, ok := summaryOf[wt.topic]
		if !ok {
			continue
		}
		h.TopInterests = append(h.TopInterests, TopicUsage{
			Topic:        wt.topic,
			Minutes:      wt.seconds / 60,
			MessageCount: summary.MessageCount,
			LastAccessed: summary.LastAccessed,
		})
	}
	return h
}

// weekStart 返回 t 所在周的周一零点。
func weekStart(t time.Time) time.Time {
	day := dayOf(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func stringPtr(s string) *string { return &s }

// learningPercentage 保留一位小数。
func learningPercentage(learning, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(learning)/float64(total)*1000) / 10
}

// streakDays 从最近一次活动日起向前数连续有活动的天数。
// 最近一次活动早于昨天时连续天数为 0。times 须按时间倒序。
func streakDays(times []time.Time, now time.Time) int {
	if len(times) == 0 {
		return 0
	}
	today := dayOf(now)
	latest := dayOf(times[0])
	if latest.Before(today.AddDate(0, 0, -1)) {
		return 0
	}

	streak := 1
	expected := latest.AddDate(0, 0, -1)
	for _, t := range times[1:] {
		day := dayOf(t)
		if day.Equal(expected.AddDate(0, 0, 1)) {
			continue
		}
		if !day.Equal(expected) {
			break
		}
		streak++
		expected = expected.AddDate(0, 0, -1)
	}
	return streak
}

func dayOf(t time.Time) time.Time {
	t = t.In(time.Local)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}
