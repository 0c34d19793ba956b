// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"kidsafe-go/internal/filter"
	"kidsafe-go/internal/model"
	"kidsafe-go/internal/repository"
	"kidsafe-go/pkg/llm"
	"kidsafe-go/pkg/log"
	"kidsafe-go/pkg/tasks"
)

// 会话列表分页参数
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
	DefaultPageSize    = 15
	MaxPageSize        = 50
	previewLength      = 100
)

// TaskPublisher 投递异步分析任务，kafka.Producer 满足该接口。
type TaskPublisher interface {
	Publish(ctx context.Context, task tasks.InsightTask) error
}

// TurnResult 一轮聊天的结果。被拦截时 AssistantMessage 为 nil。
type TurnResult struct {
	UserMessage      model.Message  `json:"userMessage"`
	AssistantMessage *model.Message `json:"assistantMessage"`
	WasBlocked       bool           `json:"wasBlocked"`
	BlockReason      *string        `json:"blockReason"`
	SessionID        string         `json:"sessionId"`
	SessionTitle     string         `json:"sessionTitle"`
}

// SessionSummary 会话列表项，Preview 为第一条 user 消息的前 100 个字符。
type SessionSummary struct {
	model.ChatSession
	Preview string `json:"preview"`
}

// SessionPage 分页结果。
type SessionPage struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	HasMore  bool             `json:"hasMore"`
}

// KidHistory 孩子视角的全部聊天记录，不含被拦截的消息。
type KidHistory struct {
	Sessions      []SessionWithMessages `json:"sessions"`
	TotalSessions int                   `json:"totalSessions"`
	TotalMessages int                   `json:"totalMessages"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// SendMessage 执行一轮聊天。sessionID 为空时使用当前打开的会话，没有则新建。
	SendMessage(ctx context.Context, childID, sessionID, message string) (*TurnResult, error)
	// StreamMessage 与 SendMessage 相同，但回复通过 writer 分块写出。
	StreamMessage(ctx context.Context, childID, sessionID, message string, writer llm.MessageWriter) (*TurnResult, error)
	CurrentSession(ctx context.Context, childID string) (*SessionWithMessages, error)
	CreateSession(ctx context.Context, childID string) (*model.ChatSession, error)
	EndSession(ctx context.Context, childID, sessionID string) (*model.ChatSession, error)
	RecentSessions(ctx context.Context, childID string, limit int) ([]SessionSummary, error)
	ListSessions(ctx context.Context, childID string, page, pageSize int) (*SessionPage, error)
	GetSession(ctx context.Context, childID, sessionID string) (*SessionWithMessages, error)
	History(ctx context.Context, childID string) (*KidHistory, error)
}

type chatService struct {
	childRepo   repository.ChildRepository
	ruleRepo    repository.ContentRuleRepository
	sessionRepo repository.SessionRepository
	provider    llm.Provider
	titles      TitleGenerator
	publisher   TaskPublisher
	timeout     time.Duration
}

// replyFunc 调用服务商生成回复，同步与流式两种调用方式共用同一流程。
type replyFunc func(ctx context.Context, message string, history []llm.Message) (string, error)

// NewChatService 创建一个新的 ChatService 实例。
// publisher 可以为 nil；timeout 为 0 表示不限制单次生成耗时。
func NewChatService(
	childRepo repository.ChildRepository,
	ruleRepo repository.ContentRuleRepository,
	sessionRepo repository.SessionRepository,
	provider llm.Provider,
	titles TitleGenerator,
	publisher TaskPublisher,
	timeout time.Duration,
) ChatService {
	return &chatService{
		childRepo:   childRepo,
		ruleRepo:    ruleRepo,
		sessionRepo: sessionRepo,
		provider:    provider,
		titles:      titles,
		publisher:   publisher,
		timeout:     timeout,
	}
}

func (s *chatService) SendMessage(ctx context.Context, childID, sessionID, message string) (*TurnResult, error) {
	return s.runTurn(ctx, childID, sessionID, message, func(ctx context.Context, msg string, history []llm.Message) (string, error) {
		return s.provider.Generate(ctx, msg, history)
	})
}

func (s *chatService) StreamMessage(ctx context.Context, childID, sessionID, message string, writer llm.MessageWriter) (*TurnResult, error) {
	return s.runTurn(ctx, childID, sessionID, message, func(ctx context.Context, msg string, history []llm.Message) (string, error) {
		return s.provider.GenerateStream(ctx, msg, history, writer)
	})
}

// runTurn 会话解析 → 读取规则 → 过滤 → 拦截落库，或放行后调用模型、落库并更新标题。
func (s *chatService) runTurn(ctx context.Context, childID, sessionID, message string, reply replyFunc) (*TurnResult, error) {
	content := filter.Sanitize(message)
	if content == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrValidation)
	}

	child, err := s.childRepo.FindByID(ctx, childID)
	if err != nil {
		return nil, notFoundOr(err, "child")
	}

	// 显式指定的会话必须属于该孩子
	var session *model.ChatSession
	if sessionID != "" {
		session, err = s.sessionRepo.FindSessionByID(ctx, sessionID, childID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[ChatService] 会话不存在或不属于该孩子, childId: %s, sessionId: %s", childID, sessionID)
			}
			return nil, notFoundOr(err, "session")
		}
	}

	// 规则缺失属于数据异常，必须在任何写入之前失败
	rule, err := s.ruleRepo.GetByParentID(ctx, child.ParentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[ChatService] 家长缺少内容规则, parentId: %s", child.ParentID)
		}
		return nil, notFoundOr(err, "content rules")
	}

	if session == nil {
		session, err = s.sessionRepo.GetOrCreateOpenSession(ctx, childID, time.Now())
		if err != nil {
			return nil, err
		}
	}

	decision := filter.Evaluate(content, rule)
	if !decision.Allowed {
		return s.persistBlocked(ctx, child, session, content, decision.Reason)
	}
	return s.runAllowed(ctx, child, session, content, reply)
}

func (s *chatService) persistBlocked(ctx context.Context, child *model.Child, session *model.ChatSession, content, reason string) (*TurnResult, error) {
	now := time.Now()
	msg := &model.Message{
		SessionID:   session.ID,
		Role:        model.RoleUser,
		Content:     content,
		Blocked:     true,
		BlockReason: &reason,
		CreatedAt:   now,
	}
	err := s.sessionRepo.Transaction(ctx, func(tx repository.SessionRepository) error {
		if err := tx.AppendMessage(ctx, msg); err != nil {
			return err
		}
		return tx.UpdateSessionMetadata(ctx, session.ID, repository.SessionUpdate{LastMessageAt: &now, MessageCountDelta: 1})
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[ChatService] 消息被内容规则拦截, childId: %s, sessionId: %s", child.ID, session.ID)
	s.publish(ctx, child.ID, session.ID)

	return &TurnResult{
		UserMessage:  *msg,
		WasBlocked:   true,
		BlockReason:  &reason,
		SessionID:    session.ID,
		SessionTitle: session.Title,
	}, nil
}

func (s *chatService) runAllowed(ctx context.Context, child *model.Child, session *model.ChatSession, content string, reply replyFunc) (*TurnResult, error) {
	// 1. user 消息先落库，服务商失败时保留
	userAt := time.Now()
	userMsg := &model.Message{SessionID: session.ID, Role: model.RoleUser, Content: content, CreatedAt: userAt}
	err := s.sessionRepo.Transaction(ctx, func(tx repository.SessionRepository) error {
		if err := tx.AppendMessage(ctx, userMsg); err != nil {
			return err
		}
		return tx.UpdateSessionMetadata(ctx, session.ID, repository.SessionUpdate{LastMessageAt: &userAt, MessageCountDelta: 1})
	})
	if err != nil {
		return nil, err
	}

	// 2. 组装历史：未被拦截的消息，去掉刚写入的这一条
	history, err := s.buildHistory(ctx, session.ID, userMsg.ID)
	if err != nil {
		return nil, err
	}

	// 3. 调用服务商，失败不重试
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	answer, err := reply(callCtx, content, history)
	if err != nil {
		log.Errorf("[ChatService] AI 服务调用失败, provider: %s, kind: %s, sessionId: %s, error: %v", s.provider.Name(), llm.KindOf(err), session.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	// 4. 标题仍为占位值且已有两条 user 消息时生成一次
	update := repository.SessionUpdate{MessageCountDelta: 1}
	title := session.Title
	if session.HasDefaultTitle() {
		contents, err := s.sessionRepo.ListUserContents(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		if len(contents) >= 2 {
			if generated := s.titles.Generate(ctx, contents); generated != "" {
				title = generated
				update.Title = &title
			}
		}
	}

	// 5. assistant 消息与元数据一并提交
	replyAt := time.Now()
	update.LastMessageAt = &replyAt
	assistantMsg := &model.Message{SessionID: session.ID, Role: model.RoleAssistant, Content: answer, CreatedAt: replyAt}
	err = s.sessionRepo.Transaction(ctx, func(tx repository.SessionRepository) error {
		if err := tx.AppendMessage(ctx, assistantMsg); err != nil {
			return err
		}
		return tx.UpdateSessionMetadata(ctx, session.ID, update)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[ChatService] 聊天完成, childId: %s, sessionId: %s, provider: %s", child.ID, session.ID, s.provider.Name())
	s.publish(ctx, child.ID, session.ID)

	return &TurnResult{
		UserMessage:      *userMsg,
		AssistantMessage: assistantMsg,
		SessionID:        session.ID,
		SessionTitle:     title,
	}, nil
}

func (s *chatService) buildHistory(ctx context.Context, sessionID string, currentID uint) ([]llm.Message, error) {
	messages, err := s.sessionRepo.ListMessages(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID == currentID {
			continue
		}
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// publish 投递失败只记录日志，不影响本轮结果。
func (s *chatService) publish(ctx context.Context, childID, sessionID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, tasks.InsightTask{ChildID: childID, SessionID: sessionID}); err != nil {
		log.Warnf("[ChatService] 投递分析任务失败, childId: %s, sessionId: %s, error: %v", childID, sessionID, err)
	}
}

func (s *chatService) CurrentSession(ctx context.Context, childID string) (*SessionWithMessages, error) {
	session, err := s.sessionRepo.GetOrCreateOpenSession(ctx, childID, time.Now())
	if err != nil {
		return nil, notFoundOr(err, "child")
	}
	return s.withMessages(ctx, session)
}

func (s *chatService) CreateSession(ctx context.Context, childID string) (*model.ChatSession, error) {
	session := repository.NewSession(childID, time.Now())
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	log.Infof("[ChatService] 新建会话, childId: %s, sessionId: %s", childID, session.ID)
	return session, nil
}

// EndSession 已结束的会话再次结束时直接返回。
func (s *chatService) EndSession(ctx context.Context, childID, sessionID string) (*model.ChatSession, error) {
	session, err := s.sessionRepo.FindSessionByID(ctx, sessionID, childID)
	if err != nil {
		return nil, notFoundOr(err, "session")
	}
	if !session.IsOpen() {
		return session, nil
	}
	now := time.Now()
	if err := s.sessionRepo.EndSession(ctx, session.ID, now); err != nil {
		return nil, err
	}
	session.EndedAt = &now
	return session, nil
}

func (s *chatService) RecentSessions(ctx context.Context, childID string, limit int) ([]SessionSummary, error) {
	if limit == 0 {
		limit = DefaultRecentLimit
	}
	if limit < 1 || limit > MaxRecentLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxRecentLimit)
	}
	sessions, _, err := s.sessionRepo.ListSessions(ctx, childID, 0, limit)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, sessions)
}

func (s *chatService) ListSessions(ctx context.Context, childID string, page, pageSize int) (*SessionPage, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", ErrValidation)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page size must be between 1 and %d", ErrValidation, MaxPageSize)
	}

	offset := (page - 1) * pageSize
	sessions, total, err := s.sessionRepo.ListSessions(ctx, childID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summarize(ctx, sessions)
	if err != nil {
		return nil, err
	}
	return &SessionPage{
		Sessions: summaries,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  int64(offset+len(sessions)) < total,
	}, nil
}

func (s *chatService) GetSession(ctx context.Context, childID, sessionID string) (*SessionWithMessages, error) {
	session, err := s.sessionRepo.FindSessionByID(ctx, sessionID, childID)
	if err != nil {
		return nil, notFoundOr(err, "session")
	}
	return s.withMessages(ctx, session)
}

func (s *chatService) History(ctx context.Context, childID string) (*KidHistory, error) {
	sessions, _, err := s.sessionRepo.ListSessions(ctx, childID, 0, -1)
	if err != nil {
		return nil, err
	}
	history := &KidHistory{Sessions: make([]SessionWithMessages, 0, len(sessions))}
	for i := range sessions {
		item, err := s.withMessages(ctx, &sessions[i])
		if err != nil {
			return nil, err
		}
		history.Sessions = append(history.Sessions, *item)
		history.TotalMessages += len(item.Messages)
	}
	history.TotalSessions = len(history.Sessions)
	return history, nil
}

func (s *chatService) withMessages(ctx context.Context, session *model.ChatSession) (*SessionWithMessages, error) {
	messages, err := s.sessionRepo.ListMessages(ctx, session.ID, true)
	if err != nil {
		return nil, err
	}
	return &SessionWithMessages{Session: *session, Messages: messages}, nil
}

func (s *chatService) summarize(ctx context.Context, sessions []model.ChatSession) ([]SessionSummary, error) {
	ids := make([]string, len(sessions))
	for i, session := range sessions {
		ids[i] = session.ID
	}
	firsts, err := s.sessionRepo.FirstUserMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, len(sessions))
	for i, session := range sessions {
		preview := []rune(firsts[session.ID])
		if len(preview) > previewLength {
			preview = preview[:previewLength]
		}
		out[i] = SessionSummary{ChatSession: session, Preview: string(preview)}
	}
	return out, nil
}

// notFoundOr 将 gorm 的记录不存在转换为 ErrNotFound。
func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
