package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kidsafe-go/internal/model"
	"kidsafe-go/internal/repository"
	"kidsafe-go/pkg/llm"
	"kidsafe-go/pkg/tasks"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

type providerCall struct {
	message string
	history []llm.Message
}

// fakeProvider 记录每次调用，按需返回固定回复或错误。
type fakeProvider struct {
	mu     sync.Mutex
	name   string
	reply  string
	err    error
	chunks []string
	calls  []providerCall
}

func (p *fakeProvider) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p *fakeProvider) Generate(ctx context.Context, message string, history []llm.Message, opts ...llm.Option) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, providerCall{message: message, history: append([]llm.Message(nil), history...)})
	if p.err != nil {
		return "", p.err
	}
	if p.reply == "" {
		return "reply to " + message, nil
	}
	return p.reply, nil
}

func (p *fakeProvider) GenerateStream(ctx context.Context, message string, history []llm.Message, writer llm.MessageWriter, opts ...llm.Option) (string, error) {
	if _, err := p.Generate(ctx, message, history, opts...); err != nil {
		return "", err
	}
	for _, c := range p.chunks {
		if err := writer.WriteMessage(1, []byte(c)); err != nil {
			return "", err
		}
	}
	return strings.Join(p.chunks, ""), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeTitles struct {
	title string
	calls [][]string
}

func (g *fakeTitles) Generate(ctx context.Context, userMessages []string) string {
	g.calls = append(g.calls, append([]string(nil), userMessages...))
	return g.title
}

type fakePublisher struct {
	err   error
	tasks []tasks.InsightTask
}

func (p *fakePublisher) Publish(ctx context.Context, task tasks.InsightTask) error {
	p.tasks = append(p.tasks, task)
	return p.err
}

// chatEnv 一个家长、一个孩子及其依赖的完整环境。
type chatEnv struct {
	db          *gorm.DB
	parent      *model.Parent
	child       *model.Child
	childRepo   repository.ChildRepository
	ruleRepo    repository.ContentRuleRepository
	sessionRepo repository.SessionRepository
	insightRepo repository.InsightRepository
	provider    *fakeProvider
	titles      *fakeTitles
	publisher   *fakePublisher
	chat        ChatService
}

func newChatEnv(t *testing.T, rule *model.ContentRule) *chatEnv {
	t.Helper()
	db := openTestDB(t)
	env := &chatEnv{
		db:          db,
		childRepo:   repository.NewChildRepository(db),
		ruleRepo:    repository.NewContentRuleRepository(db),
		sessionRepo: repository.NewSessionRepository(db),
		insightRepo: repository.NewInsightRepository(db),
		provider:    &fakeProvider{},
		titles:      &fakeTitles{title: "Generated Title"},
		publisher:   &fakePublisher{},
	}
	if rule == nil {
		rule = model.NewDefaultContentRule("")
	}
	env.parent = &model.Parent{Email: "mom@example.com", PasswordHash: "x", Name: "Mom"}
	require.NoError(t, repository.NewParentRepository(db).CreateWithRule(t.Context(), env.parent, rule))
	env.child = env.addChild(t, env.parent.ID, "kid@example.com")
	env.chat = NewChatService(env.childRepo, env.ruleRepo, env.sessionRepo, env.provider, env.titles, env.publisher, 0)
	return env
}

func (e *chatEnv) addChild(t *testing.T, parentID, email string) *model.Child {
	t.Helper()
	child := &model.Child{ParentID: parentID, Email: email, PasswordHash: "x", Name: "Kid"}
	require.NoError(t, e.childRepo.Create(t.Context(), child))
	return child
}

func (e *chatEnv) session(t *testing.T, id string) *model.ChatSession {
	t.Helper()
	var s model.ChatSession
	require.NoError(t, e.db.Where("id = ?", id).First(&s).Error)
	return &s
}

func (e *chatEnv) countMessages(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Message{}).Count(&n).Error)
	return n
}

func blocklist(keywords ...string) *model.ContentRule {
	rule := model.NewDefaultContentRule("")
	rule.Keywords = keywords
	return rule
}

func allowlist(topics ...string) *model.ContentRule {
	rule := model.NewDefaultContentRule("")
	rule.Mode = model.ModeAllowlist
	rule.Topics = topics
	return rule
}
