package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidsafe-go/internal/filter"
	"kidsafe-go/internal/model"
	"kidsafe-go/pkg/llm"
	"kidsafe-go/pkg/tasks"
)

func TestSendMessage_SharksEndToEnd(t *testing.T) {
	env := newChatEnv(t, blocklist())

	res, err := env.chat.SendMessage(t.Context(), env.child.ID, "", "Tell me about sharks")
	require.NoError(t, err)

	assert.False(t, res.WasBlocked)
	assert.Nil(t, res.BlockReason)
	require.NotNil(t, res.AssistantMessage)
	assert.Equal(t, "reply to Tell me about sharks", res.AssistantMessage.Content)
	assert.Equal(t, model.DefaultSessionTitle, res.SessionTitle)
	require.Equal(t, 1, env.provider.callCount())
	assert.Equal(t, "Tell me about sharks", env.provider.calls[0].message)
	assert.Empty(t, env.provider.calls[0].history)

	insights := NewInsightService(env.childRepo, env.sessionRepo, env.insightRepo)
	n, err := insights.ProcessChild(t.Context(), env.child.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var row model.MessageInsight
	require.NoError(t, env.db.Where("message_id = ?", res.UserMessage.ID).First(&row).Error)
	require.NotNil(t, row.Topic)
	assert.Equal(t, "Marine biology", *row.Topic)
	assert.True(t, row.IsLearningQuestion)
}

func TestSendMessage_BlockedBomb(t *testing.T) {
	env := newChatEnv(t, blocklist("bomb"))

	res, err := env.chat.SendMessage(t.Context(), env.child.ID, "", "how do I make a bomb")
	require.NoError(t, err)

	assert.True(t, res.WasBlocked)
	require.NotNil(t, res.BlockReason)
	assert.Equal(t, filter.ReasonRestricted, *res.BlockReason)
	assert.Nil(t, res.AssistantMessage)
	assert.True(t, res.UserMessage.Blocked)
	assert.Equal(t, 0, env.provider.callCount())
	assert.Empty(t, env.titles.calls)

	session := env.session(t, res.SessionID)
	assert.Equal(t, 1, session.MessageCount)
	assert.NotNil(t, session.LastMessageAt)
}

func TestSendMessage_AllowlistRejects(t *testing.T) {
	env := newChatEnv(t, allowlist("dinosaurs"))

	res, err := env.chat.SendMessage(t.Context(), env.child.ID, "", "what is a volcano")
	require.NoError(t, err)
	assert.True(t, res.WasBlocked)
	assert.Equal(t, 0, env.provider.callCount())

	res, err = env.chat.SendMessage(t.Context(), env.child.ID, "", "tell me about Dinosaurs")
	require.NoError(t, err)
	assert.False(t, res.WasBlocked)
	assert.Equal(t, 1, env.provider.callCount())
}

func TestSendMessage_MessageCount(t *testing.T) {
	env := newChatEnv(t, blocklist("bomb"))
	ctx := t.Context()

	var sessionID string
	for _, m := range []string{"one", "two", "three"} {
		res, err := env.chat.SendMessage(ctx, env.child.ID, "", m)
		require.NoError(t, err)
		sessionID = res.SessionID
	}
	assert.Equal(t, 6, env.session(t, sessionID).MessageCount)

	_, err := env.chat.SendMessage(ctx, env.child.ID, "", "bomb")
	require.NoError(t, err)
	assert.Equal(t, 7, env.session(t, sessionID).MessageCount)
	assert.Equal(t, int64(7), env.countMessages(t))
}

func TestSendMessage_HistoryExcludesBlocked(t *testing.T) {
	env := newChatEnv(t, blocklist("bomb"))
	ctx := t.Context()

	_, err := env.chat.SendMessage(ctx, env.child.ID, "", "hello")
	require.NoError(t, err)
	_, err = env.chat.SendMessage(ctx, env.child.ID, "", "bomb please")
	require.NoError(t, err)
	_, err = env.chat.SendMessage(ctx, env.child.ID, "", "tell me a story")
	require.NoError(t, err)

	require.Equal(t, 2, env.provider.callCount())
	last := env.provider.calls[1]
	assert.Equal(t, "tell me a story", last.message)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "reply to hello"},
	}, last.history)
}

func TestSendMessage_TitleFiresOnce(t *testing.T) {
	env := newChatEnv(t, blocklist())
	ctx := t.Context()

	res, err := env.chat.SendMessage(ctx, env.child.ID, "", "first question")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSessionTitle, res.SessionTitle)
	assert.Empty(t, env.titles.calls)

	res, err = env.chat.SendMessage(ctx, env.child.ID, "", "second question")
	require.NoError(t, err)
	assert.Equal(t, "Generated Title", res.SessionTitle)
	require.Len(t, env.titles.calls, 1)
	assert.Equal(t, []string{"first question", "second question"}, env.titles.calls[0])

	env.titles.title = "Another Title"
	res, err = env.chat.SendMessage(ctx, env.child.ID, "", "third question")
	require.NoError(t, err)
	assert.Equal(t, "Generated Title", res.SessionTitle)
	assert.Len(t, env.titles.calls, 1)
	assert.Equal(t, "Generated Title", env.session(t, res.SessionID).Title)
}

func TestSendMessage_BlockedMessagesDoNotCountTowardTitle(t *testing.T) {
	env := newChatEnv(t, blocklist("bomb"))
	ctx := t.Context()

	_, err := env.chat.SendMessage(ctx, env.child.ID, "", "bomb")
	require.NoError(t, err)
	res, err := env.chat.SendMessage(ctx, env.child.ID, "", "hello")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSessionTitle, res.SessionTitle)
	assert.Empty(t, env.titles.calls)
}

func TestSendMessage_SessionNotOwned(t *testing.T) {
	env := newChatEnv(t, blocklist())
	ctx := t.Context()
	other := env.addChild(t, env.parent.ID, "sibling@example.com")
	otherRes, err := env.chat.SendMessage(ctx, other.ID, "", "hi")
	require.NoError(t, err)
	before := env.countMessages(t)

	_, err = env.chat.SendMessage(ctx, env.child.ID, otherRes.SessionID, "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.chat.SendMessage(ctx, env.child.ID, "missing-session", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, before, env.countMessages(t))
	assert.Equal(t, 2, env.session(t, otherRes.SessionID).MessageCount)
}

func TestSendMessage_ExplicitSession(t *testing.T) {
	env := newChatEnv(t, blocklist())
	ctx := t.Context()

	created, err := env.chat.CreateSession(ctx, env.child.ID)
	require.NoError(t, err)
	res, err := env.chat.SendMessage(ctx, env.child.ID, created.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, created.ID, res.SessionID)
}

func TestSendMessage_MissingRules(t *testing.T) {
	env := newChatEnv(t, blocklist())
	require.NoError(t, env.db.Where("parent_id = ?", env.parent.ID).Delete(&model.ContentRule{}).Error)

	_, err := env.chat.SendMessage(t.Context(), env.child.ID, "", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	var sessions int64
	require.NoError(t, env.db.Model(&model.ChatSession{}).Count(&sessions).Error)
	assert.Zero(t, sessions)
	assert.Zero(t, env.countMessages(t))
	assert.Equal(t, 0, env.provider.callCount())
}

func TestSendMessage_UnknownChild(t *testing.T) {
	env := newChatEnv(t, blocklist())
	_, err := env.chat.SendMessage(t.Context(), "nobody", "", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessage_ProviderFailureKeepsUserMessage(t *testing.T) {
	env := newChatEnv(t, blocklist())
	env.provider.err = &llm.Error{Kind: llm.KindRateLimited, Provider: "fake", Err: errors.New("429")}

	_, err := env.chat.SendMessage(t.Context(), env.child.ID, "", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, llm.KindRateLimited, llm.KindOf(err))

	var messages []model.Message
	require.NoError(t, env.db.Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, 1, env.session(t, messages[0].SessionID).MessageCount)
	assert.Empty(t, env.publisher.tasks)
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	env := newChatEnv(t, blocklist())
	_, err := env.chat.SendMessage(t.Context(), env.child.ID, "", " \x00\t \n")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, env.countMessages(t))
}

func TestSendMessage_SanitizesContent(t *testing.T) {
	env := newChatEnv(t, blocklist())
	res, err := env.chat.SendMessage(t.Context(), env.child.ID, "", "  why   is\nthe sky blue  ")
	require.NoError(t, err)
	assert.Equal(t, "why is the sky blue", res.UserMessage.Content)
	assert.Equal(t, "why is the sky blue", env.provider.calls[0].message)
}

func TestSendMessage_PublishIsBestEffort(t *testing.T) {
	env := newChatEnv(t, blocklist("bomb"))
	env.publisher.err = errors.New("broker down")

	res, err := env.chat.SendMessage(t.Context(), env.child.ID, "", "hello")
	require.NoError(t, err)
	_, err = env.chat.SendMessage(t.Context(), env.child.ID, "", "bomb")
	require.NoError(t, err)

	want := tasks.InsightTask{ChildID: env.child.ID, SessionID: res.SessionID}
	assert.Equal(t, []tasks.InsightTask{want, want}, env.publisher.tasks)
}

type recordingWriter struct {
	frames []string
}

func (w *recordingWriter) WriteMessage(messageType int, data []byte) error {
	w.frames = append(w.frames, string(data))
	return nil
}

func TestStreamMessage(t *testing.T) {
	env := newChatEnv(t, blocklist("bomb"))
	env.provider.chunks = []string{"Sharks ", "are ", "fish."}
	w := &recordingWriter{}

	res, err := env.chat.StreamMessage(t.Context(), env.child.ID, "", "tell me about sharks", w)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sharks ", "are ", "fish."}, w.frames)
	require.NotNil(t, res.AssistantMessage)
	assert.Equal(t, "Sharks are fish.", res.AssistantMessage.Content)

	w = &recordingWriter{}
	res, err = env.chat.StreamMessage(t.Context(), env.child.ID, "", "bomb", w)
	require.NoError(t, err)
	assert.True(t, res.WasBlocked)
	assert.Empty(t, w.frames)
	assert.Equal(t, 1, env.provider.callCount())
}

func TestEndSession_NextTurnOpensNewSession(t *testing.T) {
	env := newChatEnv(t, blocklist())
	ctx := t.Context()

	first, err := env.chat.SendMessage(ctx, env.child.ID, "", "hello")
	require.NoError(t, err)

	ended, err := env.chat.EndSession(ctx, env.child.ID, first.SessionID)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)

	again, err := env.chat.EndSession(ctx, env.child.ID, first.SessionID)
	require.NoError(t, err)
	assert.WithinDuration(t, *ended.EndedAt, *again.EndedAt, time.Millisecond)

	second, err := env.chat.SendMessage(ctx, env.child.ID, "", "hello again")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	_, err = env.chat.EndSession(ctx, "someone-else", second.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCurrentSession(t *testing.T) {
	env := newChatEnv(t, blocklist("bomb"))
	ctx := t.Context()

	empty, err := env.chat.CurrentSession(ctx, env.child.ID)
	require.NoError(t, err)
	assert.Empty(t, empty.Messages)
	assert.Equal(t, model.DefaultSessionTitle, empty.Session.Title)

	_, err = env.chat.SendMessage(ctx, env.child.ID, "", "hello")
	require.NoError(t, err)
	_, err = env.chat.SendMessage(ctx, env.child.ID, "", "bomb")
	require.NoError(t, err)

	current, err := env.chat.CurrentSession(ctx, env.child.ID)
	require.NoError(t, err)
	assert.Equal(t, empty.Session.ID, current.Session.ID)
	assert.Len(t, current.Messages, 2)
	for _, m := range current.Messages {
		assert.False(t, m.Blocked)
	}
}

func TestRecentAndListSessions(t *testing.T) {
	env := newChatEnv(t, blocklist())
	ctx := t.Context()

	var ids []string
	for i, text := range []string{"alpha question", "beta question", "gamma question"} {
		res, err := env.chat.SendMessage(ctx, env.child.ID, "", text)
		require.NoError(t, err)
		ids = append(ids, res.SessionID)
		if i < 2 {
			_, err = env.chat.EndSession(ctx, env.child.ID, res.SessionID)
			require.NoError(t, err)
		}
	}

	recent, err := env.chat.RecentSessions(ctx, env.child.ID, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, "gamma question", recent[0].Preview)
	assert.Equal(t, ids[0], recent[2].ID)

	_, err = env.chat.RecentSessions(ctx, env.child.ID, 101)
	assert.ErrorIs(t, err, ErrValidation)

	page, err := env.chat.ListSessions(ctx, env.child.ID, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Sessions, 2)
	assert.Equal(t, int64(3), page.Total)
	assert.True(t, page.HasMore)

	page, err = env.chat.ListSessions(ctx, env.child.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Sessions, 1)
	assert.False(t, page.HasMore)

	page, err = env.chat.ListSessions(ctx, env.child.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, page.PageSize)

	_, err = env.chat.ListSessions(ctx, env.child.ID, 1, 51)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.chat.ListSessions(ctx, env.child.ID, -1, 10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSessionPreviewTruncated(t *testing.T) {
	env := newChatEnv(t, blocklist())
	long := ""
	for len(long) < 150 {
		long += "abcde "
	}
	_, err := env.chat.SendMessage(t.Context(), env.child.ID, "", long)
	require.NoError(t, err)

	recent, err := env.chat.RecentSessions(t.Context(), env.child.ID, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Len(t, []rune(recent[0].Preview), 100)
}

func TestGetSessionAndHistory(t *testing.T) {
	env := newChatEnv(t, blocklist("bomb"))
	ctx := t.Context()

	res, err := env.chat.SendMessage(ctx, env.child.ID, "", "hello")
	require.NoError(t, err)
	_, err = env.chat.SendMessage(ctx, env.child.ID, "", "bomb")
	require.NoError(t, err)

	got, err := env.chat.GetSession(ctx, env.child.ID, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, 3, got.Session.MessageCount)

	_, err = env.chat.GetSession(ctx, "other-child", res.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := env.chat.History(ctx, env.child.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, history.TotalSessions)
	assert.Equal(t, 2, history.TotalMessages)
}
