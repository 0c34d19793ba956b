package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kidsafe-go/internal/model"
)

func TestParentRepository_CreateWithRule(t *testing.T) {
	f := newFixture(t)

	rule, err := NewContentRuleRepository(f.db).GetByParentID(t.Context(), f.parent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeBlocklist, rule.Mode)
	assert.Equal(t, model.DefaultBlockedKeywords, []string(rule.Keywords))
	assert.Empty(t, rule.Topics)

	found, err := NewParentRepository(f.db).FindByEmail(t.Context(), "mom@example.com")
	require.NoError(t, err)
	assert.Equal(t, f.parent.ID, found.ID)
}

func TestParentRepository_DuplicateEmailRollsBackRule(t *testing.T) {
	f := newFixture(t)
	repo := NewParentRepository(f.db)

	dup := &model.Parent{Email: "mom@example.com", PasswordHash: "x", Name: "Other"}
	err := repo.CreateWithRule(t.Context(), dup, model.NewDefaultContentRule(""))
	require.Error(t, err)

	var count int64
	require.NoError(t, f.db.Model(&model.ContentRule{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestContentRuleRepository_Update(t *testing.T) {
	f := newFixture(t)
	repo := NewContentRuleRepository(f.db)

	rule, err := repo.GetByParentID(t.Context(), f.parent.ID)
	require.NoError(t, err)
	rule.Mode = model.ModeAllowlist
	rule.Topics = []string{"space", "dinosaurs"}
	rule.Keywords = []string{}
	require.NoError(t, repo.Update(t.Context(), rule))

	got, err := repo.GetByParentID(t.Context(), f.parent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeAllowlist, got.Mode)
	assert.Equal(t, []string{"space", "dinosaurs"}, []string(got.Topics))
	assert.Empty(t, got.Keywords)
}

func TestContentRuleRepository_Missing(t *testing.T) {
	db := openTestDB(t)
	_, err := NewContentRuleRepository(db).GetByParentID(t.Context(), "nobody")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestChildRepository_ScopedToParent(t *testing.T) {
	f := newFixture(t)
	repo := NewChildRepository(f.db)

	got, err := repo.FindByIDAndParent(t.Context(), f.child.ID, f.parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kid", got.Name)

	_, err = repo.FindByIDAndParent(t.Context(), f.child.ID, "another-parent")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	children, err := repo.ListByParent(t.Context(), f.parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestChildRepository_DeleteCascades(t *testing.T) {
	f := newFixture(t)
	sessions := NewSessionRepository(f.db)
	insights := NewInsightRepository(f.db)

	s, err := sessions.GetOrCreateOpenSession(t.Context(), f.child.ID, time.Now())
	require.NoError(t, err)
	msg := addMessage(t, f.db, s.ID, model.RoleUser, "sharks", false, time.Now())
	topic := "Marine biology"
	_, err = insights.SaveInsight(t.Context(), &model.MessageInsight{MessageID: msg.ID, ChildID: f.child.ID, Topic: &topic, EstimatedTimeSeconds: 30}, time.Now())
	require.NoError(t, err)

	require.NoError(t, NewChildRepository(f.db).Delete(t.Context(), f.child.ID))

	for _, m := range []interface{}{&model.Child{}, &model.ChatSession{}, &model.Message{}, &model.MessageInsight{}, &model.ChildTopicSummary{}} {
		var count int64
		require.NoError(t, f.db.Model(m).Count(&count).Error)
		assert.Zero(t, count, "%T", m)
	}

	err = NewChildRepository(f.db).Delete(t.Context(), f.child.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
