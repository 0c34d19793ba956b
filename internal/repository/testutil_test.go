package repository

import (
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kidsafe-go/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// 内存库每个连接独立，固定为单连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fixture struct {
	db     *gorm.DB
	parent *model.Parent
	child  *model.Child
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	parent := &model.Parent{Email: "mom@example.com", PasswordHash: "x", Name: "Mom"}
	if err := NewParentRepository(db).CreateWithRule(t.Context(), parent, model.NewDefaultContentRule("")); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child := &model.Child{ParentID: parent.ID, Email: "kid@example.com", PasswordHash: "x", Name: "Kid"}
	if err := NewChildRepository(db).Create(t.Context(), child); err != nil {
		t.Fatalf("create child: %v", err)
	}
	return &fixture{db: db, parent: parent, child: child}
}

// addMessage 直接写入消息，at 用于控制创建时间
func addMessage(t *testing.T, db *gorm.DB, sessionID, role, content string, blocked bool, at time.Time) *model.Message {
	t.Helper()
	msg := &model.Message{SessionID: sessionID, Role: role, Content: content, Blocked: blocked, CreatedAt: at}
	if blocked {
		reason := "blocked"
		msg.BlockReason = &reason
	}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}
	return msg
}
