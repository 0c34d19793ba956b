package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kidsafe-go/internal/model"
	"kidsafe-go/internal/repository"
	"kidsafe-go/pkg/log"
)

// TranscriptURLExpiry 导出链接的有效期。
const TranscriptURLExpiry = time.Hour

// TranscriptStore 导出文件的存储，storage.ObjectStore 满足该接口。
type TranscriptStore interface {
	PutText(ctx context.Context, objectName string, content []byte) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// TranscriptExport 导出结果。
type TranscriptExport struct {
	ObjectName string    `json:"objectName"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// TranscriptService 将会话导出为纯文本记录。
type TranscriptService interface {
	Export(ctx context.Context, parentID, childID, sessionID string) (*TranscriptExport, error)
}

type transcriptService struct {
	childRepo   repository.ChildRepository
	sessionRepo repository.SessionRepository
	store       TranscriptStore
}

// NewTranscriptService store 为 nil 表示导出未启用。
func NewTranscriptService(childRepo repository.ChildRepository, sessionRepo repository.SessionRepository, store TranscriptStore) TranscriptService {
	return &transcriptService{childRepo: childRepo, sessionRepo: sessionRepo, store: store}
}

func (s *transcriptService) Export(ctx context.Context, parentID, childID, sessionID string) (*TranscriptExport, error) {
	child, err := s.childRepo.FindByIDAndParent(ctx, childID, parentID)
	if err != nil {
		return nil, notFoundOr(err, "child")
	}
	session, err := s.sessionRepo.FindSessionByID(ctx, sessionID, childID)
	if err != nil {
		return nil, notFoundOr(err, "session")
	}
	if s.store == nil {
		return nil, fmt.Errorf("%w: transcript export is not enabled", ErrServiceUnavailable)
	}
	messages, err := s.sessionRepo.ListMessages(ctx, session.ID, false)
	if err != nil {
		return nil, err
	}

	objectName := fmt.Sprintf("transcripts/%s/%s.txt", childID, session.ID)
	if err := s.store.PutText(ctx, objectName, []byte(renderTranscript(child, session, messages))); err != nil {
		log.Errorf("[TranscriptService] 上传导出文件失败, object: %s, error: %v", objectName, err)
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	url, err := s.store.PresignedURL(ctx, objectName, TranscriptURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	log.Infof("[TranscriptService] 会话导出成功, childId: %s, sessionId: %s", childID, session.ID)
	return &TranscriptExport{ObjectName: objectName, URL: url, ExpiresAt: time.Now().Add(TranscriptURLExpiry)}, nil
}

func renderTranscript(child *model.Child, session *model.ChatSession, messages []model.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Child: %s\n", child.Name)
	fmt.Fprintf(&b, "Session: %s\n", session.Title)
	fmt.Fprintf(&b, "Started: %s\n", session.StartedAt.Format(model.TimeFormat))
	if session.EndedAt != nil {
		fmt.Fprintf(&b, "Ended: %s\n", session.EndedAt.Format(model.TimeFormat))
	}
	b.WriteString("\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s: %s", m.CreatedAt.Format(model.TimeFormat), m.Role, m.Content)
		if m.Blocked {
			reason := ""
			if m.BlockReason != nil {
				reason = *m.BlockReason
			}
			fmt.Fprintf(&b, " [BLOCKED: %s]", reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}
