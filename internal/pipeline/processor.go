// Package pipeline 定义了聊天消息的异步处理流程：补算消息分析并同步到检索索引。
package pipeline

import (
	"context"
	"fmt"

	"kidsafe-go/internal/model"
	"kidsafe-go/internal/repository"
	"kidsafe-go/internal/service"
	"kidsafe-go/pkg/log"
	"kidsafe-go/pkg/tasks"
)

// MessageIndexer 将消息写入检索索引，es.MessageIndex 满足该接口。
type MessageIndexer interface {
	IndexMessages(ctx context.Context, docs []model.MessageDocument) error
}

// Processor 封装了分析任务处理的所有依赖和逻辑。
type Processor struct {
	insightService service.InsightService
	childRepo      repository.ChildRepository
	sessionRepo    repository.SessionRepository
	indexer        MessageIndexer
}

// NewProcessor 创建一个新的 Processor 实例。indexer 为 nil 时跳过索引。
func NewProcessor(
	insightService service.InsightService,
	childRepo repository.ChildRepository,
	sessionRepo repository.SessionRepository,
	indexer MessageIndexer,
) *Processor {
	return &Processor{
		insightService: insightService,
		childRepo:      childRepo,
		sessionRepo:    sessionRepo,
		indexer:        indexer,
	}
}

// Process 是分析任务的主函数。重复处理同一任务不会产生重复数据。
func (p *Processor) Process(ctx context.Context, task tasks.InsightTask) error {
	log.Infof("[Processor] 开始处理分析任务, ChildID: %s, SessionID: %s", task.ChildID, task.SessionID)

	// 1. 补算消息分析
	var (
		processed int
		err       error
	)
	if task.ChildID == "" {
		processed, err = p.insightService.ProcessAll(ctx)
	} else {
		processed, err = p.insightService.ProcessChild(ctx, task.ChildID)
	}
	if err != nil {
		return fmt.Errorf("消息分析失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 消息分析完成, 新增 %d 条", processed)

	// 2. 将会话消息同步到检索索引
	if p.indexer == nil || task.ChildID == "" || task.SessionID == "" {
		return nil
	}
	child, err := p.childRepo.FindByID(ctx, task.ChildID)
	if err != nil {
		return fmt.Errorf("读取孩子账号失败: %w", err)
	}
	messages, err := p.sessionRepo.ListMessages(ctx, task.SessionID, false)
	if err != nil {
		return fmt.Errorf("读取会话消息失败: %w", err)
	}
	docs := make([]model.MessageDocument, 0, len(messages))
	for _, m := range messages {
		docs = append(docs, model.NewMessageDocument(m, child.ID, child.ParentID))
	}
	if err := p.indexer.IndexMessages(ctx, docs); err != nil {
		return fmt.Errorf("索引消息失败: %w", err)
	}
	log.Infof("[Processor] 步骤2: 已索引 %d 条消息", len(docs))
	return nil
}
