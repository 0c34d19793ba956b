// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"context"
	"fmt"
	"strings"

	"kidsafe-go/internal/model"
	"kidsafe-go/internal/repository"
	"kidsafe-go/pkg/log"
)

const (
	defaultSearchSize = 20
	maxSearchSize     = 100
)

// MessageSearcher 聊天消息全文检索，es.MessageIndex 满足该接口。
type MessageSearcher interface {
	SearchMessages(ctx context.Context, childID, query string, size int) ([]model.MessageSearchHit, error)
}

// SearchService 接口定义了搜索操作。
type SearchService interface {
	// SearchChildMessages 家长检索孩子的消息，包括被拦截的尝试。
	SearchChildMessages(ctx context.Context, parentID, childID, query string, size int) ([]model.MessageSearchHit, error)
}

type searchService struct {
	childRepo repository.ChildRepository
	searcher  MessageSearcher
}

// NewSearchService 创建一个新的 SearchService 实例。searcher 为 nil 表示检索未启用。
func NewSearchService(childRepo repository.ChildRepository, searcher MessageSearcher) SearchService {
	return &searchService{childRepo: childRepo, searcher: searcher}
}

func (s *searchService) SearchChildMessages(ctx context.Context, parentID, childID, query string, size int) ([]model.MessageSearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrValidation)
	}
	if size == 0 {
		size = defaultSearchSize
	}
	if size < 1 || size > maxSearchSize {
		return nil, fmt.Errorf("%w: size must be between 1 and %d", ErrValidation, maxSearchSize)
	}
	if _, err := s.childRepo.FindByIDAndParent(ctx, childID, parentID); err != nil {
		return nil, notFoundOr(err, "child")
	}
	if s.searcher == nil {
		return nil, fmt.Errorf("%w: search is not enabled", ErrServiceUnavailable)
	}

	log.Infof("[SearchService] 开始检索, childId: %s, query: '%s', size: %d", childID, query, size)
	hits, err := s.searcher.SearchMessages(ctx, childID, query, size)
	if err != nil {
		log.Errorf("[SearchService] 检索失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	log.Infof("[SearchService] 检索完成, 命中 %d 条", len(hits))
	return hits, nil
}
