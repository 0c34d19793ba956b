package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// MockProvider 不访问任何外部服务的固定回复实现。
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Generate(ctx context.Context, message string, history []Message, opts ...Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", newError(p.Name(), KindUnexpected, err)
	}
	runes := []rune(message)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return fmt.Sprintf("Thank you for your question about: '%s...'. I'm here to help you learn and explore safely!", string(runes)), nil
}

// GenerateStream 按单词切分固定回复，逐块写出。
func (p *MockProvider) GenerateStream(ctx context.Context, message string, history []Message, writer MessageWriter, opts ...Option) (string, error) {
	reply, err := p.Generate(ctx, message, history, opts...)
	if err != nil {
		return "", err
	}
	words := strings.SplitAfter(reply, " ")
	for _, w := range words {
		if err := writer.WriteMessage(websocket.TextMessage, []byte(w)); err != nil {
			return "", fmt.Errorf("failed to write message to websocket: %w", err)
		}
	}
	return reply, nil
}
