// Package llm 提供了与大语言模型交互的客户端。
// 进程启动时由 NewProvider 依据配置选定唯一实现，之后以依赖注入方式传递。
package llm

import (
	"context"
	"errors"
	"fmt"
)

// DefaultSystemPrompt 面向儿童的系统提示词。
const DefaultSystemPrompt = `You are a helpful, friendly AI assistant designed for children.
Your responses should be:
- Age-appropriate and safe for kids
- Educational and encouraging
- Clear and easy to understand
- Free from any inappropriate content
- Supportive of learning and curiosity

Important guidelines:
- Never discuss violence, inappropriate content, or adult themes
- Encourage curiosity and learning
- Be patient and supportive
- Use simple, clear language
- If asked about something inappropriate, politely redirect to safer topics
- Always prioritize the child's safety and well-being`

// 默认生成参数
const (
	DefaultMaxTokens    = 500
	DefaultTemperature  = 0.7
	DefaultHistoryLimit = 20 // 10 轮问答
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageWriter 用于写出流式分块，websocket.Conn 直接满足该接口。
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Provider 文本生成能力。实现方不做重试。
type Provider interface {
	Name() string
	// Generate 以 history 为上下文回答 message，返回完整文本。
	Generate(ctx context.Context, message string, history []Message, opts ...Option) (string, error)
	// GenerateStream 与 Generate 相同，但会把分块写入 writer，返回拼接后的完整文本。
	GenerateStream(ctx context.Context, message string, history []Message, writer MessageWriter, opts ...Option) (string, error)
}

// Options 控制单次调用的生成行为
type Options struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	HistoryLimit int
}

// Option 修改 Options
type Option func(*Options)

// WithSystemPrompt 覆盖系统提示词；传空串表示不发送系统提示。
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.SystemPrompt = prompt }
}

func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = t }
}

func resolveOptions(base Options, opts []Option) Options {
	o := base
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// recentHistory 只保留最后 limit 条历史，limit<=0 表示不截断。
func recentHistory(history []Message, limit int) []Message {
	if limit > 0 && len(history) > limit {
		return history[len(history)-limit:]
	}
	return history
}

// composeMessages 组装 system + 历史 + 当前提问。
func composeMessages(o Options, history []Message, message string) []Message {
	history = recentHistory(history, o.HistoryLimit)
	msgs := make([]Message, 0, len(history)+2)
	if o.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: o.SystemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: message})
	return msgs
}

// ErrorKind 服务商失败的分类
type ErrorKind string

const (
	KindRateLimited      ErrorKind = "rate_limited"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindProviderError    ErrorKind = "provider_error"
	KindUnexpected       ErrorKind = "unexpected"
)

// UserMessage 返回可以展示给孩子的提示文案。
func (k ErrorKind) UserMessage() string {
	switch k {
	case KindRateLimited:
		return "AI service is temporarily busy. Please try again in a moment."
	case KindConnectionFailed:
		return "Unable to connect to AI service. Please try again later."
	case KindProviderError:
		return "AI service encountered an error. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// Error 经过分类的服务商错误
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// KindOf 提取错误分类；非 *Error 的错误归为 Unexpected。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}
