package llm

import (
	"context"
	"strings"

	"kidsafe-go/internal/config"
	"kidsafe-go/pkg/log"
)

// NewProvider 依据配置选择唯一的服务商实现。
// provider 为 auto 或空时：有 OpenAI key 用 OpenAI，否则有 Gemini key 用 Gemini，否则用 Mock。
func NewProvider(cfg config.AIConfig) Provider {
	defaults := defaultOptions(cfg)

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI, defaults)
	case "gemini":
		p, err := NewGeminiProvider(context.Background(), cfg.Gemini, defaults)
		if err != nil {
			log.Errorf("Gemini 客户端初始化失败，改用 Mock: %v", err)
			return NewMockProvider()
		}
		return p
	case "mock":
		return NewMockProvider()
	}

	if cfg.OpenAI.APIKey != "" {
		return NewOpenAIProvider(cfg.OpenAI, defaults)
	}
	if cfg.Gemini.APIKey != "" {
		p, err := NewGeminiProvider(context.Background(), cfg.Gemini, defaults)
		if err == nil {
			return p
		}
		log.Errorf("Gemini 客户端初始化失败: %v", err)
	}
	log.Warnf("未配置 AI 服务商 API key，使用 Mock 实现")
	return NewMockProvider()
}

func defaultOptions(cfg config.AIConfig) Options {
	o := Options{
		SystemPrompt: DefaultSystemPrompt,
		MaxTokens:    DefaultMaxTokens,
		Temperature:  DefaultTemperature,
		HistoryLimit: DefaultHistoryLimit,
	}
	if cfg.Prompt.System != "" {
		o.SystemPrompt = cfg.Prompt.System
	}
	if cfg.Generation.MaxTokens > 0 {
		o.MaxTokens = cfg.Generation.MaxTokens
	}
	if cfg.Generation.Temperature > 0 {
		o.Temperature = cfg.Generation.Temperature
	}
	if cfg.Generation.HistoryLimit > 0 {
		o.HistoryLimit = cfg.Generation.HistoryLimit
	}
	return o
}
