package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"kidsafe-go/internal/config"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider 通过 google.golang.org/genai 调用 Gemini。
type GeminiProvider struct {
	client   *genai.Client
	model    string
	defaults Options
}

// NewGeminiProvider 创建 GeminiProvider，APIKey 不能为空。
func NewGeminiProvider(ctx context.Context, cfg config.GeminiConfig, defaults Options) (*GeminiProvider, error) {
	return newGeminiProvider(ctx, cfg, defaults, genai.HTTPOptions{})
}

func newGeminiProvider(ctx context.Context, cfg config.GeminiConfig, defaults Options, httpOptions genai.HTTPOptions) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: httpOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{client: client, model: model, defaults: defaults}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Generate(ctx context.Context, message string, history []Message, opts ...Option) (string, error) {
	contents, genCfg := p.build(message, history, opts)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, genCfg)
	if err != nil {
		return "", p.classify(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", newError(p.Name(), KindUnexpected, errors.New("gemini returned empty response"))
	}
	return text, nil
}

func (p *GeminiProvider) GenerateStream(ctx context.Context, message string, history []Message, writer MessageWriter, opts ...Option) (string, error) {
	contents, genCfg := p.build(message, history, opts)
	var full strings.Builder
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, genCfg) {
		if err != nil {
			return full.String(), p.classify(err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if err := writer.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
			return full.String(), fmt.Errorf("failed to write message to websocket: %w", err)
		}
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", newError(p.Name(), KindUnexpected, errors.New("gemini stream is empty"))
	}
	return text, nil
}

// build 将中立的 role/content 转成 genai 的 Content，assistant 对应 model 角色。
func (p *GeminiProvider) build(message string, history []Message, opts []Option) ([]*genai.Content, *genai.GenerateContentConfig) {
	o := resolveOptions(p.defaults, opts)
	history = recentHistory(history, o.HistoryLimit)

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	genCfg := &genai.GenerateContentConfig{}
	if o.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(o.SystemPrompt, genai.RoleUser)
	}
	if o.Temperature > 0 {
		t := float32(o.Temperature)
		genCfg.Temperature = &t
	}
	if o.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(o.MaxTokens)
	}
	return contents, genCfg
}

func (p *GeminiProvider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(p.Name(), KindConnectionFailed, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return newError(p.Name(), KindConnectionFailed, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return p.classifyStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return p.classifyStatus(apiErrPtr.Code, err)
	}
	return newError(p.Name(), KindUnexpected, err)
}

func (p *GeminiProvider) classifyStatus(code int, err error) error {
	if code == http.StatusTooManyRequests {
		return newError(p.Name(), KindRateLimited, err)
	}
	return newError(p.Name(), KindProviderError, err)
}
