package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"kidsafe-go/internal/config"
)

const defaultOpenAIModel = "gpt-3.5-turbo"

// OpenAIProvider 调用 OpenAI 兼容的 /chat/completions 接口。
type OpenAIProvider struct {
	cfg      config.OpenAIConfig
	defaults Options
	client   *http.Client
}

// NewOpenAIProvider 创建 OpenAIProvider，BaseURL 为空时使用官方地址。
func NewOpenAIProvider(cfg config.OpenAIConfig, defaults Options) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	return &OpenAIProvider{cfg: cfg, defaults: defaults, client: &http.Client{}}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Stream           bool      `json:"stream"`
	Temperature      *float64  `json:"temperature,omitempty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	PresencePenalty  float64   `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64   `json:"frequency_penalty,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, message string, history []Message, opts ...Option) (string, error) {
	resp, err := p.do(ctx, message, history, false, opts)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", newError(p.Name(), KindUnexpected, fmt.Errorf("failed to decode chat response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", newError(p.Name(), KindUnexpected, errors.New("chat response has no choices"))
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", newError(p.Name(), KindUnexpected, errors.New("chat response is empty"))
	}
	return text, nil
}

func (p *OpenAIProvider) GenerateStream(ctx context.Context, message string, history []Message, writer MessageWriter, opts ...Option) (string, error) {
	resp, err := p.do(ctx, message, history, true, opts)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return full.String(), newError(p.Name(), KindConnectionFailed, fmt.Errorf("failed to read from stream: %w", err))
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		full.WriteString(content)
		if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
			return full.String(), fmt.Errorf("failed to write message to websocket: %w", err)
		}
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", newError(p.Name(), KindUnexpected, errors.New("chat stream is empty"))
	}
	return text, nil
}

// do 发送请求并完成状态码分类，调用方负责关闭 Body。
func (p *OpenAIProvider) do(ctx context.Context, message string, history []Message, stream bool, opts []Option) (*http.Response, error) {
	o := resolveOptions(p.defaults, opts)
	reqBody := chatRequest{
		Model:            p.cfg.Model,
		Messages:         composeMessages(o, history, message),
		Stream:           stream,
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
	}
	if o.Temperature > 0 {
		t := o.Temperature
		reqBody.Temperature = &t
	}
	if o.MaxTokens > 0 {
		m := o.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newError(p.Name(), KindUnexpected, fmt.Errorf("failed to marshal chat request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, newError(p.Name(), KindUnexpected, fmt.Errorf("failed to create chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newError(p.Name(), KindConnectionFailed, fmt.Errorf("failed to call chat api: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cause := fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, newError(p.Name(), KindRateLimited, cause)
		}
		return nil, newError(p.Name(), KindProviderError, cause)
	}
	return resp, nil
}
