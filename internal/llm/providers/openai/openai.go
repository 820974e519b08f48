// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/Corphon/SceneRelay/internal/llm"
)

const (
	DefaultURL   = "https://api.openai.com/v1/chat/completions"
	DefaultModel = "gpt-4o-mini"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{model: DefaultModel}
	})
}

// Provider OpenAI 兼容的 chat/completions 接口
type Provider struct {
	client *openai.Client
	model  string
}

// baseURL 配置中给出的是完整接口地址，SDK 需要的是前缀
func baseURL(url string) string {
	url = strings.TrimRight(url, "/")
	return strings.TrimSuffix(url, "/chat/completions")
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		apiKey = config["auth_key"]
	}
	if apiKey == "" {
		return fmt.Errorf("openai 未提供 api_key: %w", llm.ErrAuthFailed)
	}

	cfg := openai.DefaultConfig(apiKey)
	if url := config["url"]; url != "" {
		cfg.BaseURL = baseURL(url)
	}
	p.client = openai.NewClientWithConfig(cfg)

	if model := config["model"]; model != "" {
		p.model = model
	}
	return nil
}

func (p *Provider) GetName() string {
	return "OpenAI"
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	temperature := req.Temperature
	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		}},
		Temperature: &temperature,
	}
	if req.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.MaxOutputTokens
	}
	if len(req.StopWords) > 0 {
		chatReq.Stop = req.StopWords
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Text:         strings.TrimSpace(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

// classify 从 SDK 错误文本中识别鉴权失败
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("openai 请求失败: %w", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "status code: 401") || strings.Contains(msg, "status code: 403") {
		return fmt.Errorf("%w: %w", llm.ErrAuthFailed, err)
	}
	return fmt.Errorf("openai 请求失败: %w", err)
}
