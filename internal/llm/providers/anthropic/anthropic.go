// internal/llm/providers/anthropic/anthropic.go
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/Corphon/SceneRelay/internal/llm"
)

const (
	DefaultURL   = "https://api.anthropic.com/v1"
	DefaultModel = "claude-3-5-haiku-latest"

	defaultMaxTokens = 2048
)

func init() {
	llm.Register("anthropic", func() llm.Provider {
		return &Provider{model: DefaultModel}
	})
}

// Provider Anthropic Messages 接口
type Provider struct {
	client *anthropic.Client
	model  string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("anthropic api密钥未提供: %w", llm.ErrAuthFailed)
	}

	var opts []anthropic.ClientOption
	if url := config["url"]; url != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(strings.TrimRight(url, "/"), "/messages")))
	}
	p.client = anthropic.NewClient(apiKey, opts...)

	if model := config["model"]; model != "" {
		p.model = model
	}
	return nil
}

func (p *Provider) GetName() string {
	return "Anthropic Claude"
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := req.Temperature

	msgReq := anthropic.MessagesRequest{
		Model: anthropic.Model(model),
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(req.Prompt)},
		}},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if req.TopP > 0 {
		topP := req.TopP
		msgReq.TopP = &topP
	}
	if len(req.StopWords) > 0 {
		msgReq.StopSequences = req.StopWords
	}

	resp, err := p.client.CreateMessages(ctx, msgReq)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "authentication_error") || strings.Contains(msg, "permission_error") {
			return nil, fmt.Errorf("%w: %w", llm.ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("anthropic 请求失败: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("anthropic: %w", llm.ErrEmptyResponse)
	}

	return &llm.CompletionResponse{
		Text:         strings.TrimSpace(text.String()),
		FinishReason: string(resp.StopReason),
		PromptTokens: resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
