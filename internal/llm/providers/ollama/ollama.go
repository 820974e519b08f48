// internal/llm/providers/ollama/ollama.go
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Corphon/SceneRelay/internal/llm"
)

// DefaultURL 本地 Ollama 生成接口
const DefaultURL = "http://localhost:11434/api/generate"

func init() {
	llm.Register("ollama", func() llm.Provider {
		return &Provider{url: DefaultURL}
	})
}

// Provider 本地 Ollama 服务
type Provider struct {
	url    string
	model  string
	client *http.Client
}

func (p *Provider) Initialize(config map[string]string) error {
	if url := config["url"]; url != "" {
		p.url = url
	}
	p.model = config["model"]
	if p.model == "" {
		return errors.New("ollama 未配置模型")
	}
	p.client = llm.NewHTTPClient(config)
	return nil
}

func (p *Provider) GetName() string {
	return "Ollama"
}

type options struct {
	Temperature      float32  `json:"temperature"`
	TopP             float32  `json:"top_p"`
	MinP             float32  `json:"min_p"`
	RepeatPenalty    float32  `json:"repeat_penalty"`
	FrequencyPenalty float32  `json:"frequency_penalty"`
	PresencePenalty  float32  `json:"presence_penalty"`
	Stop             []string `json:"stop,omitempty"`
	NumCtx           int      `json:"num_ctx"`
	NumPredict       int      `json:"num_predict"`
}

type generateRequest struct {
	Model     string  `json:"model"`
	Prompt    string  `json:"prompt"`
	Stream    bool    `json:"stream"`
	KeepAlive int     `json:"keep_alive"`
	Options   options `json:"options"`
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	payload := generateRequest{
		Model:     model,
		Prompt:    req.Prompt,
		Stream:    false,
		KeepAlive: req.KeepAlive,
		Options: options{
			Temperature:      req.Temperature,
			TopP:             req.TopP,
			MinP:             req.MinP,
			RepeatPenalty:    req.RepeatPenalty,
			FrequencyPenalty: req.FrequencyPenalty,
			PresencePenalty:  req.PresencePenalty,
			Stop:             req.StopWords,
			NumCtx:           req.ContextTokens,
			NumPredict:       req.MaxOutputTokens,
		},
	}

	data, err := llm.PostJSON(ctx, p.client, p.url, nil, payload)
	if err != nil {
		return nil, fmt.Errorf("ollama 请求失败: %w", err)
	}

	result := gjson.ParseBytes(data)
	if !result.Get("response").Exists() {
		return nil, fmt.Errorf("ollama: %w", llm.ErrEmptyResponse)
	}

	return &llm.CompletionResponse{
		Text:         strings.TrimSpace(result.Get("response").String()),
		FinishReason: result.Get("done_reason").String(),
		PromptTokens: int(result.Get("prompt_eval_count").Int()),
		OutputTokens: int(result.Get("eval_count").Int()),
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
