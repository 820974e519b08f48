// internal/llm/providers/gigachat/gigachat.go
package gigachat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/Corphon/SceneRelay/internal/llm"
)

const (
	DefaultURL     = "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"
	DefaultAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultScope   = "GIGACHAT_API_PERS"

	// tokenSkew 令牌提前失效的余量
	tokenSkew = time.Minute
)

func init() {
	llm.Register("gigachat", func() llm.Provider {
		return &Provider{url: DefaultURL, authURL: DefaultAuthURL, scope: DefaultScope, now: time.Now}
	})
}

// Provider Sber GigaChat，OAuth 令牌换取后按 Bearer 调用
type Provider struct {
	url     string
	authURL string
	scope   string
	authKey string
	model   string
	client  *http.Client
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (p *Provider) Initialize(config map[string]string) error {
	if v := config["url"]; v != "" {
		p.url = v
	}
	if v := config["auth_url"]; v != "" {
		p.authURL = v
	}
	if v := config["scope"]; v != "" {
		p.scope = v
	}
	p.model = config["model"]
	p.authKey = config["auth_key"]
	if p.authKey == "" {
		return fmt.Errorf("gigachat 未提供 auth_key: %w", llm.ErrAuthFailed)
	}
	p.client = llm.NewHTTPClient(config)
	return nil
}

func (p *Provider) GetName() string {
	return "GigaChat"
}

// accessToken 返回缓存的令牌，过期前重新换取
func (p *Provider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Add(tokenSkew).Before(p.expiresAt) {
		return p.token, nil
	}

	form := url.Values{"scope": {p.scope}}
	headers := map[string]string{
		"Content-Type":  "application/x-www-form-urlencoded",
		"Accept":        "application/json",
		"RqUID":         uuid.NewString(),
		"Authorization": "Basic " + p.authKey,
	}

	data, err := llm.DoJSON(ctx, p.client, http.MethodPost, p.authURL, headers, strings.NewReader(form.Encode()))
	if err != nil {
		if errors.Is(err, llm.ErrAuthFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", llm.ErrAuthFailed, err)
	}

	token := gjson.GetBytes(data, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("%w: 未获得 access_token", llm.ErrAuthFailed)
	}

	p.token = token
	// expires_at 为毫秒时间戳
	if ms := gjson.GetBytes(data, "expires_at").Int(); ms > 0 {
		p.expiresAt = time.UnixMilli(ms)
	} else {
		p.expiresAt = p.now().Add(30 * time.Minute)
	}
	return token, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []message `json:"messages"`
	Stream           bool      `json:"stream"`
	Temperature      float32   `json:"temperature"`
	TopP             float32   `json:"top_p"`
	MaxTokens        int       `json:"max_tokens"`
	RepeatPenalty    float32   `json:"repeat_penalty"`
	FrequencyPenalty float32   `json:"frequency_penalty"`
	PresencePenalty  float32   `json:"presence_penalty"`
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	payload := chatRequest{
		Model:            model,
		Messages:         []message{{Role: "user", Content: req.Prompt}},
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxOutputTokens,
		RepeatPenalty:    req.RepeatPenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"X-Request-ID":  uuid.NewString(),
	}

	data, err := llm.PostJSON(ctx, p.client, p.url, headers, payload)
	if err != nil {
		if errors.Is(err, llm.ErrAuthFailed) {
			// 令牌被服务端吊销时下次重新换取
			p.mu.Lock()
			p.token = ""
			p.mu.Unlock()
		}
		return nil, fmt.Errorf("gigachat 请求失败: %w", err)
	}

	choice := gjson.GetBytes(data, "choices.0")
	if !choice.Exists() {
		return nil, fmt.Errorf("gigachat: %w", llm.ErrEmptyResponse)
	}

	return &llm.CompletionResponse{
		Text:         strings.TrimSpace(choice.Get("message.content").String()),
		FinishReason: choice.Get("finish_reason").String(),
		PromptTokens: int(gjson.GetBytes(data, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(data, "usage.completion_tokens").Int()),
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
