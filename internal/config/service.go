// internal/config/service.go
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// 支持的后端类型
const (
	ServiceOllama    = "ollama"
	ServiceGigaChat  = "gigachat"
	ServiceOpenAI    = "openai"
	ServiceAnthropic = "anthropic"
)

// ServiceConfig config.json 中 services 下的一项
type ServiceConfig struct {
	Key string `json:"-" yaml:"-"`

	Type    string `json:"type" yaml:"type"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	AuthURL string `json:"auth_url,omitempty" yaml:"auth_url,omitempty"`
	Scope   string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`

	Temperature      float32  `json:"temperature" yaml:"temperature"`
	TopP             float32  `json:"top_p" yaml:"top_p"`
	MinP             float32  `json:"min_p" yaml:"min_p"`
	RepeatPenalty    float32  `json:"repeat_penalty" yaml:"repeat_penalty"`
	FrequencyPenalty float32  `json:"frequency_penalty" yaml:"frequency_penalty"`
	PresencePenalty  float32  `json:"presence_penalty" yaml:"presence_penalty"`
	MaxTokens        int      `json:"max_tokens" yaml:"max_tokens"`
	NumPredict       int      `json:"num_predict" yaml:"num_predict"`
	KeepAlive        int      `json:"keep_alive" yaml:"keep_alive"`
	Stop             []string `json:"stop,omitempty" yaml:"stop,omitempty"`
	ChatML           bool     `json:"chatml" yaml:"chatml"`
	Timeout          int      `json:"timeout" yaml:"timeout"`
}

// DefaultServiceConfig 返回某类型后端的全部默认值
func DefaultServiceConfig(serviceType string) ServiceConfig {
	sc := ServiceConfig{
		Type:             serviceType,
		Temperature:      1.0,
		TopP:             0.95,
		MinP:             0.05,
		RepeatPenalty:    1.0,
		FrequencyPenalty: 0.0,
		PresencePenalty:  0.0,
		MaxTokens:        7000,
		NumPredict:       2048,
		KeepAlive:        1200,
		Timeout:          90,
	}

	switch serviceType {
	case ServiceOllama:
		sc.URL = "http://localhost:11434/api/generate"
	case ServiceGigaChat:
		sc.URL = "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"
		sc.AuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
		sc.Scope = "GIGACHAT_API_PERS"
	case ServiceOpenAI:
		sc.URL = "https://api.openai.com/v1/chat/completions"
		sc.Model = "gpt-4o-mini"
		sc.Temperature = 0.9
	case ServiceAnthropic:
		sc.URL = "https://api.anthropic.com/v1"
	}
	return sc
}

// DisplayName 列表中展示的名称，缺省为键名
func (sc ServiceConfig) DisplayName() string {
	if sc.Name != "" {
		return sc.Name
	}
	return sc.Key
}

// Validate 检查配置是否可用
func (sc ServiceConfig) Validate() error {
	switch sc.Type {
	case ServiceOllama, ServiceGigaChat:
		if strings.TrimSpace(sc.Model) == "" {
			return fmt.Errorf("服务 %s: 未配置 model", sc.Key)
		}
	case ServiceOpenAI, ServiceAnthropic:
	default:
		return fmt.Errorf("服务 %s: 未知的类型 %q", sc.Key, sc.Type)
	}

	if sc.MaxTokens <= 0 {
		return fmt.Errorf("服务 %s: max_tokens 必须为正数", sc.Key)
	}
	if sc.Timeout <= 0 {
		return fmt.Errorf("服务 %s: timeout 必须为正数", sc.Key)
	}
	if sc.Temperature < 0 || sc.Temperature > 2 {
		return fmt.Errorf("服务 %s: temperature 超出 [0, 2]", sc.Key)
	}
	if sc.TopP <= 0 || sc.TopP > 1 {
		return fmt.Errorf("服务 %s: top_p 超出 (0, 1]", sc.Key)
	}
	return nil
}

// ProviderConfig 生成后端初始化参数
func (sc ServiceConfig) ProviderConfig(creds ServiceCredentials) map[string]string {
	cfg := map[string]string{
		"url":     sc.URL,
		"model":   sc.Model,
		"timeout": strconv.Itoa(sc.Timeout),
	}
	if sc.AuthURL != "" {
		cfg["auth_url"] = sc.AuthURL
	}
	if sc.Scope != "" {
		cfg["scope"] = sc.Scope
	}
	if creds.APIKey != "" {
		cfg["api_key"] = creds.APIKey
	}
	if creds.AuthKey != "" {
		cfg["auth_key"] = creds.AuthKey
	}
	return cfg
}
