// internal/config/credentials.go
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Corphon/SceneRelay/internal/utils"
)

// ServiceCredentials 某个服务的密钥
type ServiceCredentials struct {
	AuthKey string `json:"auth_key,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// Credentials secrets/credentials.json
type Credentials struct {
	TelegramBotToken string                        `json:"telegram_bot_token,omitempty"`
	Services         map[string]ServiceCredentials `json:"services"`
}

// For 返回某服务的密钥，不存在时为空
func (c *Credentials) For(key string) ServiceCredentials {
	if c == nil || c.Services == nil {
		return ServiceCredentials{}
	}
	return c.Services[key]
}

// LoadCredentials 读取密钥文件，"enc:" 前缀的值用 key 解密
//
// 文件不存在时返回空密钥集。
func LoadCredentials(path, key string) (*Credentials, error) {
	creds := &Credentials{Services: map[string]ServiceCredentials{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		utils.GetLogger().Warn("credentials file not found", map[string]interface{}{"path": path})
		return creds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取密钥文件失败: %w", err)
	}
	if err := json.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("解析密钥文件失败: %w", err)
	}
	if creds.Services == nil {
		creds.Services = map[string]ServiceCredentials{}
	}

	if creds.TelegramBotToken, err = utils.RevealSecret(creds.TelegramBotToken, key); err != nil {
		return nil, fmt.Errorf("解密 telegram_bot_token 失败: %w", err)
	}
	for name, sc := range creds.Services {
		if sc.AuthKey, err = utils.RevealSecret(sc.AuthKey, key); err != nil {
			return nil, fmt.Errorf("解密 %s.auth_key 失败: %w", name, err)
		}
		if sc.APIKey, err = utils.RevealSecret(sc.APIKey, key); err != nil {
			return nil, fmt.Errorf("解密 %s.api_key 失败: %w", name, err)
		}
		creds.Services[name] = sc
	}
	return creds, nil
}
