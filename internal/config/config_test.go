// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneRelay/internal/utils"
)

const sampleJSON = `{
  "debug_mode": true,
  "default_service": "local",
  "services": {
    "local": {"type": "ollama", "name": "Локальная", "model": "mistral", "chatml": true},
    "giga":  {"type": "gigachat", "model": "GigaChat-Pro", "temperature": 0.7},
    "gpt":   {"type": "openai"},
    "broken": {"type": "ollama"},
    "weird": {"type": "palm", "model": "x"}
  },
  "concurrency": {"ollama": 2},
  "translation": {"url": "http://tr/translate", "max_part_size": 500}
}`

func TestParseAppConfigAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseAppConfig([]byte(sampleJSON))
	require.NoError(t, err)

	assert.True(t, cfg.DebugMode)
	assert.Equal(t, []string{"giga", "gpt", "local"}, cfg.ServiceKeys())

	local, ok := cfg.Service("local")
	require.True(t, ok)
	assert.Equal(t, "local", local.Key)
	assert.Equal(t, "Локальная", local.DisplayName())
	assert.Equal(t, "http://localhost:11434/api/generate", local.URL)
	assert.True(t, local.ChatML)
	assert.Equal(t, 7000, local.MaxTokens)
	assert.Equal(t, 2048, local.NumPredict)
	assert.Equal(t, 1200, local.KeepAlive)
	assert.InDelta(t, 0.05, local.MinP, 1e-6)

	giga := cfg.Services["giga"]
	assert.Equal(t, "giga", giga.DisplayName())
	assert.InDelta(t, 0.7, giga.Temperature, 1e-6)
	assert.Equal(t, "GIGACHAT_API_PERS", giga.Scope)
	assert.Equal(t, "https://ngw.devices.sberbank.ru:9443/api/v2/oauth", giga.AuthURL)

	gpt := cfg.Services["gpt"]
	assert.Equal(t, "gpt-4o-mini", gpt.Model)
	assert.InDelta(t, 0.9, gpt.Temperature, 1e-6)

	assert.Equal(t, 2, cfg.ConcurrencyFor(ServiceOllama))
	assert.Equal(t, 1, cfg.ConcurrencyFor(ServiceGigaChat))
	assert.Equal(t, 2, cfg.ConcurrencyFor(ServiceAnthropic))
	assert.Equal(t, 1, cfg.ConcurrencyFor("unknown"))

	assert.Equal(t, "http://tr/translate", cfg.Translation.URL)
	assert.Equal(t, 500, cfg.Translation.MaxPartSize)
	assert.Equal(t, "en", cfg.Translation.PivotLang)
	assert.Equal(t, 4, cfg.Translation.Parallelism)
}

func TestServiceValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
		ok     bool
	}{
		{"valid", func(*ServiceConfig) {}, true},
		{"no model", func(sc *ServiceConfig) { sc.Model = "" }, false},
		{"zero max tokens", func(sc *ServiceConfig) { sc.MaxTokens = 0 }, false},
		{"zero timeout", func(sc *ServiceConfig) { sc.Timeout = 0 }, false},
		{"hot", func(sc *ServiceConfig) { sc.Temperature = 2.5 }, false},
		{"top_p zero", func(sc *ServiceConfig) { sc.TopP = 0 }, false},
		{"top_p one", func(sc *ServiceConfig) { sc.TopP = 1 }, true},
		{"unknown type", func(sc *ServiceConfig) { sc.Type = "palm" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := DefaultServiceConfig(ServiceOllama)
			sc.Key = "x"
			sc.Model = "m"
			tt.mutate(&sc)
			if tt.ok {
				assert.NoError(t, sc.Validate())
			} else {
				assert.Error(t, sc.Validate())
			}
		})
	}
}

func TestLoadAppConfigWritesDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "conf", "config.json")
	cfg, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "ollama", cfg.DefaultService)

	again, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ServiceKeys(), again.ServiceKeys())
	assert.Equal(t, "llama3", again.Services["ollama"].Model)
}

func TestLoadAppConfigYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_service: claude
services:
  claude:
    type: anthropic
    model: claude-3-5-haiku-latest
    top_p: 0.8
`), 0644))

	cfg, err := LoadAppConfig(path)
	require.NoError(t, err)
	claude, ok := cfg.Service("claude")
	require.True(t, ok)
	assert.Equal(t, "https://api.anthropic.com/v1", claude.URL)
	assert.InDelta(t, 0.8, claude.TopP, 1e-6)
	assert.Equal(t, 90, claude.Timeout)
}

func TestLoadCredentials(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	key := "0123456789abcdef0123456789abcdef"
	sealed, err := utils.Encrypt("secret-auth", key)
	require.NoError(t, err)

	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"telegram_bot_token": "tg",
		"services": {"giga": {"auth_key": "`+utils.EncryptedPrefix+sealed+`"}, "gpt": {"api_key": "sk-plain"}}
	}`), 0600))

	creds, err := LoadCredentials(path, key)
	require.NoError(t, err)
	assert.Equal(t, "tg", creds.TelegramBotToken)
	assert.Equal(t, "secret-auth", creds.For("giga").AuthKey)
	assert.Equal(t, "sk-plain", creds.For("gpt").APIKey)
	assert.Empty(t, creds.For("missing").APIKey)

	_, err = LoadCredentials(path, "")
	assert.Error(t, err)

	empty, err := LoadCredentials(filepath.Join(dir, "absent.json"), "")
	require.NoError(t, err)
	assert.Empty(t, empty.Services)
}

func TestProviderConfig(t *testing.T) {
	t.Parallel()

	sc := DefaultServiceConfig(ServiceGigaChat)
	sc.Model = "GigaChat"
	cfg := sc.ProviderConfig(ServiceCredentials{AuthKey: "ak"})
	assert.Equal(t, "ak", cfg["auth_key"])
	assert.Equal(t, "90", cfg["timeout"])
	assert.Equal(t, "GIGACHAT_API_PERS", cfg["scope"])
	_, hasAPIKey := cfg["api_key"]
	assert.False(t, hasAPIKey)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/relay")
	t.Setenv("STORAGE_BACKEND", "SQLite")
	t.Setenv("DEBUG_MODE", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, filepath.Join("/tmp/relay", "tiktoken"), cfg.TiktokenCacheDir)

	t.Setenv("STORAGE_BACKEND", "mongo")
	_, err = Load()
	assert.Error(t, err)
}
