// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/Corphon/SceneRelay/internal/utils"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
)

// Config 进程环境配置
type Config struct {
	Port             string
	DataDir          string
	LogDir           string
	ScenariosDir     string
	ArchiveDir       string
	ConfigFile       string
	CredentialsFile  string
	DebugMode        bool
	LogLevel         string
	StorageBackend   string
	TiktokenEncoding string
	TiktokenCacheDir string
	AuthSecretKey    string
	CredentialsKey   string
}

// TranslationConfig 翻译设置
type TranslationConfig struct {
	Service     string `json:"service" yaml:"service"`
	URL         string `json:"url" yaml:"url"`
	PivotLang   string `json:"pivot_lang" yaml:"pivot_lang"`
	UserLang    string `json:"user_lang" yaml:"user_lang"`
	MaxPartSize int    `json:"max_part_size" yaml:"max_part_size"`
	Parallelism int    `json:"parallelism" yaml:"parallelism"`
}

// AppConfig config.json
type AppConfig struct {
	DebugMode      bool                     `json:"debug_mode" yaml:"debug_mode"`
	DefaultService string                   `json:"default_service" yaml:"default_service"`
	Services       map[string]ServiceConfig `json:"services" yaml:"services"`
	Concurrency    map[string]int           `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Translation    TranslationConfig        `json:"translation" yaml:"translation"`
}

// DefaultConcurrency 各类型后端同时在途请求数
var DefaultConcurrency = map[string]int{
	ServiceOllama:    5,
	ServiceGigaChat:  1,
	ServiceOpenAI:    5,
	ServiceAnthropic: 2,
}

// DefaultTranslation 翻译缺省值
func DefaultTranslation() TranslationConfig {
	return TranslationConfig{
		Service:     "libretranslate",
		URL:         "http://localhost:5000/translate",
		PivotLang:   "en",
		UserLang:    "ru",
		MaxPartSize: 1000,
		Parallelism: 4,
	}
}

// DefaultAppConfig 配置文件缺失时写出的配置
func DefaultAppConfig() *AppConfig {
	ollama := DefaultServiceConfig(ServiceOllama)
	ollama.Key = "ollama"
	ollama.Name = "Ollama"
	ollama.Model = "llama3"

	return &AppConfig{
		DebugMode:      false,
		DefaultService: "ollama",
		Services:       map[string]ServiceConfig{"ollama": ollama},
		Concurrency:    copyConcurrency(DefaultConcurrency),
		Translation:    DefaultTranslation(),
	}
}

func copyConcurrency(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	config := &Config{
		Port:             getEnv("PORT", "8080"),
		DataDir:          dataDir,
		LogDir:           getEnv("LOG_DIR", "logs"),
		ScenariosDir:     getEnv("SCENARIOS_DIR", "scenarios"),
		ArchiveDir:       getEnv("ARCHIVE_DIR", "chat_logs"),
		ConfigFile:       getEnv("CONFIG_FILE", "config.json"),
		CredentialsFile:  getEnv("CREDENTIALS_FILE", filepath.Join("secrets", "credentials.json")),
		DebugMode:        getEnvBool("DEBUG_MODE", false),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", "json")),
		TiktokenEncoding: getEnv("TIKTOKEN_ENCODING", "gpt2"),
		TiktokenCacheDir: getEnv("TIKTOKEN_CACHE_DIR", filepath.Join(dataDir, "tiktoken")),
		AuthSecretKey:    os.Getenv("AUTH_SECRET_KEY"),
		CredentialsKey:   os.Getenv("CREDENTIALS_KEY"),
	}

	switch config.StorageBackend {
	case "json", "sqlite":
	default:
		return nil, fmt.Errorf("不支持的 STORAGE_BACKEND: %q", config.StorageBackend)
	}

	if config.AuthSecretKey == "" {
		log.Println("警告: 未设置 AUTH_SECRET_KEY，将使用 X-User-ID 请求头识别用户")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// fileConfig 先以原始形式读取服务项，再叠加到类型默认值上
type fileConfig struct {
	DebugMode      bool                       `json:"debug_mode"`
	DefaultService string                     `json:"default_service"`
	Services       map[string]json.RawMessage `json:"services"`
	Concurrency    map[string]int             `json:"concurrency"`
	Translation    *TranslationConfig         `json:"translation"`
}

// LoadAppConfig 读取 config.json / config.yaml；文件不存在时写出默认配置
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultAppConfig()
		if err := SaveAppConfig(path, cfg); err != nil {
			return nil, err
		}
		utils.GetLogger().Warn("config file not found, default written", map[string]interface{}{"path": path})
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if isYAML(path) {
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("解析YAML配置失败: %w", err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, fmt.Errorf("转换YAML配置失败: %w", err)
		}
	}

	return ParseAppConfig(data)
}

// ParseAppConfig 解析 JSON 配置并为每个服务补齐类型默认值
//
// 无效的服务项被丢弃并记录警告。
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg := &AppConfig{
		DebugMode:      fc.DebugMode,
		DefaultService: fc.DefaultService,
		Services:       make(map[string]ServiceConfig, len(fc.Services)),
		Concurrency:    copyConcurrency(DefaultConcurrency),
		Translation:    DefaultTranslation(),
	}
	for k, v := range fc.Concurrency {
		if v > 0 {
			cfg.Concurrency[k] = v
		}
	}
	if fc.Translation != nil {
		mergeTranslation(&cfg.Translation, *fc.Translation)
	}

	logger := utils.GetLogger()
	for key, raw := range fc.Services {
		sc := DefaultServiceConfig(gjson.GetBytes(raw, "type").String())
		if err := json.Unmarshal(raw, &sc); err != nil {
			logger.Warn("service config skipped", map[string]interface{}{"service": key, "error": err.Error()})
			continue
		}
		sc.Key = key
		if err := sc.Validate(); err != nil {
			logger.Warn("service config invalid", map[string]interface{}{"service": key, "error": err.Error()})
			continue
		}
		cfg.Services[key] = sc
	}

	if _, ok := cfg.Services[cfg.DefaultService]; !ok && cfg.DefaultService != "" {
		logger.Warn("default service is not configured", map[string]interface{}{"service": cfg.DefaultService})
	}
	return cfg, nil
}

func mergeTranslation(dst *TranslationConfig, src TranslationConfig) {
	if src.Service != "" {
		dst.Service = src.Service
	}
	if src.URL != "" {
		dst.URL = src.URL
	}
	if src.PivotLang != "" {
		dst.PivotLang = src.PivotLang
	}
	if src.UserLang != "" {
		dst.UserLang = src.UserLang
	}
	if src.MaxPartSize > 0 {
		dst.MaxPartSize = src.MaxPartSize
	}
	if src.Parallelism > 0 {
		dst.Parallelism = src.Parallelism
	}
}

// SaveAppConfig 保存配置到文件，格式由扩展名决定
func SaveAppConfig(path string, cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Service 按键查找服务
func (c *AppConfig) Service(key string) (ServiceConfig, bool) {
	sc, ok := c.Services[key]
	return sc, ok
}

// ServiceKeys 有序的服务键
func (c *AppConfig) ServiceKeys() []string {
	keys := make([]string, 0, len(c.Services))
	for k := range c.Services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConcurrencyFor 某类型后端的并发上限，至少为 1
func (c *AppConfig) ConcurrencyFor(serviceType string) int {
	if n, ok := c.Concurrency[serviceType]; ok && n > 0 {
		return n
	}
	if n, ok := DefaultConcurrency[serviceType]; ok {
		return n
	}
	return 1
}

// SetCurrentConfig 设置进程级配置
func SetCurrentConfig(cfg *AppConfig) {
	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = cfg
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		return DefaultAppConfig()
	}

	// 返回配置的副本
	configCopy := *currentConfig
	return &configCopy
}
