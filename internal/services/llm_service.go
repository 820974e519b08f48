// internal/services/llm_service.go
package services

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Corphon/SceneRelay/internal/config"
	"github.com/Corphon/SceneRelay/internal/llm"
	"github.com/Corphon/SceneRelay/internal/utils"
)

// 用户可见的失败回复
const (
	ApologyNetwork = "⚠️ Думатель внезапно замолчал. Попробуй ещё раз 🫤"
	ApologyGeneric = "⚠️ Ошибка запроса к модели. Попробуй позже."
)

// Translator 提示词翻译，失败时返回原文
type Translator interface {
	Translate(ctx context.Context, text, target string) string
}

// GenerationRequest 一次发送
type GenerationRequest struct {
	UserID  string
	Prompt  string
	Service config.ServiceConfig
	// Translate 为 true 时提示词先译为中转语言，回复再译回用户语言
	Translate bool
	// PositionOnly 只查询排队位置，不占用并发名额也不发送
	PositionOnly bool
}

// GenerationResult 发送结果；Position 为 nil 表示失败
type GenerationResult struct {
	Text     string
	Position *int
}

// OK 是否得到了可写入历史的回复
func (r GenerationResult) OK() bool {
	return r.Position != nil && strings.TrimSpace(r.Text) != ""
}

// admissionGate 某类后端的并发闸门和 FIFO 等待列表
type admissionGate struct {
	sem      *semaphore.Weighted
	capacity int

	mu       sync.Mutex
	waiting  *list.List
	inFlight int
}

func newAdmissionGate(capacity int) *admissionGate {
	if capacity <= 0 {
		capacity = 1
	}
	return &admissionGate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		waiting:  list.New(),
	}
}

// enqueue 入队并返回元素与 1 起始的位置
func (g *admissionGate) enqueue(userID string) (*list.Element, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.waiting.PushBack(userID)
	return e, g.waiting.Len()
}

func (g *admissionGate) remove(e *list.Element) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waiting.Remove(e)
}

func (g *admissionGate) track(delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight += delta
}

// GateStats 某类后端的排队状态
type GateStats struct {
	Capacity int `json:"capacity"`
	Waiting  int `json:"waiting"`
	InFlight int `json:"in_flight"`
}

func (g *admissionGate) stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateStats{Capacity: g.capacity, Waiting: g.waiting.Len(), InFlight: g.inFlight}
}

// LLMService 生成网关：统一各后端、按类型限流、可选翻译
type LLMService struct {
	providerMutex sync.RWMutex
	providers     map[string]llm.Provider

	gatesMutex sync.Mutex
	gates      map[string]*admissionGate

	appConfig   *config.AppConfig
	credentials *config.Credentials
	translator  Translator
	metrics     *utils.RelayMetrics
	logger      *utils.Logger
}

// NewLLMService 创建生成网关；translator 可以为 nil
func NewLLMService(appConfig *config.AppConfig, creds *config.Credentials, translator Translator, metrics *utils.RelayMetrics) *LLMService {
	if metrics == nil {
		metrics = utils.NewRelayMetrics()
	}
	if creds == nil {
		creds = &config.Credentials{}
	}
	return &LLMService{
		providers:   make(map[string]llm.Provider),
		gates:       make(map[string]*admissionGate),
		appConfig:   appConfig,
		credentials: creds,
		translator:  translator,
		metrics:     metrics,
		logger:      utils.GetLogger(),
	}
}

func (s *LLMService) gateFor(serviceType string) *admissionGate {
	s.gatesMutex.Lock()
	defer s.gatesMutex.Unlock()

	g, ok := s.gates[serviceType]
	if !ok {
		g = newAdmissionGate(s.appConfig.ConcurrencyFor(serviceType))
		s.gates[serviceType] = g
	}
	return g
}

// Stats 返回各类后端的排队状态
func (s *LLMService) Stats() map[string]GateStats {
	s.gatesMutex.Lock()
	defer s.gatesMutex.Unlock()

	out := make(map[string]GateStats, len(s.gates))
	for t, g := range s.gates {
		out[t] = g.stats()
	}
	return out
}

// providerFor 按服务键缓存后端实例，令牌缓存等状态因此得以复用
func (s *LLMService) providerFor(svc config.ServiceConfig) (llm.Provider, error) {
	s.providerMutex.RLock()
	p, ok := s.providers[svc.Key]
	s.providerMutex.RUnlock()
	if ok {
		return p, nil
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	if p, ok := s.providers[svc.Key]; ok {
		return p, nil
	}

	p, err := llm.GetProvider(svc.Type, svc.ProviderConfig(s.credentials.For(svc.Key)))
	if err != nil {
		return nil, err
	}
	s.providers[svc.Key] = p
	return p, nil
}

// Position 查询排队位置（1 起始）；仅用于提示，不是预约
func (s *LLMService) Position(userID string, svc config.ServiceConfig) int {
	g := s.gateFor(svc.Type)
	e, pos := g.enqueue(userID)
	g.remove(e)
	return pos
}

// Send 发送提示词；任何失败都转换为道歉文本加 nil 位置
func (s *LLMService) Send(ctx context.Context, req GenerationRequest) GenerationResult {
	if req.PositionOnly {
		pos := s.Position(req.UserID, req.Service)
		return GenerationResult{Position: &pos}
	}

	svc := req.Service
	provider, err := s.providerFor(svc)
	if err != nil {
		return s.failure(svc, err, 0)
	}

	// 翻译在占用并发名额之外进行
	translate := req.Translate && s.translator != nil
	prompt := req.Prompt
	if translate {
		prompt = s.translator.Translate(ctx, prompt, s.appConfig.Translation.PivotLang)
	}

	started := time.Now()
	text, pos, err := s.complete(ctx, provider, req.UserID, svc, prompt)
	if err != nil {
		return s.failure(svc, err, time.Since(started))
	}

	if translate && text != "" {
		text = strings.TrimSpace(s.translator.Translate(ctx, text, s.appConfig.Translation.UserLang))
	}
	return GenerationResult{Text: text, Position: &pos}
}

// complete 排队、占用名额并调用后端；返回时名额已释放
func (s *LLMService) complete(ctx context.Context, provider llm.Provider, userID string, svc config.ServiceConfig, prompt string) (string, int, error) {
	g := s.gateFor(svc.Type)
	e, pos := g.enqueue(userID)
	defer g.remove(e)

	waitStart := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", pos, err
	}
	defer g.sem.Release(1)
	s.metrics.RecordQueueWait(svc.Type, pos, time.Since(waitStart))

	g.track(1)
	s.metrics.InFlight(svc.Type, 1)
	defer func() {
		g.track(-1)
		s.metrics.InFlight(svc.Type, -1)
	}()

	s.logger.Debug("generation payload", map[string]interface{}{
		"service": svc.Key,
		"type":    svc.Type,
		"model":   svc.Model,
		"prompt":  prompt,
	})

	started := time.Now()
	resp, err := provider.CompleteText(ctx, completionRequest(prompt, svc))
	if err != nil {
		return "", pos, err
	}

	s.metrics.RecordGeneration(svc.Type, svc.Model, "success", resp.PromptTokens, time.Since(started))
	if resp.FinishReason != "" && resp.FinishReason != "stop" {
		s.logger.Debug("generation finished early", map[string]interface{}{
			"service": svc.Key,
			"reason":  resp.FinishReason,
		})
	}

	text := strings.TrimSpace(resp.Text)
	s.logger.Debug("generation reply", map[string]interface{}{"service": svc.Key, "reply": text})
	return text, pos, nil
}

// failure 把错误转换为用户可见结果
func (s *LLMService) failure(svc config.ServiceConfig, err error, elapsed time.Duration) GenerationResult {
	fields := map[string]interface{}{
		"service": svc.Key,
		"type":    svc.Type,
		"error":   err.Error(),
	}

	switch {
	case errors.Is(err, llm.ErrAuthFailed):
		s.metrics.RecordGeneration(svc.Type, svc.Model, "auth_failed", 0, elapsed)
		s.logger.Debug("generation auth failed", fields)
		return GenerationResult{}
	case IsNetworkError(err):
		s.metrics.RecordGeneration(svc.Type, svc.Model, "network_error", 0, elapsed)
		s.metrics.RecordError("network", "llm_service")
		s.logger.Debug("generation network failure", fields)
		return GenerationResult{Text: ApologyNetwork}
	default:
		s.metrics.RecordGeneration(svc.Type, svc.Model, "error", 0, elapsed)
		s.metrics.RecordError("backend", "llm_service")
		s.logger.Debug("generation failed", fields)
		return GenerationResult{Text: ApologyGeneric}
	}
}

// completionRequest 生成参数原样透传
func completionRequest(prompt string, svc config.ServiceConfig) llm.CompletionRequest {
	return llm.CompletionRequest{
		Prompt:           prompt,
		Model:            svc.Model,
		ContextTokens:    svc.MaxTokens,
		MaxOutputTokens:  svc.NumPredict,
		Temperature:      svc.Temperature,
		TopP:             svc.TopP,
		MinP:             svc.MinP,
		RepeatPenalty:    svc.RepeatPenalty,
		FrequencyPenalty: svc.FrequencyPenalty,
		PresencePenalty:  svc.PresencePenalty,
		StopWords:        svc.Stop,
		KeepAlive:        svc.KeepAlive,
	}
}

// IsNetworkError 超时、连接中断等传输层错误
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// ServiceSummary 服务列表条目
type ServiceSummary struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Model  string `json:"model"`
	Active bool   `json:"active"`
}

// String 列表展示，当前服务带 ✅
func (s ServiceSummary) String() string {
	if s.Active {
		return fmt.Sprintf("✅ %s", s.Name)
	}
	return s.Name
}
