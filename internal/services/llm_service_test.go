// internal/services/llm_service_test.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/SceneRelay/internal/config"
	"github.com/Corphon/SceneRelay/internal/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedProvider 每次调用阻塞到 release 关闭，并记录最大并发
type gatedProvider struct {
	release chan struct{}
	err     error

	running atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func (p *gatedProvider) Initialize(map[string]string) error { return nil }

func (p *gatedProvider) GetName() string { return "gated" }

func (p *gatedProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls.Add(1)
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: "  ответ на " + req.Prompt + "  "}, nil
}

var providerSeq atomic.Int32

// gatewayFor 注册一个独立类型的后端并返回对应的网关与服务配置
func gatewayFor(t *testing.T, p *gatedProvider, capacity int, translator Translator) (*LLMService, config.ServiceConfig) {
	t.Helper()

	typ := fmt.Sprintf("gated-%d", providerSeq.Add(1))
	llm.Register(typ, func() llm.Provider { return p })

	svc := config.DefaultServiceConfig(typ)
	svc.Key = typ
	svc.Model = "m"

	cfg := config.DefaultAppConfig()
	cfg.Services = map[string]config.ServiceConfig{typ: svc}
	cfg.Concurrency = map[string]int{typ: capacity}
	return NewLLMService(cfg, nil, translator, nil), svc
}

func TestGatewayAdmissionLimit(t *testing.T) {
	p := &gatedProvider{release: make(chan struct{})}
	gw, svc := gatewayFor(t, p, 2, nil)

	assert.Equal(t, 1, gw.Position("idle", svc))

	const senders = 6
	var wg sync.WaitGroup
	results := make([]GenerationResult, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = gw.Send(context.Background(), GenerationRequest{
				UserID:  fmt.Sprintf("u%d", i),
				Prompt:  fmt.Sprintf("p%d", i),
				Service: svc,
			})
		}(i)
	}

	require.Eventually(t, func() bool {
		st := gw.Stats()[svc.Type]
		return st.Waiting == senders && st.InFlight == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, senders+1, gw.Position("late", svc))
	assert.Equal(t, int32(2), p.running.Load())

	close(p.release)
	wg.Wait()

	assert.LessOrEqual(t, p.peak.Load(), int32(2))
	assert.Equal(t, int32(senders), p.calls.Load())
	for i, res := range results {
		require.True(t, res.OK(), "sender %d", i)
		assert.Equal(t, fmt.Sprintf("ответ на p%d", i), res.Text)
		assert.GreaterOrEqual(t, *res.Position, 1)
		assert.LessOrEqual(t, *res.Position, senders)
	}

	st := gw.Stats()[svc.Type]
	assert.Equal(t, GateStats{Capacity: 2, Waiting: 0, InFlight: 0}, st)
}

func TestGatewayPositionOnlyDoesNotCall(t *testing.T) {
	p := &gatedProvider{}
	gw, svc := gatewayFor(t, p, 1, nil)

	res := gw.Send(context.Background(), GenerationRequest{UserID: "u", Service: svc, PositionOnly: true})
	require.NotNil(t, res.Position)
	assert.Equal(t, 1, *res.Position)
	assert.Empty(t, res.Text)
	assert.Zero(t, p.calls.Load())
}

func TestGatewayFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", fmt.Errorf("token: %w", llm.ErrAuthFailed), ""},
		{"network", io.ErrUnexpectedEOF, ApologyNetwork},
		{"timeout", context.DeadlineExceeded, ApologyNetwork},
		{"status", &llm.StatusError{Code: 500, Body: "oops"}, ApologyGeneric},
		{"other", errors.New("boom"), ApologyGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, svc := gatewayFor(t, &gatedProvider{err: tt.err}, 1, nil)
			res := gw.Send(context.Background(), GenerationRequest{UserID: "u", Prompt: "x", Service: svc})
			assert.Nil(t, res.Position)
			assert.False(t, res.OK())
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestGatewayUnknownBackend(t *testing.T) {
	gw, svc := gatewayFor(t, &gatedProvider{}, 1, nil)
	svc.Type = "not-registered"
	svc.Key = "missing"

	res := gw.Send(context.Background(), GenerationRequest{UserID: "u", Prompt: "x", Service: svc})
	assert.Nil(t, res.Position)
	assert.Equal(t, ApologyGeneric, res.Text)
}

func TestGatewayCancelledWhileQueued(t *testing.T) {
	p := &gatedProvider{release: make(chan struct{})}
	gw, svc := gatewayFor(t, p, 1, nil)

	done := make(chan GenerationResult)
	go func() {
		done <- gw.Send(context.Background(), GenerationRequest{UserID: "first", Prompt: "a", Service: svc})
	}()
	require.Eventually(t, func() bool { return p.running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := gw.Send(ctx, GenerationRequest{UserID: "second", Prompt: "b", Service: svc})
	assert.Equal(t, ApologyNetwork, res.Text)
	assert.Nil(t, res.Position)

	close(p.release)
	assert.True(t, (<-done).OK())
}

// tagTranslator 给文本加上目标语言标记
type tagTranslator struct {
	mu      sync.Mutex
	targets []string

	// inFlight 在每次翻译时记录后端正在占用的名额
	inFlight  func() int
	occupancy []int
}

func (tr *tagTranslator) Translate(_ context.Context, text, target string) string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.targets = append(tr.targets, target)
	if tr.inFlight != nil {
		tr.occupancy = append(tr.occupancy, tr.inFlight())
	}
	return "[" + target + "]" + text
}

func TestGatewayTranslation(t *testing.T) {
	tr := &tagTranslator{}
	gw, svc := gatewayFor(t, &gatedProvider{}, 1, tr)

	res := gw.Send(context.Background(), GenerationRequest{UserID: "u", Prompt: "привет", Service: svc, Translate: true})
	require.True(t, res.OK())
	assert.Equal(t, "[ru]ответ на [en]привет", res.Text)
	assert.Equal(t, []string{"en", "ru"}, tr.targets)

	// 关闭翻译时不调用翻译器
	res = gw.Send(context.Background(), GenerationRequest{UserID: "u", Prompt: "привет", Service: svc, Translate: false})
	assert.Equal(t, "ответ на привет", res.Text)
	assert.Len(t, tr.targets, 2)
}

func TestGatewayTranslatesOutsideAdmission(t *testing.T) {
	tr := &tagTranslator{}
	gw, svc := gatewayFor(t, &gatedProvider{}, 1, tr)
	tr.inFlight = func() int { return gw.Stats()[svc.Type].InFlight }

	res := gw.Send(context.Background(), GenerationRequest{UserID: "u", Prompt: "привет", Service: svc, Translate: true})
	require.True(t, res.OK())
	assert.Equal(t, []int{0, 0}, tr.occupancy)
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, IsNetworkError(nil))
	assert.True(t, IsNetworkError(fmt.Errorf("read: %w", io.EOF)))
	assert.True(t, IsNetworkError(context.Canceled))
	assert.False(t, IsNetworkError(errors.New("bad request")))
}
