// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneRelay/internal/api"
	"github.com/Corphon/SceneRelay/internal/auth"
	"github.com/Corphon/SceneRelay/internal/config"
	"github.com/Corphon/SceneRelay/internal/di"
	"github.com/Corphon/SceneRelay/internal/services"
	"github.com/Corphon/SceneRelay/internal/storage"
	"github.com/Corphon/SceneRelay/internal/tokens"
	"github.com/Corphon/SceneRelay/internal/translate"
	"github.com/Corphon/SceneRelay/internal/utils"

	// 注册生成后端
	_ "github.com/Corphon/SceneRelay/internal/llm/providers/anthropic"
	_ "github.com/Corphon/SceneRelay/internal/llm/providers/gigachat"
	_ "github.com/Corphon/SceneRelay/internal/llm/providers/ollama"
	_ "github.com/Corphon/SceneRelay/internal/llm/providers/openai"
)

const (
	// ShutdownTimeout 优雅关闭的最长等待
	ShutdownTimeout = 30 * time.Second

	logFileName   = "scenerelay.log"
	stateDBName   = "state.db"
	metricsReport = 5 * time.Minute
)

// App 进程内的全部组件
type App struct {
	config    *config.Config
	appConfig *config.AppConfig
	container *di.Container

	state     storage.StateStore
	scenarios *services.ScenarioService
	sessions  *services.SessionService
	hub       *api.WebSocketHub
	router    *gin.Engine

	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *utils.Logger
}

// New 按环境配置装配应用；返回前已恢复持久化状态
func New(cfg *config.Config) (*App, error) {
	a := &App{
		config:    cfg,
		container: di.NewContainer(),
		logger:    utils.GetLogger(),
	}
	if err := a.initialize(); err != nil {
		a.Cleanup()
		return nil, err
	}
	return a, nil
}

func (a *App) initialize() error {
	cfg := a.config
	for _, dir := range []string{cfg.DataDir, cfg.LogDir, cfg.ScenariosDir, cfg.ArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}

	if err := a.initLogger(); err != nil {
		return err
	}

	appConfig, err := config.LoadAppConfig(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("加载配置文件失败: %w", err)
	}
	if cfg.DebugMode {
		appConfig.DebugMode = true
	}
	config.SetCurrentConfig(appConfig)
	a.appConfig = appConfig

	creds, err := config.LoadCredentials(cfg.CredentialsFile, cfg.CredentialsKey)
	if err != nil {
		return fmt.Errorf("加载密钥失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.state, err = OpenState(ctx, cfg)
	if err != nil {
		return err
	}

	tokens.InitLoader(cfg.TiktokenCacheDir)
	estimator := tokens.ForEncoding(cfg.TiktokenEncoding)
	archive := storage.NewArchive(cfg.ArchiveDir)
	metrics := utils.NewRelayMetricsWith(utils.GetMetricsCollector())
	translator := newTranslator(appConfig.Translation)

	gateway := services.NewLLMService(appConfig, creds, translator, metrics)

	a.scenarios, err = services.NewScenarioService(cfg.ScenariosDir)
	if err != nil {
		return err
	}
	if err := a.scenarios.Watch(ctx); err != nil {
		a.logger.Warn("scenario watch disabled", map[string]interface{}{"error": err.Error()})
	}

	a.sessions = services.NewSessionService(services.SessionDeps{
		Scenarios: a.scenarios,
		Gateway:   gateway,
		AppConfig: appConfig,
		Estimator: estimator,
		State:     a.state,
		Archive:   archive,
		Metrics:   metrics,
	})
	if err := a.sessions.Restore(); err != nil {
		return err
	}

	var issuer *auth.TokenIssuer
	if cfg.AuthSecretKey != "" {
		if issuer, err = auth.NewTokenIssuer(cfg.AuthSecretKey, auth.DefaultExpiration); err != nil {
			return fmt.Errorf("创建令牌签发器失败: %w", err)
		}
	}

	a.hub = api.NewWebSocketHub(metrics)
	a.router = api.SetupRouter(api.RouterDeps{
		Sessions:  a.sessions,
		Gateway:   gateway,
		Hub:       a.hub,
		Tokens:    issuer,
		Metrics:   metrics,
		DebugMode: appConfig.DebugMode,
	})

	metrics.StartMetricsCollection(ctx, metricsReport)

	a.container.Register(di.Config, cfg)
	a.container.Register(di.AppConfig, appConfig)
	a.container.Register(di.Metrics, metrics)
	a.container.Register(di.State, a.state)
	a.container.Register(di.Archive, archive)
	a.container.Register(di.Estimator, estimator)
	a.container.Register(di.Gateway, gateway)
	a.container.Register(di.Scenarios, a.scenarios)
	a.container.Register(di.Sessions, a.sessions)
	a.container.Register(di.Hub, a.hub)
	if issuer != nil {
		a.container.Register(di.Tokens, issuer)
	}
	if translator != nil {
		a.container.Register(di.Translator, translator)
	}

	a.logger.Info("application initialized", map[string]interface{}{
		"services":  appConfig.ServiceKeys(),
		"storage":   cfg.StorageBackend,
		"encoding":  cfg.TiktokenEncoding,
		"scenarios": cfg.ScenariosDir,
	})
	return nil
}

func (a *App) initLogger() error {
	logger := utils.GetLogger()
	level := utils.ParseLogLevel(a.config.LogLevel)
	if a.config.DebugMode {
		level = utils.DEBUG
	}
	logger.SetLogLevel(level)
	return utils.InitLogger(filepath.Join(a.config.LogDir, logFileName), utils.DefaultLogOptions)
}

// OpenState 按 STORAGE_BACKEND 打开状态存储
func OpenState(ctx context.Context, cfg *config.Config) (storage.StateStore, error) {
	switch cfg.StorageBackend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(ctx, filepath.Join(cfg.DataDir, stateDBName))
		if err != nil {
			return nil, fmt.Errorf("打开 SQLite 存储失败: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewFileStorage(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("打开文件存储失败: %w", err)
		}
		return store, nil
	}
}

// newTranslator 未配置翻译服务时返回 nil，翻译开关不生效
func newTranslator(tc config.TranslationConfig) services.Translator {
	switch strings.ToLower(tc.Service) {
	case "", "none", "off":
		return nil
	}
	backend := translate.NewLibreTranslate(tc.URL, os.Getenv("TRANSLATE_API_KEY"), 0)
	return translate.NewPromptTranslator(backend, tc.MaxPartSize, tc.Parallelism)
}

// Router HTTP 路由
func (a *App) Router() *gin.Engine { return a.router }

// Sessions 会话协调器
func (a *App) Sessions() *services.SessionService { return a.sessions }

// GetDIContainer 组件容器
func (a *App) GetDIContainer() *di.Container { return a.container }

// GetConfig 环境配置
func (a *App) GetConfig() *config.Config { return a.config }

// IsDebugMode 是否调试模式
func (a *App) IsDebugMode() bool {
	return a.appConfig != nil && a.appConfig.DebugMode
}

// Run 监听端口直到 ctx 结束，然后优雅关闭
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.config.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	// WebSocket 连接已被劫持，Shutdown 不会等待它们
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	return <-errCh
}

// Cleanup 写出最后的状态并释放资源，可重复调用
func (a *App) Cleanup() {
	a.closeOnce.Do(func() {
		if a.sessions != nil {
			a.sessions.Flush()
		}
		if a.hub != nil {
			a.hub.Close()
		}
		if a.cancel != nil {
			a.cancel()
		}
		if a.scenarios != nil {
			if err := a.scenarios.Close(); err != nil {
				a.logger.Warn("scenario watcher close failed", map[string]interface{}{"error": err.Error()})
			}
		}
		if a.state != nil {
			if err := a.state.Close(); err != nil {
				a.logger.Warn("state store close failed", map[string]interface{}{"error": err.Error()})
			}
		}
		utils.CloseLogger()
	})
}
