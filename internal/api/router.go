// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneRelay/internal/auth"
	"github.com/Corphon/SceneRelay/internal/services"
	"github.com/Corphon/SceneRelay/internal/utils"
)

// RouterDeps 路由需要的组件；Tokens 为 nil 时使用 X-User-ID 认证
type RouterDeps struct {
	Sessions  *services.SessionService
	Gateway   GatewayStats
	Hub       *WebSocketHub
	Tokens    *auth.TokenIssuer
	Metrics   *utils.RelayMetrics
	RateLimit int
	DebugMode bool
}

// SetupRouter 配置HTTP路由
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Metrics == nil {
		deps.Metrics = utils.NewRelayMetrics()
	}
	if deps.RateLimit <= 0 {
		deps.RateLimit = ChatRateLimit
	}

	handler := NewHandler(deps.Sessions, deps.Gateway, deps.Hub, deps.Metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	if deps.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(RequestIDMiddleware())
	r.Use(corsMiddleware())
	r.Use(MetricsMiddleware(deps.Metrics))

	api := r.Group("/api")
	api.Use(AuthMiddleware(deps.Tokens))
	{
		// 运行状态不计入限流
		api.GET("/status", handler.GetStatus)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws", handler.ServeWebSocket)

		chat := api.Group("")
		chat.Use(RateLimitByUser(NewRateLimiter(deps.RateLimit, time.Minute)))
		{
			// ===============================
			// 对话
			// ===============================
			chat.POST("/messages", handler.SendMessage)
			chat.POST("/retry", handler.command(CommandRetry))
			chat.POST("/continue", handler.command(CommandContinue))
			chat.POST("/edit", handler.command(CommandEdit))
			chat.POST("/reset", handler.command(CommandReset))
			chat.POST("/scene", handler.command(CommandScene))
			chat.POST("/callback", handler.Callback)

			// ===============================
			// 选择与设置
			// ===============================
			chat.POST("/scenario", handler.selection(CommandScenario))
			chat.POST("/role", handler.selection(CommandRole))
			chat.POST("/service", handler.selection(CommandService))
			chat.POST("/lang", handler.command(CommandLang))

			// ===============================
			// 查询
			// ===============================
			chat.GET("/history", handler.GetHistory)
			chat.GET("/whoami", handler.command(CommandWhoami))
			chat.GET("/scenarios", handler.GetScenarios)
			chat.GET("/services", handler.GetServices)
		}
	}

	return r
}
