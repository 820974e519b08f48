// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneRelay/internal/app"
	"github.com/Corphon/SceneRelay/internal/config"
)

func main() {
	log.Println("🚀 启动 SceneRelay 服务器...")

	// 1. 加载环境配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s，存储: %s", cfg.Port, cfg.StorageBackend)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. 装配全部组件并恢复状态
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ 初始化应用失败: %v", err)
	}
	log.Printf("✅ 组件初始化完成: %v", application.GetDIContainer().GetNames())

	// 3. 启动服务器，等待中断信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
	log.Printf("🔗 WebSocket: ws://localhost:%s/api/ws", cfg.Port)

	runErr := application.Run(ctx)
	log.Println("🛑 正在关闭服务器...")

	// 4. 写出最后的状态
	application.Cleanup()

	if runErr != nil {
		log.Fatalf("❌ %v", runErr)
	}
	log.Println("✅ 服务器优雅关闭完成")
}
