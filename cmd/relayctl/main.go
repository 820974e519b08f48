// cmd/relayctl/main.go
package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/Corphon/SceneRelay/internal/app"
	"github.com/Corphon/SceneRelay/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "SceneRelay administration tool",
	Long: heredoc.Doc(`
		relayctl inspects and maintains a SceneRelay data directory.

		It reads the same environment (.env, DATA_DIR, SCENARIOS_DIR, ARCHIVE_DIR,
		CONFIG_FILE, STORAGE_BACKEND ...) as the server, so run it from the
		server's working directory.
	`),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show service logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 读取环境配置；未加 --verbose 时只输出错误日志
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		cfg.LogLevel = "error"
		cfg.DebugMode = false
	}
	return cfg, nil
}

// openApp 装配完整应用；调用方负责 Cleanup
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化失败: %w", err)
	}
	return a, nil
}
