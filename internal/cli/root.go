// Package cli 实现 intranetctl 维护命令。
package cli

import (
	"context"
	"fmt"
	"intranet-assistant-go/internal/app"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/pkg/log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:           "intranetctl",
	Short:         "Maintenance commands for the intranet assistant index",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 运行根命令。SIGINT 取消正在执行的批处理，已完成的 URL 不受影响。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "./configs/config.yaml", "config file path")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg, nil
}

// withApp 加载配置并初始化依赖，执行 fn 后释放连接。
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
