package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tooltool/pkg/app"
	"tooltool/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "tooltool",
	Short:         "tooltool: content-addressed artifact store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 是入口；SIGINT/SIGTERM 取消命令的 context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		return err
	}
	return nil
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tooltool/config.yaml)")

	// 2. 常用配置项也可以用 flag 覆盖
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	mustBind("log.level", "log-level")

	rootCmd.AddCommand(serveCmd, workerCmd, checkPendingUploadsCmd, replicateCmd, tokenCmd, uploadCmd, fetchCmd)
}

// mustBind 把 root 的 persistent flag 绑定到 Viper key
func mustBind(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}

// loadApp 为需要数据库与存储的命令组装 App；调用方负责 Close
func loadApp(ctx context.Context) (*app.App, error) {
	settings, err := config.FromViper()
	if err != nil {
		return nil, err
	}
	logger := settings.Log.NewLogger(os.Stderr)

	a, err := app.NewApp(ctx, settings, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tooltool: %w", err)
	}
	return a, nil
}
