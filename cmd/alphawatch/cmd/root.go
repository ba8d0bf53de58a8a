package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"alphawatch/internal/infrastructure/config"
	"alphawatch/internal/infrastructure/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "alphawatch",
	Short: "Watch nof1.ai Alpha Arena model positions and notify on trade changes",
	Long: `alphawatch polls the nof1.ai positions endpoint, diffs each snapshot against
the last promoted one and pushes the detected trade changes to the configured
channels (WeChat Work, Telegram, Kafka, console, dashboard websocket).

Commands:
  - run:         start the monitor (and the dashboard when enabled)
  - notify-test: send a test message through every channel
  - dashboard:   serve the read-only dashboard from the file store
  - diff:        compare two snapshot files offline`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file (.toml or .yaml)")
}

// setup 加载配置并初始化日志；配置文件不存在时仅使用环境变量和默认值
func setup() (*config.Config, zerolog.Logger, error) {
	path := configPath
	if _, err := os.Stat(path); err != nil && !rootCmd.PersistentFlags().Changed("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	lg := logger.Setup(logger.Options{Level: cfg.App.LogLevel, File: cfg.App.LogFile})
	if path == "" {
		log.Warn().Str("config", configPath).Msg("config file not found, using environment and defaults")
	}
	return cfg, lg, nil
}

func colorOutput() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
