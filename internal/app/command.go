package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kim-sung-sig/chat-platform-sub001/internal/config"
)

// ConfigEnv переменная окружения с путём к файлу конфигурации.
const ConfigEnv = "CHAT_CONFIG"

// RunFunc тело процесса. Возвращается после отмены ctx.
type RunFunc func(ctx context.Context, cfg config.Config, logger *slog.Logger) error

// Command собирает корневую команду процесса: флаг --config, загрузка
// конфигурации, логгер и остановка по SIGINT/SIGTERM.
func Command(name, short string, run RunFunc) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           name,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := Setup(configPath, name)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger.Info("starting", "pid", os.Getpid())
			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("stopped with error", "error", err)
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv(ConfigEnv), "path to YAML config file")
	return cmd
}

// Main выполняет cmd и завершает процесс с кодом 1 при ошибке.
func Main(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
