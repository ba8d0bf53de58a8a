package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"alphawatch/internal/infrastructure/config"
	"alphawatch/internal/infrastructure/storage/slots"
	sqliterepo "alphawatch/internal/infrastructure/storage/sqlite"
	"alphawatch/internal/interfaces/web"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the read-only positions dashboard",
	Long: `dashboard serves the last promoted snapshot of a running monitor. It only
reads the file store; with the pebble backend start "run --dashboard" instead.`,
	RunE: runDashboardCmd,
}

var dashAddr string

func init() {
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().StringVar(&dashAddr, "addr", "", "listen address (overrides dashboard.addr)")
}

func runDashboardCmd(cmd *cobra.Command, args []string) error {
	cfg, lg, err := setup()
	if err != nil {
		return err
	}
	if cfg.Storage.Backend != config.BackendFile {
		return errors.New("standalone dashboard needs storage.backend = file; use `alphawatch run --dashboard`")
	}
	if dashAddr != "" {
		cfg.Dashboard.Addr = dashAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := web.Options{
		Reader:         slots.NewFileReader(cfg.Storage.Dir),
		RefreshSeconds: cfg.Dashboard.RefreshSeconds,
		Logger:         lg,
	}
	if cfg.History.SQLite.Enabled {
		repo, err := sqliterepo.New(cfg.History.SQLite.Path)
		if err != nil {
			lg.Warn().Err(err).Msg("sqlite history unavailable, /api/events disabled")
		} else {
			defer repo.Close()
			opts.Events = repo
		}
	}

	return web.NewServer(opts).Serve(ctx, cfg.Dashboard.Addr)
}
