package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"alphawatch/internal/infrastructure/config"
	"alphawatch/internal/infrastructure/container"
	"alphawatch/internal/interfaces/console"
	"alphawatch/internal/interfaces/web"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitor",
	Long: `Run fetches a snapshot immediately and then every tick interval, notifies
the configured channels about trade changes and keeps the last snapshot as the
baseline. Ctrl-C stops it after the tick in progress has finished.`,
	RunE: runMonitor,
}

var (
	runDashboard bool
	runDashAddr  string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDashboard, "dashboard", false, "serve the dashboard in-process (overrides dashboard.enabled)")
	runCmd.Flags().StringVar(&runDashAddr, "addr", "", "dashboard listen address (overrides dashboard.addr)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, lg, err := setup()
	if err != nil {
		return err
	}
	if runDashboard {
		cfg.Dashboard.Enabled = true
	}
	if runDashAddr != "" {
		cfg.Dashboard.Addr = runDashAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []container.Option{
		container.WithChannel(config.ChannelConsole, console.NewSink(os.Stdout, colorOutput())),
	}
	var hub *web.Hub
	if cfg.Dashboard.Enabled {
		hub = web.NewHub(lg)
		opts = append(opts, container.WithChannel(config.ChannelWebSocket, hub))
	}

	c, err := container.New(cfg, lg, opts...)
	if err != nil {
		lg.Error().Err(err).Msg("init failed")
		return err
	}
	defer c.Close()
	c.ServeMetrics()

	svc := c.Monitor()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	if cfg.Dashboard.Enabled {
		srv := web.NewServer(web.Options{
			Reader:         c.Store(),
			Events:         c.Events(),
			Status:         svc.Status,
			Hub:            hub,
			RefreshSeconds: cfg.Dashboard.RefreshSeconds,
			Logger:         lg,
		})
		g.Go(func() error { return srv.Serve(gctx, cfg.Dashboard.Addr) })
	}

	if err := g.Wait(); err != nil {
		lg.Error().Err(err).Msg("alphawatch exited")
		return err
	}
	lg.Info().Msg("alphawatch stopped")
	return nil
}
