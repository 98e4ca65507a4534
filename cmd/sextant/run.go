package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/sextant/pkg/cli"
	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/retention"
	"mercator-hq/sextant/pkg/server"
)

var runFlags struct {
	listenAddress string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Sextant research server",
	Long: `Start the research server with the specified configuration.

The server answers POST /v1/research, exposes probes on /healthz and /readyz
and Prometheus metrics on /metrics. With reload.watch enabled, edits to the
configuration file update quotas and cache TTLs without a restart.

Examples:
  # Start with default config
  sextant run

  # Start with custom config
  sextant run --config /etc/sextant/config.yaml

  # Override listen address
  sextant run --listen 0.0.0.0:8080

  # Wire everything up, then exit
  sextant run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build every component and exit")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}

	logger, err := setupLogging(cfg, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
	}()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, all components initialized")
		return nil
	}

	scheduler := retention.NewScheduler(a.pruner, cfg.Retention.PruneSchedule, logger.With("component", "retention"))
	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer scheduler.Stop()

	if cfg.Reload.Watch && cfgFile != "" {
		if err := watchConfig(ctx, a); err != nil {
			logger.Warn("configuration reload disabled", "error", err)
		}
	}

	opts := []server.Option{
		server.WithLogger(logger.With("component", "server")),
		server.WithHealth(a.health),
		server.WithMetrics(cfg.Telemetry.Metrics.Path, a.metrics.Handler()),
		server.WithVersion(Version, GitCommit, BuildDate),
	}
	if a.cache != nil {
		opts = append(opts, server.WithInvalidator(a.cache))
	}
	srv := server.New(&cfg.Server, a.router, opts...)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

// watchConfig reloads the configuration file in the background until ctx
// ends.
func watchConfig(ctx context.Context, a *app) error {
	w, err := config.NewWatcher(cfgFile, a.cfg.Reload.Debounce, a.logger)
	if err != nil {
		return err
	}
	w.OnReload(a.applyConfig)
	go func() {
		if err := w.Run(ctx); err != nil {
			a.logger.Error("configuration watcher stopped", "error", err)
		}
	}()
	return nil
}
