// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the account engine",
		Long: `Open the database, start the expired-token retention worker, and serve
metrics and health probes until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd)
		},
	}
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled; default from config)")
	return cmd
}

func (c *cli) runServe(cmd *cobra.Command) error {
	cfg, logger, err := c.setup(cmd)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting accountd",
		"database_driver", cfg.Database.Driver,
		"mail_driver", cfg.Mail.Driver,
		"metrics_addr", cfg.MetricsAddr,
	)

	var (
		app       *App
		obsServer ObservabilityServer
		metrics   *observability.Metrics
	)
	if cfg.MetricsAddr != "" {
		obsServer = c.deps.ObservabilityServerFactory(cfg.MetricsAddr, func(ctx context.Context) error {
			return app.Backend.Ping(ctx)
		})
		metrics = obsServer.Metrics()
	}

	app, err = buildApp(ctx, cfg, logger, c.deps, metrics, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				errutil.LogWarn(shutdownCtx, logger, "error stopping observability server", err)
			}
		}()
	}

	if err := app.Retention.Start(ctx); err != nil {
		return oops.Code("RETENTION_START_FAILED").Wrap(err)
	}
	defer app.Retention.Stop()

	cmd.Println("accountd started")
	logger.Info("accountd ready", "prune_interval", cfg.Tokens.PruneInterval)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
