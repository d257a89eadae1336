package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Dardin-dale/huginbot-sub000/pkg/httpapi"
	"github.com/Dardin-dale/huginbot-sub000/pkg/idle"
)

// pruneInterval is how often expired parameters (stale join codes) are
// swept from the store while serving.
const pruneInterval = 15 * time.Minute

func newServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest daemon",
		Long: `Run the HTTP ingest daemon that receives idle alarms, instance
state-change reports, and the game host's lifecycle hooks (ready,
backup completed, stopped).

Signal routes require the bearer token from HUGINBOT_INGEST_TOKEN when
one is configured. Metrics are served on /metrics when enabled.`,
		Example: `  huginbot serve

  # Override the configured listen address
  huginbot serve --listen :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			monitor, err := idle.NewMonitor(idle.Config{
				Provider:   app.provider,
				Notifier:   app.dispatcher,
				MinUptime:  app.cfg.Idle.MinUptime,
				IdleWindow: app.cfg.Idle.Window,
				Metrics:    app.metrics,
			})
			if err != nil {
				return err
			}

			addr := app.cfg.Server.ListenAddr
			if listenAddr != "" {
				addr = listenAddr
			}

			exposeMetrics := app.cfg.Telemetry.MetricsEnabled && app.cfg.Telemetry.MetricsAddr == ""
			server, err := httpapi.NewServer(httpapi.Config{
				ListenAddr:    addr,
				Token:         app.cfg.Server.IngestToken,
				InstanceID:    app.cfg.Provider.InstanceID,
				ExposeMetrics: exposeMetrics,
			}, app.controller, monitor, app.dispatcher, app.store, app.metrics)
			if err != nil {
				return err
			}

			// Dedicated metrics listener, when configured apart from the
			// ingest address.
			if app.cfg.Telemetry.MetricsEnabled && app.cfg.Telemetry.MetricsAddr != "" {
				if err := app.tel.StartMetricsServer(); err != nil {
					return fmt.Errorf("failed to start metrics server: %w", err)
				}
			}

			if app.cfg.Guard.Enabled && app.cfg.Guard.Watch && app.cfg.Guard.PolicyDir != "" {
				if err := app.guard.Watch(ctx, app.cfg.Guard.PolicyDir); err != nil {
					log.Warn().Err(err).Msg("Policy hot-reload unavailable")
				}
			}

			go pruneLoop(ctx, app)

			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Ingest server shutdown was not clean")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")

	return cmd
}

// pruneLoop sweeps expired parameters on a fixed interval.
func pruneLoop(ctx context.Context, app *app) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := app.store.PruneExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Parameter prune failed")
				continue
			}
			if pruned > 0 {
				log.Debug().Int64("pruned", pruned).Msg("Swept expired parameters")
			}
		}
	}
}
