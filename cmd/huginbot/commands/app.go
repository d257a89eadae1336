package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
	"github.com/Dardin-dale/huginbot-sub000/pkg/config"
	"github.com/Dardin-dale/huginbot-sub000/pkg/guard"
	"github.com/Dardin-dale/huginbot-sub000/pkg/lifecycle"
	"github.com/Dardin-dale/huginbot-sub000/pkg/notify"
	"github.com/Dardin-dale/huginbot-sub000/pkg/params"
	"github.com/Dardin-dale/huginbot-sub000/pkg/remote"
	"github.com/Dardin-dale/huginbot-sub000/pkg/telemetry"
	"github.com/Dardin-dale/huginbot-sub000/pkg/worlds"
)

// app bundles the wired components behind every command. Construction
// is all-or-nothing: a command either gets a fully usable app or an
// error naming the first broken piece of configuration.
type app struct {
	cfg        *config.Config
	store      *params.Store
	provider   compute.Provider
	registry   *worlds.Registry
	resolver   *worlds.Resolver
	dispatcher *notify.Dispatcher
	controller *lifecycle.Controller
	guard      *guard.Engine
	remote     *remote.Client
	tel        *telemetry.Telemetry
	metrics    *telemetry.Metrics
}

// newApp loads configuration and wires every component a command may
// need. Callers must Close it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	telCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.LogLevel != "" {
		telCfg.Logging.Level = cfg.Telemetry.LogLevel
	}
	if cfg.Telemetry.LogFormat != "" {
		telCfg.Logging.Format = cfg.Telemetry.LogFormat
	}
	telCfg.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	if cfg.Telemetry.MetricsAddr != "" {
		telCfg.Metrics.ListenAddress = cfg.Telemetry.MetricsAddr
	}
	telCfg.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	if cfg.Telemetry.TracingExporter != "" {
		telCfg.Tracing.Exporter = cfg.Telemetry.TracingExporter
	}
	telCfg.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint

	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tel = tel
	a.metrics = tel.Metrics

	store, err := params.New(params.Config{
		Path:          cfg.Store.Path,
		EncryptionKey: cfg.Store.EncryptionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create parameter store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open parameter store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate parameter store: %w", err)
	}
	a.store = store

	provider, err := compute.NewEC2Provider(ctx, cfg.Provider.InstanceID, cfg.Provider.Region)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize compute provider: %w", err)
	}
	a.provider = provider

	registry, err := worlds.NewLoader().Load(cfg.WorldsFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = registry
	a.resolver = worlds.NewResolver(registry, store)

	a.dispatcher = notify.NewDispatcher(store, notify.NewClient(cfg.Notify.Timeout), notify.Config{
		MaxAttempts:         cfg.Notify.MaxAttempts,
		FallbackMaxAttempts: cfg.Notify.FallbackMaxAttempts,
		Backoff:             cfg.Notify.Backoff,
		Timeout:             cfg.Notify.Timeout,
		SuppressionWindow:   cfg.Notify.SuppressionWindow,
		Tracer:              tel.Tracer,
	}, a.metrics)

	ctrl := lifecycle.Config{
		Provider: provider,
		Resolver: a.resolver,
		Params:   store,
		Notifier: a.dispatcher,
		Metrics:  a.metrics,
		Tracer:   tel.Tracer,
	}

	if cfg.Guard.Enabled {
		eng, err := guard.New(guard.Config{
			Enabled:   true,
			PolicyDir: cfg.Guard.PolicyDir,
		}, log.Logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.guard = eng
		ctrl.Guard = eng
	}

	if cfg.Remote.Enabled {
		rcfg := remote.DefaultConfig(cfg.Remote.User)
		rcfg.Host = cfg.Remote.Host
		if cfg.Remote.Port > 0 {
			rcfg.Port = cfg.Remote.Port
		}
		if cfg.Remote.PrivateKeyPath != "" {
			rcfg.PrivateKeyPath = cfg.Remote.PrivateKeyPath
		}
		if cfg.Remote.KnownHostsPath != "" {
			rcfg.KnownHostsPath = cfg.Remote.KnownHostsPath
		}
		rcfg.StrictHostKeyChecking = cfg.Remote.StrictHostKeyChecking
		if cfg.Remote.BackupDir != "" {
			rcfg.BackupDir = cfg.Remote.BackupDir
		}

		client, err := remote.NewClient(provider, rcfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to configure the backup channel: %w", err)
		}
		a.remote = client
		ctrl.Runner = client
		ctrl.StopScript = cfg.Remote.StopScript
	}

	controller, err := lifecycle.NewController(ctrl)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.controller = controller

	return a, nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tel.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown was not clean")
		}
		cancel()
	}
	if a.guard != nil {
		if err := a.guard.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close the guard engine")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close the parameter store")
		}
	}
}

// printResult renders a command result as JSON or a plain line.
func printResult(message string, payload any) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
	fmt.Println(message)
	return nil
}
