package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zen-systems/routegate/pkg/adapter"
	"github.com/zen-systems/routegate/pkg/backend"
	"github.com/zen-systems/routegate/pkg/cache"
	"github.com/zen-systems/routegate/pkg/config"
	"github.com/zen-systems/routegate/pkg/dispatch"
	"github.com/zen-systems/routegate/pkg/events"
	"github.com/zen-systems/routegate/pkg/fallback"
	"github.com/zen-systems/routegate/pkg/ledger"
	"github.com/zen-systems/routegate/pkg/logging"
	"github.com/zen-systems/routegate/pkg/metrics"
	"github.com/zen-systems/routegate/pkg/router"
)

// app holds what every command needs: the loaded config and a logger.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if debugFlag {
		level = "debug"
	}
	logger, err := logging.New(level, debugFlag)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func loadConfig() (*config.Config, error) {
	if configDir != "" {
		return config.LoadFrom(configDir, configFile)
	}
	if configFile != "" {
		return config.LoadWithRoutingFile(configFile)
	}
	return config.Load()
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func (a *app) adapters() (map[string]adapter.Adapter, error) {
	if mockFlag {
		mock := adapter.NewMockAdapter()
		adapters := make(map[string]adapter.Adapter)
		for _, id := range a.cfg.RoutingConfig.BackendIDs() {
			spec, _ := a.cfg.RoutingConfig.Backend(id)
			adapters[spec.Adapter] = mock
		}
		return adapters, nil
	}
	return backend.NewAdapters(a.cfg)
}

func (a *app) registry() (*backend.Registry, error) {
	adapters, err := a.adapters()
	if err != nil {
		return nil, fmt.Errorf("failed to create adapters: %w", err)
	}
	return backend.NewRegistry(adapters, a.cfg.RoutingConfig), nil
}

func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	l, err := ledger.Open(a.cfg.Ledger, a.cfg.RoutingConfig, ledger.WithLogger(a.logger.Named("ledger")))
	if err != nil {
		return nil, fmt.Errorf("failed to open cost ledger: %w", err)
	}
	if err := l.Start(ctx); err != nil {
		_ = l.Stop()
		return nil, err
	}
	return l, nil
}

func (a *app) openCache(ctx context.Context) (*cache.Store, error) {
	store, err := cache.Open(ctx, a.cfg.Cache, cache.WithLogger(a.logger.Named("cache")))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return store, nil
}

// dispatcher wires the full pipeline. The returned registry is non-nil when
// metrics are being collected.
func (a *app) dispatcher(ctx context.Context) (*dispatch.Dispatcher, *prometheus.Registry, error) {
	r, err := router.New(a.cfg.RoutingConfig)
	if err != nil {
		return nil, nil, err
	}
	reg, err := a.registry()
	if err != nil {
		return nil, nil, err
	}
	exec := fallback.New(reg,
		fallback.WithAttemptTimeout(a.cfg.RoutingConfig.AttemptTimeout),
		fallback.WithLogger(a.logger.Named("fallback")))

	l, err := ledger.Open(a.cfg.Ledger, a.cfg.RoutingConfig, ledger.WithLogger(a.logger.Named("ledger")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cost ledger: %w", err)
	}

	notifier := events.NewNotifier(events.WithLogger(a.logger.Named("events")))
	var promReg *prometheus.Registry
	if metricsFile != "" {
		promReg = prometheus.NewRegistry()
		metrics.New(promReg).Subscribe(notifier)
	}

	opts := []dispatch.Option{
		dispatch.WithNotifier(notifier),
		dispatch.WithLogger(a.logger.Named("dispatch")),
	}
	if !a.cfg.Cache.Disabled {
		store, err := a.openCache(ctx)
		if err != nil {
			a.logger.Warn("running without cache", zap.Error(err))
		} else {
			opts = append(opts, dispatch.WithCache(store))
		}
	}

	d, err := dispatch.New(r, exec, l, opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Start(ctx); err != nil {
		_ = d.Stop()
		return nil, nil, err
	}
	return d, promReg, nil
}

func writeMetrics(reg *prometheus.Registry) error {
	if reg == nil || metricsFile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(metricsFile, reg)
}
