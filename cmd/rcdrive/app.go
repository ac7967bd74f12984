package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/rcdrive/internal/connection"
	"github.com/srg/rcdrive/internal/history"
	"github.com/srg/rcdrive/internal/metrics"
	"github.com/srg/rcdrive/internal/notify"
	"github.com/srg/rcdrive/internal/settings"
	"github.com/srg/rcdrive/internal/store"
	"github.com/srg/rcdrive/internal/telemetry"
	"github.com/srg/rcdrive/internal/transport"
	"github.com/srg/rcdrive/pkg/config"
)

var defaultConfigPath = filepath.Join(".rcdrive", "config.yaml")

// app is what every command builds from the global flags: configuration,
// logger, persistence, preferences and history.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    store.Store
	settings *settings.Manager
	history  *history.History
	metrics  *metrics.Metrics
}

// loadConfig reads the configuration file and applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, !cmd.Flags().Changed("config"))
	if err != nil {
		return nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store.Backend = v
	}
	if v, _ := cmd.Flags().GetString("store-dir"); v != "" {
		cfg.Store.Dir = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.WithFields(logrus.Fields{
		"store":  cfg.Store.Backend,
		"config": path,
	}).Debug("Configuration loaded")
	return cfg, logger, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	ctx := commandContext(cmd)
	prefs := settings.NewManager(st, logger)
	if err := prefs.Load(ctx); err != nil {
		closeStore(st)
		return nil, err
	}
	devices := history.New(history.WithStore(st))
	if err := devices.Load(ctx); err != nil {
		closeStore(st)
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		settings: prefs,
		history:  devices,
		metrics:  metrics.New(),
	}, nil
}

func (a *app) Close() {
	closeStore(a.store)
}

func closeStore(st store.Store) {
	if c, ok := st.(io.Closer); ok {
		_ = c.Close()
	}
}

// newManager wires a connection manager reporting to notifier and routing
// telemetry through router. Pings run only when heartbeat is set.
func (a *app) newManager(notifier notify.Notifier, router *telemetry.Router, heartbeat bool) *connection.Manager {
	tcfg := a.cfg.TransportConfig()
	tcfg.WiFi.OnDowngrade = func(cause error) {
		a.metrics.ObserveDowngrade()
		a.logger.WithError(cause).Warn("WebSocket failed, continuing over HTTP")
		notifier.Notify("WebSocket failed, switched to HTTP", notify.Warning)
	}

	interval := a.cfg.Heartbeat
	if !heartbeat || interval <= 0 {
		interval = -1
	}
	return connection.New(connection.Options{
		Logger:            a.logger,
		Factory:           transport.NewFactory(tcfg, a.logger),
		Settings:          a.settings,
		History:           a.history,
		Notifier:          notifier,
		Router:            router,
		Metrics:           a.metrics,
		HeartbeatInterval: interval,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
