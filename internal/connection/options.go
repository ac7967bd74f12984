package connection

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/rcdrive/internal/history"
	"github.com/srg/rcdrive/internal/metrics"
	"github.com/srg/rcdrive/internal/notify"
	"github.com/srg/rcdrive/internal/settings"
	"github.com/srg/rcdrive/internal/telemetry"
	"github.com/srg/rcdrive/internal/transport"
)

// SettingsSource supplies the live preferences. *settings.Manager satisfies it.
type SettingsSource interface {
	Get() settings.Settings
}

type staticSettings settings.Settings

func (s staticSettings) Get() settings.Settings { return settings.Settings(s) }

// Options wires a Manager. Only Factory is required.
type Options struct {
	Logger   *logrus.Logger
	Factory  transport.Factory
	Settings SettingsSource
	History  *history.History
	Notifier notify.Notifier
	Router   *telemetry.Router
	Metrics  *metrics.Metrics

	// HeartbeatInterval defaults to DefaultHeartbeatInterval. A negative
	// value disables the heartbeat.
	HeartbeatInterval time.Duration

	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Settings == nil {
		o.Settings = staticSettings(settings.Defaults())
	}
	if o.History == nil {
		o.History = history.New()
	}
	if o.Notifier == nil {
		o.Notifier = notify.Discard
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
