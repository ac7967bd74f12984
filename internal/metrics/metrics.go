// Package metrics exposes controller counters through a prometheus registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/srg/rcdrive/internal/groutine"
)

const namespace = "rcdrive"

// Disconnect reasons.
const (
	ReasonUser      = "user"
	ReasonLinkLost  = "link_lost"
	ReasonHeartbeat = "heartbeat"
	ReasonSendError = "send_error"
)

// Metrics owns a private registry so tests and embedders never collide with
// the global one.
type Metrics struct {
	Registry *prometheus.Registry

	connectionState  prometheus.Gauge
	connectAttempts  *prometheus.CounterVec
	disconnects      *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	commandsSent     *prometheus.CounterVec
	commandErrors    *prometheus.CounterVec
	sendDuration     *prometheus.HistogramVec
	telemetrySamples *prometheus.CounterVec
	telemetryDrops   *prometheus.CounterVec
	linkDowngrades   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by transport and result.",
		}, []string{"transport", "result"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Disconnections by reason.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts by result.",
		}, []string{"result"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the vehicle by key.",
		}, []string{"key"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_send_errors_total",
			Help:      "Frames that failed to send by key.",
		}, []string{"key"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_send_duration_seconds",
			Help:      "Time spent in the transport send path.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}, []string{"transport"}),
		telemetrySamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_samples_total",
			Help:      "Telemetry samples forwarded by key.",
		}, []string{"key"}),
		telemetryDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_dropped_total",
			Help:      "Telemetry payloads discarded by reason.",
		}, []string{"reason"}),
		linkDowngrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wifi_link_downgrades_total",
			Help:      "WebSocket sessions that fell back to HTTP.",
		}),
	}

	m.Registry.MustRegister(
		m.connectionState, m.connectAttempts, m.disconnects, m.reconnects,
		m.commandsSent, m.commandErrors, m.sendDuration,
		m.telemetrySamples, m.telemetryDrops, m.linkDowngrades,
		collectors.NewGoCollector(),
	)
	return m
}

// The observe methods accept a nil receiver so callers can run without
// metrics.

func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

func (m *Metrics) ObserveConnect(transport string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.connectAttempts.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) ObserveDisconnect(reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveReconnect(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reconnects.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSend(transport, key string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(transport).Observe(took.Seconds())
	if err != nil {
		m.commandErrors.WithLabelValues(key).Inc()
		return
	}
	m.commandsSent.WithLabelValues(key).Inc()
}

func (m *Metrics) ObserveDowngrade() {
	if m == nil {
		return
	}
	m.linkDowngrades.Inc()
}

// ObserveTelemetrySample satisfies telemetry.DropObserver.
func (m *Metrics) ObserveTelemetrySample(key string) {
	if m == nil {
		return
	}
	m.telemetrySamples.WithLabelValues(key).Inc()
}

// ObserveTelemetryDrop satisfies telemetry.DropObserver.
func (m *Metrics) ObserveTelemetryDrop(reason string) {
	if m == nil {
		return
	}
	m.telemetryDrops.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	groutine.Go(ctx, "metrics-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	logger.WithField("addr", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
