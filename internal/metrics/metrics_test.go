package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.SetConnectionState(2)
	m.ObserveConnect("bluetooth", nil)
	m.ObserveConnect("bluetooth", errors.New("no device"))
	m.ObserveConnect("wifi", nil)
	m.ObserveDisconnect(ReasonHeartbeat)
	m.ObserveReconnect(errors.New("still gone"))
	m.ObserveSend("wifi", "cmd", 3*time.Millisecond, nil)
	m.ObserveSend("wifi", "cmd", time.Millisecond, errors.New("closed"))
	m.ObserveTelemetrySample("distance")
	m.ObserveTelemetryDrop("validation")
	m.ObserveTelemetryDrop("validation")
	m.ObserveDowngrade()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues("bluetooth", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues("wifi", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disconnects.WithLabelValues(ReasonHeartbeat)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsSent.WithLabelValues("cmd")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandErrors.WithLabelValues("cmd")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.telemetryDrops.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linkDowngrades))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sendDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetConnectionState(1)
		m.ObserveConnect("wifi", nil)
		m.ObserveDisconnect(ReasonUser)
		m.ObserveReconnect(nil)
		m.ObserveSend("wifi", "cmd", 0, nil)
		m.ObserveTelemetrySample("battery")
		m.ObserveTelemetryDrop("decode")
		m.ObserveDowngrade()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveTelemetrySample("battery")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `rcdrive_telemetry_samples_total{key="battery"} 1`))
}
