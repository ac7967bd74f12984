package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srg/rcdrive/internal/telemetry"
)

func TestConsole_RendersTelemetryWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, true, nil)

	telemetry.Dispatch(c, telemetry.Distance{CM: 15})
	c.OnMotor(telemetry.Motor{Index: 2, Duty: 90})
	c.OnBattery(telemetry.Battery{Percent: 80})
	c.OnTemperature(telemetry.Temperature{Celsius: 21.5})
	c.OnStatus(telemetry.Status{Text: "driving"})

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	assert.Len(t, lines, 5, "every sample MUST print one CRLF line")
	assert.Contains(t, lines[0], "15 cm  danger")
	assert.Contains(t, lines[1], "motor2")
	assert.Contains(t, lines[2], "80 %")
	assert.Contains(t, lines[3], "21.5 C")
	assert.Contains(t, lines[4], "driving")
	assert.NotContains(t, buf.String(), "\x1b[", "--no-color MUST NOT emit escape codes")
	assert.NotContains(t, buf.String(), "\a", "bell MUST stay silent when sound is off")
}

func TestConsole_BeepCadence(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, true, func() bool { return true })
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	danger := telemetry.ClassifyProximity(5)
	c.OnDistance(telemetry.Distance{CM: 5}, danger)
	c.OnDistance(telemetry.Distance{CM: 5}, danger)
	assert.Equal(t, 1, strings.Count(buf.String(), "\a"), "bell MUST ring once per interval")

	now = now.Add(danger.BeepInterval())
	c.OnDistance(telemetry.Distance{CM: 5}, danger)
	assert.Equal(t, 2, strings.Count(buf.String(), "\a"))

	now = now.Add(time.Hour)
	c.OnDistance(telemetry.Distance{CM: 300}, telemetry.ProximitySafe)
	assert.Equal(t, 2, strings.Count(buf.String(), "\a"), "safe distance MUST NOT ring")
}
