package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/srg/rcdrive/internal/notify"
	"github.com/srg/rcdrive/internal/telemetry"
)

// console renders notifications and telemetry on the terminal. Lines end in
// CRLF because the drive command runs the terminal in raw mode.
type console struct {
	out      io.Writer
	notifier *notify.Console
	bell     func() bool
	noColor  bool

	mu       sync.Mutex
	lastBeep time.Time
	now      func() time.Time
}

func newConsole(out io.Writer, noColor bool, bell func() bool) *console {
	if bell == nil {
		bell = func() bool { return false }
	}
	return &console{
		out:      out,
		notifier: notify.NewConsole(out, noColor),
		bell:     bell,
		noColor:  noColor,
		now:      time.Now,
	}
}

func (c *console) Notify(message string, severity notify.Severity) {
	c.notifier.Notify(message, severity)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\r\n", args...)
}

func (c *console) paint(col *color.Color, s string) string {
	if c.noColor {
		return s
	}
	return col.Sprint(s)
}

func levelColor(l telemetry.Level) *color.Color {
	switch l {
	case telemetry.LevelHigh:
		return color.New(color.FgRed)
	case telemetry.LevelMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func proximityColor(p telemetry.Proximity) *color.Color {
	switch p {
	case telemetry.ProximityDanger:
		return color.New(color.FgRed, color.Bold)
	case telemetry.ProximityWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func (c *console) OnDistance(d telemetry.Distance, p telemetry.Proximity) {
	c.printf("distance     %4d cm  %s", d.CM, c.paint(proximityColor(p), p.String()))
	c.beep(p)
}

// beep rings the terminal bell at the proximity cadence when sound effects
// are on.
func (c *console) beep(p telemetry.Proximity) {
	interval := p.BeepInterval()
	if interval == 0 || !c.bell() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastBeep) < interval {
		return
	}
	c.lastBeep = now
	fmt.Fprint(c.out, "\a")
}

func (c *console) OnMotor(m telemetry.Motor) {
	load := telemetry.ClassifyMotorLoad(m.Duty)
	c.printf("motor%d       %4d %%   %s", m.Index, m.Duty, c.paint(levelColor(load), load.String()))
}

func (c *console) OnBattery(b telemetry.Battery) {
	// A full battery is good news, so the colour scale is inverted.
	level := telemetry.ClassifyBattery(b.Percent)
	col := color.New(color.FgRed)
	switch level {
	case telemetry.LevelHigh:
		col = color.New(color.FgGreen)
	case telemetry.LevelMedium:
		col = color.New(color.FgYellow)
	}
	c.printf("battery      %4d %%   %s", b.Percent, c.paint(col, level.String()))
}

func (c *console) OnTemperature(t telemetry.Temperature) {
	c.printf("temperature  %6.1f C", t.Celsius)
}

func (c *console) OnStatus(s telemetry.Status) {
	c.printf("status       %s", s.Text)
}
