// Package telemetry turns decoded frames into typed, range-checked samples
// and dispatches them to a Sink.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/srg/rcdrive/internal/protocol"
)

// Motor indexes are 1-based on the wire (motor1..motor4).
const (
	MinMotorIndex = 1
	MaxMotorIndex = 4
)

var (
	// ErrUnknownKey marks a frame whose key is not a telemetry key.
	ErrUnknownKey = errors.New("unknown telemetry key")
	// ErrInvalidValue marks a value that is not numeric or outside its window.
	ErrInvalidValue = errors.New("invalid telemetry value")
)

// Sample is one typed telemetry reading.
type Sample interface {
	Key() string
}

// Distance is the obstacle distance reported by the ultrasonic sensor.
type Distance struct{ CM uint }

// Motor is the duty cycle of one drive motor.
type Motor struct {
	Index int
	Duty  int
}

// Battery is the remaining battery charge.
type Battery struct{ Percent int }

// Temperature is the board temperature.
type Temperature struct{ Celsius float64 }

// Status is a free-form firmware status line.
type Status struct{ Text string }

func (Distance) Key() string { return protocol.KeyDistance }
func (m Motor) Key() string { return protocol.KeyMotorPrefix + strconv.Itoa(m.Index) }
func (Battery) Key() string { return protocol.KeyBattery }
func (Temperature) Key() string { return protocol.KeyTemperature }
func (Status) Key() string { return protocol.KeyStatus }

// ParseSample validates a frame against the window of its key.
// Values outside the window are rejected, never clamped.
func ParseSample(f protocol.Frame) (Sample, error) {
	switch {
	case f.Key == protocol.KeyDistance:
		n, ok := parseIntPrefix(f.Value)
		if !ok || n < 0 || n > math.MaxUint32 {
			return nil, invalid(f, "not a non-negative integer")
		}
		return Distance{CM: uint(n)}, nil

	case strings.HasPrefix(f.Key, protocol.KeyMotorPrefix):
		idx, err := strconv.Atoi(strings.TrimPrefix(f.Key, protocol.KeyMotorPrefix))
		if err != nil || idx < MinMotorIndex || idx > MaxMotorIndex {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, f.Key)
		}
		duty, err := percent(f)
		if err != nil {
			return nil, err
		}
		return Motor{Index: idx, Duty: duty}, nil

	case f.Key == protocol.KeyBattery:
		pct, err := percent(f)
		if err != nil {
			return nil, err
		}
		return Battery{Percent: pct}, nil

	case f.Key == protocol.KeyTemperature:
		c, err := strconv.ParseFloat(f.Value, 64)
		if err != nil || math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, invalid(f, "not a finite number")
		}
		return Temperature{Celsius: c}, nil

	case f.Key == protocol.KeyStatus:
		return Status{Text: f.Value}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, f.Key)
	}
}

func percent(f protocol.Frame) (int, error) {
	n, ok := parseIntPrefix(f.Value)
	if !ok {
		return 0, invalid(f, "not an integer")
	}
	if n < 0 || n > 100 {
		return 0, invalid(f, "outside 0..100")
	}
	return int(n), nil
}

// parseIntPrefix reads an optional sign and the leading decimal digits of s,
// ignoring whatever follows: "15.30" reads as 15. No leading digits means the
// value is not numeric.
func parseIntPrefix(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func invalid(f protocol.Frame, why string) error {
	return fmt.Errorf("%w: %s=%q %s", ErrInvalidValue, f.Key, f.Value, why)
}
