package telemetry

import "time"

// Level is a coarse severity bucket used by the console to colour readings.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	default:
		return "low"
	}
}

// Proximity is the obstacle classification derived from a distance reading.
type Proximity int

const (
	ProximitySafe Proximity = iota
	ProximityWarning
	ProximityDanger
)

func (p Proximity) String() string {
	switch p {
	case ProximityDanger:
		return "danger"
	case ProximityWarning:
		return "warning"
	default:
		return "safe"
	}
}

// Proximity thresholds in centimetres and the matching beep cadence.
const (
	DangerDistanceCM  = 20
	WarningDistanceCM = 50
	ProximityRangeCM  = 100

	DangerBeepInterval  = 200 * time.Millisecond
	WarningBeepInterval = 800 * time.Millisecond
)

// ClassifyProximity buckets a distance reading.
func ClassifyProximity(cm uint) Proximity {
	switch {
	case cm < DangerDistanceCM:
		return ProximityDanger
	case cm < WarningDistanceCM:
		return ProximityWarning
	default:
		return ProximitySafe
	}
}

// BeepInterval returns the alert cadence for p, zero meaning silence.
func (p Proximity) BeepInterval() time.Duration {
	switch p {
	case ProximityDanger:
		return DangerBeepInterval
	case ProximityWarning:
		return WarningBeepInterval
	default:
		return 0
	}
}

// ProximityPercent maps a distance onto 0..100, closer being higher.
func ProximityPercent(cm uint) int {
	if cm >= ProximityRangeCM {
		return 0
	}
	return int((ProximityRangeCM - cm) * 100 / ProximityRangeCM)
}

// ClassifyBattery buckets a battery percentage.
func ClassifyBattery(pct int) Level {
	switch {
	case pct > 60:
		return LevelHigh
	case pct > 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ClassifyMotorLoad buckets a motor duty cycle.
func ClassifyMotorLoad(duty int) Level {
	switch {
	case duty > 80:
		return LevelHigh
	case duty > 50:
		return LevelMedium
	default:
		return LevelLow
	}
}
