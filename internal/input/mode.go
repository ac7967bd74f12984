// Package input turns operator presses, releases and key events into vehicle
// commands under the Hold or Toggle drive-mode policy.
package input

import (
	"fmt"
	"strings"
)

// DriveMode selects how movement controls behave.
type DriveMode int

const (
	// Hold moves while a control is held and stops on release.
	Hold DriveMode = iota
	// Toggle latches one direction until it is pressed again or stopped.
	Toggle
)

func (m DriveMode) String() string {
	if m == Toggle {
		return "toggle"
	}
	return "hold"
}

// ParseMode accepts "hold" or "toggle", case-insensitive.
func ParseMode(s string) (DriveMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hold":
		return Hold, nil
	case "toggle":
		return Toggle, nil
	default:
		return Hold, fmt.Errorf("unknown drive mode %q (want hold or toggle)", s)
	}
}

// Group says which pad a control belongs to.
type Group int

const (
	GroupMovement Group = iota
	GroupServo
	GroupFunction
)

// Control is one on-screen or keyboard control.
type Control struct {
	Group Group
	Code  string
}
