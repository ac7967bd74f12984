package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/rcdrive/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the vehicle link dropped while a command was
	// still using it.
	ErrConnectionLost = errors.New("connection lost")
	// ErrMissingTarget is returned when a WiFi command has no host.
	ErrMissingTarget = errors.New("no vehicle host given (use --host or set wifi.host in the config)")
)

// FormatUserError renders err for the terminal. Connection failures get the
// operator-facing message with the low-level cause appended; everything else
// prints as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out"
	}

	var classified *device.ClassifiedError
	if !errors.As(err, &classified) {
		return err.Error()
	}
	if classified.Err == nil || classified.Category == device.CategoryUnknown {
		return classified.Msg
	}
	return fmt.Sprintf("%s (%v)", classified.Msg, classified.Err)
}
