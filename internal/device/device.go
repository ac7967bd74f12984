package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrNotFound is matched by every *NotFoundError through errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError represents a missing device, service or characteristic.
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic"
	UUIDs    []string // UUIDs that were probed, in probe order
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s not found (tried %s)", e.Resource, strings.Join(e.UUIDs, ", "))
	}
}

// Is lets errors.Is(err, ErrNotFound) match any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	InProgress       ConnectionState = "connect_in_progress"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrConnectInFlight  = &ConnectionError{State: InProgress}
)

// Discovery errors. They are *NotFoundError values so callers can match
// either the specific sentinel or ErrNotFound.
var (
	ErrNoCompatibleDevice         = &NotFoundError{Resource: "compatible device"}
	ErrNoCompatibleService        = &NotFoundError{Resource: "compatible service"}
	ErrNoCompatibleCharacteristic = &NotFoundError{Resource: "compatible write characteristic"}
)

// Operation errors
var (
	ErrTimeout          = errors.New("timeout")
	ErrUnsupported      = errors.New("unsupported")
	ErrBluetoothOff     = errors.New("bluetooth is turned off")
	ErrSecurity         = errors.New("blocked by security policy")
	ErrNetwork          = errors.New("network failure")
	ErrWriteUnsupported = fmt.Errorf("characteristic supports neither write mode: %w", ErrUnsupported)
	ErrMissingHost      = errors.New("a vehicle host address is required for WiFi")
)

// NormalizeError maps known go-ble and platform error strings to the sentinels
// above. The original error stays in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %w", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %w", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %w", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %w", ErrNotInitialized, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case containsIgnoreCase(msg, "unauthorized"), containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "insufficient authentication"):
		return fmt.Errorf("%w: %w", ErrSecurity, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Category groups connection failures by what the operator can do about them.
type Category string

const (
	CategoryNotFound     Category = "not-found"
	CategorySecurity     Category = "security"
	CategoryNetwork      Category = "network"
	CategoryInvalidState Category = "invalid-state"
	CategoryTimeout      Category = "timeout"
	CategoryCancelled    Category = "cancelled"
	CategoryUnknown      Category = "unknown"
)

var categoryMessages = map[Category]string{
	CategoryNotFound:     "No compatible device found",
	CategorySecurity:     "Connection blocked by security policy",
	CategoryNetwork:      "Network connection failed",
	CategoryInvalidState: "Device is not in a valid state",
	CategoryTimeout:      "Connection timed out",
	CategoryCancelled:    "Connection cancelled",
}

// ClassifiedError carries a human-readable message for a connection failure.
// Error returns the message; the cause stays reachable through Unwrap.
type ClassifiedError struct {
	Category Category
	Msg      string
	Err      error
}

func (e *ClassifiedError) Error() string { return e.Msg }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify buckets err into a Category. Errors that fit no category keep
// their raw message.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var already *ClassifiedError
	if errors.As(err, &already) {
		return already
	}

	err = NormalizeError(err)
	cat := categorize(err)
	msg, ok := categoryMessages[cat]
	if !ok {
		msg = err.Error()
	}
	return &ClassifiedError{Category: cat, Msg: msg, Err: err}
}

func categorize(err error) Category {
	// context errors satisfy net.Error, so they are checked first
	switch {
	case errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrSecurity), errors.Is(err, os.ErrPermission):
		return CategorySecurity
	case errors.Is(err, ErrBluetoothOff):
		return CategoryInvalidState
	}

	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return CategoryInvalidState
	}
	if errors.Is(err, ErrNetwork) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	return CategoryUnknown
}
