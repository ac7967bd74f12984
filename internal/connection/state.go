// Package connection owns the single vehicle link: it picks the transport,
// drives the Disconnected/Connecting/Connected lifecycle, keeps the link alive
// with heartbeats and applies the single-shot auto-reconnect policy.
package connection

import (
	"errors"
	"time"

	"github.com/srg/rcdrive/internal/protocol"
	"github.com/srg/rcdrive/internal/transport"
)

// State is the lifecycle position of the Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrAborted is returned by Connect when Disconnect ran while the attempt
// was in flight.
var ErrAborted = errors.New("connect aborted by disconnect")

// Speed limits.
const (
	MinSpeed     = 1
	MaxSpeed     = 10
	DefaultSpeed = 5
)

// DefaultHeartbeatInterval is the ping cadence while connected.
const DefaultHeartbeatInterval = 10 * time.Second

// Status is a snapshot for display.
type Status struct {
	State       State
	Kind        transport.Kind
	Link        transport.Info
	Linked      bool
	Speed       int
	LastCommand protocol.Frame
}
