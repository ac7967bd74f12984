// Package transport moves frames between the console and the vehicle.
//
// Two variants implement Transport: BLETransport writes to a GATT
// characteristic, WiFiTransport speaks WebSocket and falls back to plain HTTP.
// Exactly one is active at a time; the connection manager owns the Session
// both of them describe themselves in.
package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/srg/rcdrive/internal/protocol"
)

// Kind identifies a transport variant.
type Kind int

const (
	KindNone Kind = iota
	KindBluetooth
	KindWiFi
)

func (k Kind) String() string {
	switch k {
	case KindBluetooth:
		return "bluetooth"
	case KindWiFi:
		return "wifi"
	default:
		return "none"
	}
}

// ParseKind accepts the names used on the command line and in stored history.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ble", "bluetooth", "bt":
		return KindBluetooth, nil
	case "wifi", "wlan", "ws", "http":
		return KindWiFi, nil
	default:
		return KindNone, fmt.Errorf("unknown transport %q (want ble or wifi)", s)
	}
}

// Transport is one physical link to the vehicle.
type Transport interface {
	Kind() Kind
	// Connect performs discovery and setup. On error nothing is left open.
	Connect(ctx context.Context) error
	Send(ctx context.Context, f protocol.Frame) error
	// OnData registers the receiver for raw inbound payloads. It must be
	// called before Connect.
	OnData(func([]byte))
	// Disconnected delivers at most one error when the link is lost without
	// Close being called.
	Disconnected() <-chan error
	Close() error
}

// Target selects the vehicle to dial. Zero fields fall back to configuration.
type Target struct {
	Address string // BLE address; empty means scan the name allow-list
	Host    string
	Port    int
}

// Link and reception modes recorded in the Session.
const (
	LinkGATT      = "gatt"
	LinkWebSocket = "websocket"
	LinkHTTP      = "http"

	ReceptionNotify = "notify"
	ReceptionPoll   = "poll"
	ReceptionNone   = "none"
)

// Info describes the live link.
type Info struct {
	Kind      Kind
	ID        string // BLE address or host:port
	Name      string
	Service   string
	WriteChar string
	RxChar    string
	Link      string
	Reception string
	Since     time.Time
}

// Session is the single record of the active link. The connection manager
// owns it; a transport fills it in on Connect and clears it on Close.
type Session struct {
	mu     sync.RWMutex
	info   Info
	active bool
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// Bind records a freshly established link.
func (s *Session) Bind(info Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.Since.IsZero() {
		info.Since = time.Now()
	}
	s.info = info
	s.active = true
}

// Update mutates the info of an active session. It is a no-op otherwise.
func (s *Session) Update(fn func(*Info)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		fn(&s.info)
	}
}

// Info returns a copy of the session state and whether a link is bound.
func (s *Session) Info() (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info, s.active
}

// Clear forgets the link.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = Info{}
	s.active = false
}

// lossNotifier delivers the single unsolicited-disconnect event.
type lossNotifier struct {
	once sync.Once
	ch   chan error
}

func newLossNotifier() *lossNotifier {
	return &lossNotifier{ch: make(chan error, 1)}
}

func (l *lossNotifier) report(err error) {
	l.once.Do(func() { l.ch <- err })
}

// dataHandler guards the OnData callback.
type dataHandler struct {
	mu sync.RWMutex
	fn func([]byte)
}

func (h *dataHandler) set(fn func([]byte)) {
	h.mu.Lock()
	h.fn = fn
	h.mu.Unlock()
}

func (h *dataHandler) deliver(data []byte) {
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()
	if fn != nil && len(data) > 0 {
		fn(data)
	}
}
