package testutils

import (
	"context"
	"sync"

	"github.com/srg/rcdrive/internal/device"
	"github.com/srg/rcdrive/internal/protocol"
	"github.com/srg/rcdrive/internal/transport"
)

// FakeTransport is an in-memory transport.Transport for manager and input
// tests. It binds the session on Connect like the real variants.
type FakeTransport struct {
	session *transport.Session
	kind    transport.Kind
	info    transport.Info
	lost    chan error

	mu         sync.Mutex
	connectErr error
	gate       chan struct{}
	sendErr    func(protocol.Frame) error
	sent       []protocol.Frame
	onData     func([]byte)
	connected  bool
	closes     int
	lostOnce   sync.Once
}

func NewFakeTransport(kind transport.Kind, session *transport.Session) *FakeTransport {
	info := transport.Info{Kind: kind, ID: "AA:BB:CC:DD:EE:01", Name: "HC-05",
		Service: "ffe0", WriteChar: "ffe1", RxChar: "ffe1",
		Link: transport.LinkGATT, Reception: transport.ReceptionNotify}
	if kind == transport.KindWiFi {
		info = transport.Info{Kind: kind, ID: "192.168.4.1:80", Name: "192.168.4.1:80",
			Link: transport.LinkWebSocket, Reception: transport.ReceptionNotify}
	}
	return &FakeTransport{session: session, kind: kind, info: info, lost: make(chan error, 1)}
}

// WithInfo overrides what Connect binds into the session.
func (f *FakeTransport) WithInfo(info transport.Info) *FakeTransport {
	f.info = info
	return f
}

// FailConnect makes Connect return err.
func (f *FakeTransport) FailConnect(err error) *FakeTransport {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
	return f
}

// BlockConnect holds Connect until the returned release func is called.
func (f *FakeTransport) BlockConnect() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// FailSend installs a per-frame send error function. nil restores success.
func (f *FakeTransport) FailSend(fn func(protocol.Frame) error) {
	f.mu.Lock()
	f.sendErr = fn
	f.mu.Unlock()
}

func (f *FakeTransport) Kind() transport.Kind { return f.kind }

func (f *FakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	gate, err := f.gate, f.connectErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.session.Bind(f.info)
	return nil
}

func (f *FakeTransport) Send(_ context.Context, fr protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return device.ErrNotConnected
	}
	if f.sendErr != nil {
		if err := f.sendErr(fr); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *FakeTransport) OnData(fn func([]byte)) {
	f.mu.Lock()
	f.onData = fn
	f.mu.Unlock()
}

func (f *FakeTransport) Disconnected() <-chan error { return f.lost }

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.connected = false
	f.mu.Unlock()
	f.session.Clear()
	return nil
}

// Deliver feeds an inbound payload to the registered handler.
func (f *FakeTransport) Deliver(data []byte) {
	f.mu.Lock()
	fn := f.onData
	f.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// Drop simulates the vehicle going away. Only the first call reports.
func (f *FakeTransport) Drop(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.lostOnce.Do(func() { f.lost <- err })
}

// Sent returns the frames written so far.
func (f *FakeTransport) Sent() []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Frame(nil), f.sent...)
}

// SentValues returns the values of frames with the given key.
func (f *FakeTransport) SentValues(key string) []string {
	var out []string
	for _, fr := range f.Sent() {
		if fr.Key == key {
			out = append(out, fr.Value)
		}
	}
	return out
}

func (f *FakeTransport) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// FakeFactory builds a FakeTransport per call and remembers them.
type FakeFactory struct {
	// Configure, when set, adjusts each transport before it is returned.
	// call is 1-based.
	Configure func(call int, ft *FakeTransport)

	mu      sync.Mutex
	created []*FakeTransport
	targets []transport.Target
}

func (ff *FakeFactory) Factory() transport.Factory {
	return func(kind transport.Kind, target transport.Target, session *transport.Session) (transport.Transport, error) {
		ft := NewFakeTransport(kind, session)
		ff.mu.Lock()
		ff.created = append(ff.created, ft)
		ff.targets = append(ff.targets, target)
		call := len(ff.created)
		ff.mu.Unlock()
		if ff.Configure != nil {
			ff.Configure(call, ft)
		}
		return ft, nil
	}
}

// Calls reports how many transports were built.
func (ff *FakeFactory) Calls() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.created)
}

// Get returns the transport built by the n-th call, 1-based.
func (ff *FakeFactory) Get(n int) *FakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.created[n-1]
}

// Last returns the most recent transport.
func (ff *FakeFactory) Last() *FakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.created[len(ff.created)-1]
}

// Target returns the target passed to the n-th call, 1-based.
func (ff *FakeFactory) Target(n int) transport.Target {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.targets[n-1]
}
