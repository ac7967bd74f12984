package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/rcdrive/internal/device"
	"github.com/srg/rcdrive/internal/groutine"
	"github.com/srg/rcdrive/internal/history"
	"github.com/srg/rcdrive/internal/metrics"
	"github.com/srg/rcdrive/internal/notify"
	"github.com/srg/rcdrive/internal/protocol"
	"github.com/srg/rcdrive/internal/transport"
)

// Manager owns the one active vehicle link.
//
// The mutex only protects fields. Exclusivity of Connect comes from the
// Connecting state, and sends are not serialized against each other.
// Every asynchronous completion compares its generation with the current one
// before touching state, so work finishing after a Disconnect is dropped.
type Manager struct {
	opts    Options
	logger  *logrus.Logger
	session *transport.Session

	mu               sync.Mutex
	state            State
	kind             transport.Kind
	tr               transport.Transport
	group            *groutine.Group
	target           transport.Target
	generation       uint64
	reconnectPending bool
	speed            int
	lastCommand      protocol.Frame

	hooksMu    sync.RWMutex
	resetHooks []func()
	stateHooks []func(State, transport.Kind)
}

// New creates a disconnected Manager.
func New(opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		opts:    opts,
		logger:  opts.Logger,
		session: transport.NewSession(),
		speed:   DefaultSpeed,
	}
}

// Session is the record of the live link shared with the transports.
func (m *Manager) Session() *transport.Session { return m.session }

// History returns the device history the manager records into.
func (m *Manager) History() *history.History { return m.opts.History }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool { return m.State() == Connected }

func (m *Manager) Kind() transport.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

// Status returns a snapshot for display.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{State: m.state, Kind: m.kind, Speed: m.speed, LastCommand: m.lastCommand}
	m.mu.Unlock()
	st.Link, st.Linked = m.session.Info()
	return st
}

// OnReset registers fn to run on every disconnect. The input resolver uses it
// to drop latched directions and pressed keys.
func (m *Manager) OnReset(fn func()) {
	m.hooksMu.Lock()
	m.resetHooks = append(m.resetHooks, fn)
	m.hooksMu.Unlock()
}

// OnStateChange registers fn for every lifecycle transition.
func (m *Manager) OnStateChange(fn func(State, transport.Kind)) {
	m.hooksMu.Lock()
	m.stateHooks = append(m.stateHooks, fn)
	m.hooksMu.Unlock()
}

func (m *Manager) emitState(s State, kind transport.Kind) {
	m.opts.Metrics.SetConnectionState(int(s))
	m.hooksMu.RLock()
	hooks := append([]func(State, transport.Kind){}, m.stateHooks...)
	m.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(s, kind)
	}
}

func (m *Manager) runResetHooks() {
	m.hooksMu.RLock()
	hooks := append([]func(){}, m.resetHooks...)
	m.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// Connect opens a link of the given kind. It is a no-op while another
// connect is in flight, and it fully disconnects an existing link first.
// Failures leave the manager Disconnected and come back classified.
func (m *Manager) Connect(ctx context.Context, kind transport.Kind, target transport.Target) error {
	if m.opts.Factory == nil {
		return errors.New("no transport factory configured")
	}

	m.mu.Lock()
	if m.state == Connecting {
		m.mu.Unlock()
		m.logger.Debug("Connect ignored, already connecting")
		return nil
	}
	if m.state == Connected {
		m.mu.Unlock()
		m.Disconnect()
		m.mu.Lock()
		if m.state == Connecting {
			m.mu.Unlock()
			return nil
		}
	}
	m.generation++
	gen := m.generation
	m.state = Connecting
	m.kind = kind
	m.mu.Unlock()
	m.emitState(Connecting, kind)

	log := m.logger.WithFields(logrus.Fields{
		"transport": kind.String(),
		"address":   target.Address,
		"host":      target.Host,
	})
	log.Info("Connecting to vehicle...")

	tr, err := m.opts.Factory(kind, target, m.session)
	if err == nil {
		tr.OnData(m.dataHandler(gen))
		err = tr.Connect(ctx)
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if err == nil {
			_ = tr.Close()
		}
		log.Debug("Connect finished after disconnect, dropping link")
		m.opts.Metrics.ObserveConnect(kind.String(), ErrAborted)
		return ErrAborted
	}

	if err != nil {
		m.state = Disconnected
		m.kind = transport.KindNone
		m.mu.Unlock()

		m.session.Clear()
		m.opts.Metrics.ObserveConnect(kind.String(), err)
		m.emitState(Disconnected, transport.KindNone)

		classified := device.Classify(err)
		log.WithFields(logrus.Fields{
			"category": classified.Category,
			"error":    err,
		}).Error("Connection failed")
		m.opts.Notifier.Notify(classified.Error(), notify.Error)
		return classified
	}

	info, _ := m.session.Info()
	resolved := target
	if kind == transport.KindBluetooth && info.ID != "" {
		resolved.Address = info.ID
	}
	group := groutine.NewGroup(context.Background())
	m.state = Connected
	m.tr = tr
	m.group = group
	m.target = resolved
	m.mu.Unlock()

	m.opts.Metrics.ObserveConnect(kind.String(), nil)
	m.recordHistory(ctx, kind, info)

	m.startHeartbeat(group, gen, tr, kind)
	group.Go("link-monitor", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case cause := <-tr.Disconnected():
			m.handleLoss(gen, cause, metrics.ReasonLinkLost, true)
		}
	})

	m.emitState(Connected, kind)
	log.WithFields(logrus.Fields{
		"device":    info.Name,
		"link":      info.Link,
		"reception": info.Reception,
	}).Info("Connected to vehicle")
	m.opts.Notifier.Notify("Connected to "+displayName(info), notify.Success)
	return nil
}

func displayName(info transport.Info) string {
	switch {
	case info.Name != "" && info.Name != info.ID:
		return fmt.Sprintf("%s (%s)", info.Name, info.ID)
	case info.ID != "":
		return info.ID
	default:
		return "vehicle"
	}
}

func (m *Manager) dataHandler(gen uint64) func([]byte) {
	return func(data []byte) {
		if !m.current(gen) {
			return
		}
		if m.opts.Router != nil {
			m.opts.Router.HandleRaw(data)
		}
	}
}

func (m *Manager) recordHistory(ctx context.Context, kind transport.Kind, info transport.Info) {
	if !m.opts.Settings.Get().SaveHistory || info.ID == "" {
		return
	}
	name := info.Name
	if name == "" {
		name = info.ID
	}
	m.opts.History.Record(history.Entry{
		ID:            info.ID,
		Name:          name,
		Kind:          kind.String(),
		Address:       info.ID,
		LastConnected: m.opts.Now(),
	})
	if err := m.opts.History.Save(ctx); err != nil {
		m.logger.WithError(err).Warn("Failed to save device history")
	}
}

// Disconnect ends the link unconditionally. It also aborts a connect in
// flight.
func (m *Manager) Disconnect() {
	m.teardown(0, metrics.ReasonUser, true)
}

// teardown ends the link of generation gen, or whatever is current when gen
// is zero. A non-zero gen that is stale or not Connected is ignored.
func (m *Manager) teardown(gen uint64, reason string, wait bool) (transport.Kind, transport.Target, bool) {
	m.mu.Lock()
	if gen != 0 && (gen != m.generation || m.state != Connected) {
		m.mu.Unlock()
		return transport.KindNone, transport.Target{}, false
	}
	prev, kind, target := m.state, m.kind, m.target
	tr, group := m.tr, m.group
	m.generation++
	m.state = Disconnected
	m.kind = transport.KindNone
	m.tr, m.group = nil, nil
	m.mu.Unlock()

	if group != nil {
		group.Cancel()
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			m.logger.WithError(err).Debug("Transport close failed")
		}
	}
	if group != nil && wait {
		group.Stop()
	}
	m.session.Clear()
	m.runResetHooks()

	if prev != Disconnected {
		m.opts.Metrics.ObserveDisconnect(reason)
		m.emitState(Disconnected, transport.KindNone)
		m.logger.WithFields(logrus.Fields{
			"transport": kind.String(),
			"reason":    reason,
		}).Info("Disconnected from vehicle")
	}
	return kind, target, true
}

// handleLoss turns a transport failure of generation gen into a disconnect
// and applies the auto-reconnect policy.
func (m *Manager) handleLoss(gen uint64, cause error, reason string, announce bool) {
	kind, target, ok := m.teardown(gen, reason, false)
	if !ok {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"reason": reason,
		"error":  cause,
	}).Warn("Vehicle link lost")
	if announce {
		m.opts.Notifier.Notify("Connection lost", notify.Warning)
	}
	m.maybeReconnect(kind, target)
}

// maybeReconnect issues at most one reconnect attempt. Losses reported while
// an attempt is pending never schedule another, and a failed attempt is not
// retried.
func (m *Manager) maybeReconnect(kind transport.Kind, target transport.Target) {
	if !m.opts.Settings.Get().AutoReconnect || m.opts.History.Len() == 0 {
		return
	}

	m.mu.Lock()
	if m.reconnectPending || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.reconnectPending = true
	m.mu.Unlock()

	m.opts.Notifier.Notify("Attempting to reconnect...", notify.Info)
	groutine.Go(context.Background(), "auto-reconnect", func(ctx context.Context) {
		err := m.Connect(ctx, kind, target)

		m.mu.Lock()
		m.reconnectPending = false
		m.mu.Unlock()

		m.opts.Metrics.ObserveReconnect(err)
		if err != nil {
			m.logger.WithError(err).Warn("Auto-reconnect failed")
			return
		}
		m.logger.Info("Auto-reconnect succeeded")
	})
}

// ReconnectPending reports whether an auto-reconnect attempt is running.
func (m *Manager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectPending
}

func (m *Manager) startHeartbeat(group *groutine.Group, gen uint64, tr transport.Transport, kind transport.Kind) {
	interval := m.opts.HeartbeatInterval
	if interval < 0 {
		return
	}
	group.Go("heartbeat", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ping := protocol.Frame{Key: protocol.KeyPing, Value: strconv.FormatInt(m.opts.Now().UnixMilli(), 10)}
			if err := m.send(ctx, tr, kind, ping); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.WithError(err).Warn("Heartbeat failed")
				m.handleLoss(gen, err, metrics.ReasonHeartbeat, false)
				return
			}
		}
	})
}

func (m *Manager) send(ctx context.Context, tr transport.Transport, kind transport.Kind, f protocol.Frame) error {
	start := time.Now()
	err := tr.Send(ctx, f)
	m.opts.Metrics.ObserveSend(kind.String(), f.Key, time.Since(start), err)
	return err
}

// SendCommand sends cmd and then waits out the configured command delay.
// While not connected it logs and returns device.ErrNotConnected without
// touching any transport. A transport error drops the link.
func (m *Manager) SendCommand(ctx context.Context, cmd protocol.Command) error {
	if err := m.sendFrame(ctx, cmd.Frame()); err != nil {
		return err
	}
	if d := m.opts.Settings.Get().CommandDelayDuration(); d > 0 {
		return m.opts.Sleep(ctx, d)
	}
	return nil
}

// SendFrame sends a structured frame such as mode or speed without the
// command delay.
func (m *Manager) SendFrame(ctx context.Context, key, value string) error {
	return m.sendFrame(ctx, protocol.Frame{Key: key, Value: value})
}

func (m *Manager) sendFrame(ctx context.Context, f protocol.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	state, tr, kind, gen := m.state, m.tr, m.kind, m.generation
	m.mu.Unlock()

	if state != Connected || tr == nil {
		m.logger.WithField("frame", f.String()).Debug("Not connected, cannot send command")
		return device.ErrNotConnected
	}

	if err := m.send(ctx, tr, kind, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.WithFields(logrus.Fields{
			"frame": f.String(),
			"error": err,
		}).Error("Failed to send command")
		m.handleLoss(gen, err, metrics.ReasonSendError, true)
		return fmt.Errorf("failed to send %s: %w", f, err)
	}

	m.mu.Lock()
	if gen == m.generation {
		m.lastCommand = f
	}
	m.mu.Unlock()
	m.logger.WithField("frame", f.String()).Debug("Sent frame")
	return nil
}

// Speed returns the last speed acknowledged by a successful send.
func (m *Manager) Speed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

// AdjustSpeed moves the speed by delta within MinSpeed..MaxSpeed and sends
// {speed:n} only when the value changes.
func (m *Manager) AdjustSpeed(ctx context.Context, delta int) (int, error) {
	cur := m.Speed()
	next := min(max(cur+delta, MinSpeed), MaxSpeed)
	if next == cur {
		return cur, nil
	}
	if err := m.SendFrame(ctx, protocol.KeySpeed, strconv.Itoa(next)); err != nil {
		return cur, err
	}
	m.mu.Lock()
	m.speed = next
	m.mu.Unlock()
	return next, nil
}

// ReconnectTo connects to a history entry, by ID or 1-based position.
func (m *Manager) ReconnectTo(ctx context.Context, id string) error {
	e, ok := m.opts.History.Find(id)
	if !ok {
		return &device.NotFoundError{Resource: "history entry", UUIDs: []string{id}}
	}
	kind, err := transport.ParseKind(e.Kind)
	if err != nil {
		return err
	}
	return m.Connect(ctx, kind, TargetFor(kind, e.Address))
}

// TargetFor turns a stored address back into a dial target.
func TargetFor(kind transport.Kind, address string) transport.Target {
	if kind != transport.KindWiFi {
		return transport.Target{Address: address}
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return transport.Target{Host: address}
	}
	port, _ := strconv.Atoi(portStr)
	return transport.Target{Host: host, Port: port}
}

// ClassifyError maps err to an operator-facing message.
func (m *Manager) ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	return device.Classify(err)
}
