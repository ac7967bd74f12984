package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/srg/rcdrive/internal/device"
	"github.com/srg/rcdrive/internal/history"
	"github.com/srg/rcdrive/internal/metrics"
	"github.com/srg/rcdrive/internal/notify"
	"github.com/srg/rcdrive/internal/protocol"
	"github.com/srg/rcdrive/internal/ringchan"
	"github.com/srg/rcdrive/internal/settings"
	"github.com/srg/rcdrive/internal/telemetry"
	"github.com/srg/rcdrive/internal/testutils"
	"github.com/srg/rcdrive/internal/transport"
)

var fixedNow = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

type ManagerTestSuite struct {
	suite.Suite
	factory *testutils.FakeFactory
	notes   *notify.Recorder
	history *history.History
	prefs   settings.Settings
	sleeps  []time.Duration
	sleepMu sync.Mutex
	states  []State
	stateMu sync.Mutex
}

func (s *ManagerTestSuite) SetupTest() {
	s.factory = &testutils.FakeFactory{}
	s.notes = &notify.Recorder{}
	s.history = history.New()
	s.prefs = settings.Defaults()
	s.sleeps = nil
	s.states = nil
}

func (s *ManagerTestSuite) newManager(mutate ...func(*Options)) *Manager {
	opts := Options{
		Logger:            testutils.NewTestLogger(s.T()),
		Factory:           s.factory.Factory(),
		Settings:          staticSettings(s.prefs),
		History:           s.history,
		Notifier:          s.notes,
		HeartbeatInterval: -1,
		Now:               func() time.Time { return fixedNow },
		Sleep: func(_ context.Context, d time.Duration) error {
			s.sleepMu.Lock()
			s.sleeps = append(s.sleeps, d)
			s.sleepMu.Unlock()
			return nil
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m := New(opts)
	m.OnStateChange(func(st State, _ transport.Kind) {
		s.stateMu.Lock()
		s.states = append(s.states, st)
		s.stateMu.Unlock()
	})
	s.T().Cleanup(m.Disconnect)
	return m
}

func (s *ManagerTestSuite) recordedStates() []State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return append([]State(nil), s.states...)
}

func (s *ManagerTestSuite) connect(m *Manager, kind transport.Kind) *testutils.FakeTransport {
	s.Require().NoError(m.Connect(context.Background(), kind, transport.Target{}))
	return s.factory.Last()
}

func (s *ManagerTestSuite) TestConnect_Success() {
	// GOAL: Verify a successful connect records history and reports Connected
	//
	// TEST SCENARIO: connect BLE → Connected → history entry → success notification
	m := s.newManager()
	s.connect(m, transport.KindBluetooth)

	s.Equal(Connected, m.State())
	s.Equal(transport.KindBluetooth, m.Kind())
	s.Equal([]State{Connecting, Connected}, s.recordedStates())

	entries := s.history.Entries()
	s.Require().Len(entries, 1)
	s.Equal(history.Entry{ID: "AA:BB:CC:DD:EE:01", Name: "HC-05", Kind: "bluetooth",
		Address: "AA:BB:CC:DD:EE:01", LastConnected: fixedNow}, entries[0])

	last, _ := s.notes.Last()
	s.Equal(notify.Message{Text: "Connected to HC-05 (AA:BB:CC:DD:EE:01)", Severity: notify.Success}, last)

	st := m.Status()
	s.True(st.Linked)
	s.Equal("ffe0", st.Link.Service)
	s.Equal(DefaultSpeed, st.Speed)
}

func (s *ManagerTestSuite) TestConnect_HistoryDisabled() {
	s.prefs.SaveHistory = false
	m := s.newManager()
	s.connect(m, transport.KindWiFi)
	s.Zero(s.history.Len(), "history MUST NOT be recorded when saving is off")
}

func (s *ManagerTestSuite) TestConnect_FailureIsClassified() {
	// GOAL: Verify connect failures end Disconnected with a classified message
	//
	// TEST SCENARIO: transport reports no compatible device → not-found category → error notification
	s.factory.Configure = func(_ int, ft *testutils.FakeTransport) {
		ft.FailConnect(device.ErrNoCompatibleDevice)
	}
	m := s.newManager()

	err := m.Connect(context.Background(), transport.KindBluetooth, transport.Target{})
	var classified *device.ClassifiedError
	s.Require().ErrorAs(err, &classified)
	s.Equal(device.CategoryNotFound, classified.Category)
	s.Equal("No compatible device found", err.Error())
	s.ErrorIs(err, device.ErrNotFound)

	s.Equal(Disconnected, m.State())
	s.Equal(transport.KindNone, m.Kind())
	s.Equal([]State{Connecting, Disconnected}, s.recordedStates())
	s.Zero(s.history.Len())
	_, linked := m.Session().Info()
	s.False(linked)

	last, _ := s.notes.Last()
	s.Equal(notify.Error, last.Severity)
	s.Equal("No compatible device found", last.Text)
}

func (s *ManagerTestSuite) TestConnect_UnknownErrorKeepsRawMessage() {
	s.factory.Configure = func(_ int, ft *testutils.FakeTransport) {
		ft.FailConnect(errors.New("firmware said no"))
	}
	m := s.newManager()
	err := m.Connect(context.Background(), transport.KindBluetooth, transport.Target{})
	s.EqualError(err, "firmware said no")
}

func (s *ManagerTestSuite) TestConnect_ReentrancyGuard() {
	// GOAL: Verify a connect request while Connecting is a no-op
	//
	// TEST SCENARIO: first connect blocks → second connect returns at once → one transport built
	releases := make(chan func(), 1)
	s.factory.Configure = func(call int, ft *testutils.FakeTransport) {
		if call == 1 {
			releases <- ft.BlockConnect()
		}
	}
	m := s.newManager()

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), transport.KindBluetooth, transport.Target{}) }()
	release := <-releases
	s.Equal(Connecting, m.State())

	s.NoError(m.Connect(context.Background(), transport.KindWiFi, transport.Target{Host: "10.0.0.2"}))
	s.Equal(1, s.factory.Calls(), "a connect while Connecting MUST NOT build a transport")

	release()
	s.NoError(<-done)
	s.Equal(Connected, m.State())
	s.Equal(transport.KindBluetooth, m.Kind())
}

func (s *ManagerTestSuite) TestDisconnect_AbortsConnectInFlight() {
	releases := make(chan func(), 1)
	s.factory.Configure = func(_ int, ft *testutils.FakeTransport) { releases <- ft.BlockConnect() }
	m := s.newManager()

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), transport.KindBluetooth, transport.Target{}) }()
	release := <-releases

	m.Disconnect()
	s.Equal(Disconnected, m.State())
	release()

	s.ErrorIs(<-done, ErrAborted)
	s.Equal(Disconnected, m.State(), "a stale completion MUST NOT resurrect the link")
	s.Equal(1, s.factory.Last().Closes())
	_, linked := m.Session().Info()
	s.False(linked)
}

func (s *ManagerTestSuite) TestConnect_WhileConnectedTearsDownFirst() {
	m := s.newManager()
	var resets int
	m.OnReset(func() { resets++ })

	first := s.connect(m, transport.KindBluetooth)
	second := s.connect(m, transport.KindWiFi)

	s.Equal(1, first.Closes())
	s.Zero(second.Closes())
	s.Equal(1, resets)
	s.Equal(transport.KindWiFi, m.Kind())
	s.Equal([]State{Connecting, Connected, Disconnected, Connecting, Connected}, s.recordedStates())
}

func (s *ManagerTestSuite) TestDisconnect() {
	m := s.newManager()
	var resets int
	m.OnReset(func() { resets++ })
	ft := s.connect(m, transport.KindBluetooth)

	m.Disconnect()
	m.Disconnect()

	s.Equal(Disconnected, m.State())
	s.Equal(2, resets, "reset hooks run on every disconnect")
	s.Equal(1, ft.Closes())
	s.False(m.ReconnectPending(), "a requested disconnect MUST NOT reconnect")
	s.Equal(1, s.factory.Calls())
}

func (s *ManagerTestSuite) TestSendCommand_NotConnected() {
	m := s.newManager()
	err := m.SendCommand(context.Background(), protocol.Move(protocol.Forward))
	s.ErrorIs(err, device.ErrNotConnected)
	s.Zero(s.factory.Calls())
	s.Empty(s.sleeps, "a rejected command MUST NOT wait out the delay")
}

func (s *ManagerTestSuite) TestSendCommand_AppliesDelay() {
	m := s.newManager()
	ft := s.connect(m, transport.KindBluetooth)

	s.Require().NoError(m.SendCommand(context.Background(), protocol.Move(protocol.Forward)))
	s.Require().NoError(m.SendCommand(context.Background(), protocol.Servo(protocol.ServoCenter)))
	s.Require().NoError(m.SendFrame(context.Background(), protocol.KeyMode, "toggle"))

	s.Equal([]protocol.Frame{
		{Key: "cmd", Value: "F"},
		{Key: "srv", Value: "CENTER"},
		{Key: "mode", Value: "toggle"},
	}, ft.Sent())
	s.Equal([]time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, s.sleeps,
		"structured frames MUST skip the command delay")
	s.Equal(protocol.Frame{Key: "mode", Value: "toggle"}, m.Status().LastCommand)
}

func (s *ManagerTestSuite) TestSendCommand_NoDelayWhenZero() {
	s.prefs.CommandDelay = 0
	m := s.newManager()
	s.connect(m, transport.KindBluetooth)
	s.Require().NoError(m.SendCommand(context.Background(), protocol.Move(protocol.Stop)))
	s.Empty(s.sleeps)
}

func (s *ManagerTestSuite) TestSendCommand_InvalidFrame() {
	m := s.newManager()
	ft := s.connect(m, transport.KindBluetooth)
	s.Error(m.SendCommand(context.Background(), protocol.Function("A:B")))
	s.Empty(ft.Sent())
	s.Equal(Connected, m.State(), "an invalid frame is not a transport failure")
}

func (s *ManagerTestSuite) TestSendFailure_DisconnectsAndReconnectsOnce() {
	// GOAL: Verify a transport write error is a disconnection with one reconnect
	//
	// TEST SCENARIO: send fails → Disconnected → one reconnect to the same address → Connected
	m := s.newManager()
	first := s.connect(m, transport.KindBluetooth)
	first.FailSend(func(protocol.Frame) error { return errors.New("gatt write failed") })

	err := m.SendCommand(context.Background(), protocol.Move(protocol.Forward))
	s.Error(err)
	s.Contains(err.Error(), "gatt write failed")
	s.Equal(1, first.Closes())

	s.Eventually(func() bool { return m.State() == Connected && s.factory.Calls() == 2 }, time.Second, time.Millisecond)
	s.Equal(transport.Target{Address: "AA:BB:CC:DD:EE:01"}, s.factory.Target(2),
		"reconnect MUST dial the address resolved by the first connect")
	s.Equal(transport.KindBluetooth, m.Kind())
	s.Eventually(func() bool { return !m.ReconnectPending() }, time.Second, time.Millisecond)

	texts := []string{}
	for _, n := range s.notes.Messages() {
		texts = append(texts, n.Text)
	}
	s.Contains(texts, "Connection lost")
	s.Contains(texts, "Attempting to reconnect...")
}

func (s *ManagerTestSuite) TestLinkLoss_ReconnectIsSingleShot() {
	// GOAL: Verify one loss yields exactly one reconnect attempt
	//
	// TEST SCENARIO: link drops → attempt blocks → further loss events → attempt fails → no retry
	releases := make(chan func(), 1)
	s.factory.Configure = func(call int, ft *testutils.FakeTransport) {
		if call == 2 {
			ft.FailConnect(device.ErrNoCompatibleDevice)
			releases <- ft.BlockConnect()
		}
	}
	m := s.newManager()
	first := s.connect(m, transport.KindBluetooth)

	first.Drop(device.ErrNotConnected)
	var release func()
	select {
	case release = <-releases:
	case <-time.After(time.Second):
		s.FailNow("reconnect MUST build a second transport")
	}
	s.Equal(Connecting, m.State())
	s.True(m.ReconnectPending())

	m.handleLoss(1, errors.New("late event"), metrics.ReasonLinkLost, true)
	m.maybeReconnect(transport.KindBluetooth, transport.Target{})
	s.Equal(2, s.factory.Calls())

	release()
	s.Eventually(func() bool { return !m.ReconnectPending() }, time.Second, time.Millisecond)
	s.Equal(Disconnected, m.State())
	s.Never(func() bool { return s.factory.Calls() > 2 }, 50*time.Millisecond, 5*time.Millisecond,
		"a failed reconnect MUST NOT be retried")
}

func (s *ManagerTestSuite) TestLinkLoss_NoReconnectWhenDisabled() {
	s.prefs.AutoReconnect = false
	m := s.newManager()
	ft := s.connect(m, transport.KindWiFi)

	ft.Drop(device.ErrNotConnected)
	s.Eventually(func() bool { return m.State() == Disconnected }, time.Second, time.Millisecond)
	s.Never(func() bool { return s.factory.Calls() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *ManagerTestSuite) TestLinkLoss_NoReconnectWithoutHistory() {
	s.prefs.SaveHistory = false
	m := s.newManager()
	ft := s.connect(m, transport.KindBluetooth)

	ft.Drop(device.ErrNotConnected)
	s.Eventually(func() bool { return m.State() == Disconnected }, time.Second, time.Millisecond)
	s.Never(func() bool { return s.factory.Calls() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *ManagerTestSuite) TestHeartbeat() {
	// GOAL: Verify pings flow while connected and a failed ping drops the link quietly
	//
	// TEST SCENARIO: ping frames carry epoch ms → ping write fails → Disconnected, no "lost" notice
	s.prefs.AutoReconnect = false
	m := s.newManager(func(o *Options) { o.HeartbeatInterval = 5 * time.Millisecond })
	ft := s.connect(m, transport.KindBluetooth)

	s.Eventually(func() bool { return len(ft.SentValues(protocol.KeyPing)) >= 2 }, time.Second, time.Millisecond)
	s.Equal("1700000000000", ft.SentValues(protocol.KeyPing)[0])

	ft.FailSend(func(f protocol.Frame) error {
		if f.Key == protocol.KeyPing {
			return errors.New("write timed out")
		}
		return nil
	})
	s.Eventually(func() bool { return m.State() == Disconnected }, time.Second, time.Millisecond)
	s.Equal(1, ft.Closes())
	for _, n := range s.notes.Messages() {
		s.NotEqual("Connection lost", n.Text, "heartbeat failure is a silent disconnect")
	}
}

func (s *ManagerTestSuite) TestHeartbeat_StopsOnDisconnect() {
	m := s.newManager(func(o *Options) { o.HeartbeatInterval = 2 * time.Millisecond })
	ft := s.connect(m, transport.KindBluetooth)
	s.Eventually(func() bool { return len(ft.SentValues(protocol.KeyPing)) > 0 }, time.Second, time.Millisecond)

	m.Disconnect()
	n := len(ft.Sent())
	time.Sleep(20 * time.Millisecond)
	s.Equal(n, len(ft.Sent()), "no pings after disconnect")
}

func (s *ManagerTestSuite) TestTelemetryIsRoutedUntilDisconnect() {
	samples := ringchan.New[telemetry.Sample](8)
	router := telemetry.NewRouter(nil, testutils.DiscardLogger(), telemetry.WithSampleChannel(samples))
	m := s.newManager(func(o *Options) { o.Router = router })
	ft := s.connect(m, transport.KindBluetooth)

	ft.Deliver([]byte("{battery:80}"))
	s.Equal(1, samples.Len())
	got, ok := samples.TryReceive()
	s.True(ok)
	s.Equal(telemetry.Battery{Percent: 80}, got)

	m.Disconnect()
	ft.Deliver([]byte("{battery:70}"))
	s.Zero(samples.Len(), "data from a torn-down link MUST be ignored")
}

func (s *ManagerTestSuite) TestAdjustSpeed() {
	m := s.newManager()

	_, err := m.AdjustSpeed(context.Background(), 1)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Equal(DefaultSpeed, m.Speed())

	ft := s.connect(m, transport.KindBluetooth)
	for _, delta := range []int{1, 1, 1, 1, 1, 1, -20, -1} {
		_, err := m.AdjustSpeed(context.Background(), delta)
		s.NoError(err)
	}
	s.Equal(MinSpeed, m.Speed())
	s.Equal([]string{"6", "7", "8", "9", "10", "1"}, ft.SentValues(protocol.KeySpeed),
		"speed MUST be clamped and sent only when it changes")
}

func (s *ManagerTestSuite) TestReconnectTo() {
	s.history.Record(history.Entry{ID: "192.168.4.1:8080", Kind: "wifi", Address: "192.168.4.1:8080"})
	s.history.Record(history.Entry{ID: "AA:BB", Kind: "bluetooth", Address: "AA:BB"})
	m := s.newManager()

	s.Require().NoError(m.ReconnectTo(context.Background(), "2"))
	s.Equal(transport.KindWiFi, m.Kind())
	s.Equal(transport.Target{Host: "192.168.4.1", Port: 8080}, s.factory.Target(1))

	s.Require().NoError(m.ReconnectTo(context.Background(), "AA:BB"))
	s.Equal(transport.Target{Address: "AA:BB"}, s.factory.Target(2))

	err := m.ReconnectTo(context.Background(), "9")
	s.ErrorIs(err, device.ErrNotFound)
}

func (s *ManagerTestSuite) TestClassifyError() {
	m := s.newManager()
	s.Nil(m.ClassifyError(nil))
	s.EqualError(m.ClassifyError(context.DeadlineExceeded), "Connection timed out")
	s.EqualError(m.ClassifyError(device.ErrNetwork), "Network connection failed")
	s.EqualError(m.ClassifyError(errors.New("weird")), "weird")
}

func (s *ManagerTestSuite) TestMetrics() {
	reg := metrics.New()
	m := s.newManager(func(o *Options) { o.Metrics = reg })
	s.connect(m, transport.KindBluetooth)
	m.Disconnect()

	families, err := reg.Registry.Gather()
	s.Require().NoError(err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	s.True(names["rcdrive_connect_attempts_total"])
	s.True(names["rcdrive_disconnects_total"])
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func TestTargetFor(t *testing.T) {
	assert.Equal(t, transport.Target{Host: "10.0.0.9", Port: 81}, TargetFor(transport.KindWiFi, "10.0.0.9:81"))
	assert.Equal(t, transport.Target{Host: "rover.local"}, TargetFor(transport.KindWiFi, "rover.local"))
	assert.Equal(t, transport.Target{Address: "AA:BB"}, TargetFor(transport.KindBluetooth, "AA:BB"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
