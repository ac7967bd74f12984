package transport_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/rcdrive/internal/device"
	"github.com/srg/rcdrive/internal/protocol"
	"github.com/srg/rcdrive/internal/testutils"
	"github.com/srg/rcdrive/internal/transport"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type inbox struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (i *inbox) add(data []byte) {
	i.mu.Lock()
	i.msgs = append(i.msgs, data)
	i.mu.Unlock()
}

func (i *inbox) all() [][]byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([][]byte(nil), i.msgs...)
}

type BLETransportTestSuite struct {
	testutils.MockVehicleSuite
}

func (s *BLETransportTestSuite) newTransport(opts transport.BLEOptions) (*transport.BLETransport, *transport.Session) {
	session := transport.NewSession()
	return transport.NewBLETransport(opts, session, s.Logger), session
}

func (s *BLETransportTestSuite) TestConnect_HM10() {
	// GOAL: Verify the common ffe0/ffe1 module is discovered by name and fully wired
	//
	// TEST SCENARIO: scan finds HC-05 → dial → resolve ffe0/ffe1 → notify reception → send + receive
	tr, session := s.newTransport(transport.BLEOptions{})
	var in inbox
	tr.OnData(in.add)

	s.Require().NoError(tr.Connect(context.Background()))
	defer tr.Close()

	s.Central.AssertCalled(s.T(), "Dial", mock.Anything, "AA:BB:CC:DD:EE:01")

	info, ok := session.Info()
	s.Require().True(ok, "session MUST be bound after connect")
	s.Equal(transport.KindBluetooth, info.Kind)
	s.Equal("HC-05", info.Name)
	s.Equal("ffe0", info.Service)
	s.Equal("ffe1", info.WriteChar)
	s.Equal("ffe1", info.RxChar)
	s.Equal(transport.ReceptionNotify, info.Reception)

	s.Require().NoError(tr.Send(context.Background(), protocol.Frame{Key: "cmd", Value: "F"}))
	s.Equal([][]byte{[]byte("{cmd:F}\n")}, s.Client.Written())
	s.Client.AssertCalled(s.T(), "WriteCharacteristic", mock.Anything, []byte("{cmd:F}\n"), true)

	s.True(s.Client.Notify("ffe1", []byte("{distance:15}")), "transport MUST subscribe to the RX characteristic")
	s.Equal([][]byte{[]byte("{distance:15}")}, in.all())
}

func (s *BLETransportTestSuite) TestConnect_ConfiguredAddressSkipsScan() {
	tr, session := s.newTransport(transport.BLEOptions{Address: "11:22:33:44:55:66"})
	s.Require().NoError(tr.Connect(context.Background()))
	defer tr.Close()

	s.Central.AssertNotCalled(s.T(), "Scan", mock.Anything, mock.Anything, mock.Anything)
	s.Central.AssertCalled(s.T(), "Dial", mock.Anything, "11:22:33:44:55:66")
	info, _ := session.Info()
	s.Equal("11:22:33:44:55:66", info.ID)
}

func (s *BLETransportTestSuite) TestConnect_NoMatchingAdvertisement() {
	testutils.NewVehicleBuilder().
		WithService("ffe0").
		WithCharacteristic("ffe1", "writenr", nil).
		WithAdvertisement("Pixel 7", "AA:AA:AA:AA:AA:AA").
		WithAdvertisement("xESP32", "BB:BB:BB:BB:BB:BB").
		Install(s.T().Cleanup)

	tr, session := s.newTransport(transport.BLEOptions{})
	err := tr.Connect(context.Background())

	s.ErrorIs(err, device.ErrNoCompatibleDevice)
	s.ErrorIs(err, device.ErrNotFound)
	_, ok := session.Info()
	s.False(ok)
}

func (s *BLETransportTestSuite) TestConnect_DialFailure() {
	testutils.HM10Vehicle().WithDialError(errors.New("device not connected")).Install(s.T().Cleanup)

	tr, _ := s.newTransport(transport.BLEOptions{})
	err := tr.Connect(context.Background())
	s.ErrorIs(err, device.ErrNotConnected, "dial errors MUST be normalized")
}

func (s *BLETransportTestSuite) TestResolve_PriorityOrder() {
	// GOAL: Verify services and characteristics are chosen by table order, not profile order
	//
	// TEST SCENARIO: profile lists fff0 before Nordic UART → Nordic wins (higher priority)
	tests := []struct {
		name      string
		json      string
		service   string
		write     string
		rx        string
		reception string
	}{
		{
			name: "nordic beats fff0",
			json: `{"services": [
				{"uuid": "fff0", "characteristics": [{"uuid": "fff1", "properties": "write"}]},
				{"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e", "characteristics": [
					{"uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "properties": "notify"},
					{"uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "properties": "writenr"}
				]}
			]}`,
			service:   "6e400001b5a3f393e0a9e50e24dcca9e",
			write:     "6e400002b5a3f393e0a9e50e24dcca9e",
			rx:        "6e400003b5a3f393e0a9e50e24dcca9e",
			reception: transport.ReceptionNotify,
		},
		{
			name: "ffe0 in full SIG form beats everything",
			json: `{"services": [
				{"uuid": "49535343-fe7d-4ae5-8fa9-9fafd205e455", "characteristics": [{"uuid": "49535343-1e4d-4bd9-ba61-23c647249616", "properties": "write"}]},
				{"uuid": "0000ffe0-0000-1000-8000-00805f9b34fb", "characteristics": [{"uuid": "ffe1", "properties": "writenr,notify"}]}
			]}`,
			service:   "ffe0",
			write:     "ffe1",
			rx:        "ffe1",
			reception: transport.ReceptionNotify,
		},
		{
			name: "rx skips candidates that cannot notify or read",
			json: `{"services": [
				{"uuid": "fff0", "characteristics": [
					{"uuid": "fff1", "properties": "writenr"},
					{"uuid": "fff2", "properties": "read"}
				]}
			]}`,
			service:   "fff0",
			write:     "fff1",
			rx:        "fff2",
			reception: transport.ReceptionPoll,
		},
		{
			name: "no rx candidate means no telemetry",
			json: `{"services": [
				{"uuid": "fff0", "characteristics": [{"uuid": "fff1", "properties": "write"}]}
			]}`,
			service:   "fff0",
			write:     "fff1",
			rx:        "",
			reception: transport.ReceptionNone,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			testutils.NewVehicleBuilder().
				FromJSON("%s", tt.json).
				WithAdvertisement("ESP32-car", "AA:BB:CC:00:00:01").
				Install(s.T().Cleanup)

			tr, session := s.newTransport(transport.BLEOptions{PollInterval: time.Hour})
			s.Require().NoError(tr.Connect(context.Background()))
			defer tr.Close()

			info, _ := session.Info()
			s.Equal(tt.service, info.Service, "service MUST follow priority order")
			s.Equal(tt.write, info.WriteChar, "write characteristic MUST follow priority order")
			s.Equal(tt.rx, info.RxChar)
			s.Equal(tt.reception, info.Reception)
		})
	}
}

func (s *BLETransportTestSuite) TestResolve_Failures() {
	tests := []struct {
		name   string
		json   string
		expect error
	}{
		{
			name:   "no compatible service",
			json:   `{"services": [{"uuid": "180f", "characteristics": [{"uuid": "2a19", "properties": "read"}]}]}`,
			expect: device.ErrNoCompatibleService,
		},
		{
			name:   "no compatible write characteristic",
			json:   `{"services": [{"uuid": "ffe0", "characteristics": [{"uuid": "2a19", "properties": "write"}]}]}`,
			expect: device.ErrNoCompatibleCharacteristic,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, client := testutils.NewVehicleBuilder().
				FromJSON("%s", tt.json).
				WithAdvertisement("HC-06", "AA:BB:CC:00:00:02").
				Install(s.T().Cleanup)

			tr, session := s.newTransport(transport.BLEOptions{})
			err := tr.Connect(context.Background())

			s.ErrorIs(err, tt.expect)
			s.ErrorIs(err, device.ErrNotFound)
			client.AssertCalled(s.T(), "CancelConnection")
			_, ok := session.Info()
			s.False(ok, "failed connect MUST NOT bind the session")
		})
	}
}

func (s *BLETransportTestSuite) TestSend_WriteModes() {
	// GOAL: Verify write-without-response is preferred, acknowledged write is the fallback
	//
	// TEST SCENARIO: characteristic property sets → Send → noRsp flag or ErrWriteUnsupported
	tests := []struct {
		name      string
		props     string
		wantNoRsp bool
		wantErr   error
	}{
		{name: "both prefers no response", props: "write,writenr", wantNoRsp: true},
		{name: "write only", props: "write", wantNoRsp: false},
		{name: "neither", props: "read,notify", wantErr: device.ErrWriteUnsupported},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, client := testutils.NewVehicleBuilder().
				WithService("ffe0").
				WithCharacteristic("ffe1", tt.props, nil).
				WithAdvertisement("DX-BT24", "AA:BB:CC:00:00:03").
				Install(s.T().Cleanup)

			tr, _ := s.newTransport(transport.BLEOptions{PollInterval: time.Hour})
			s.Require().NoError(tr.Connect(context.Background()))
			defer tr.Close()

			err := tr.Send(context.Background(), protocol.Frame{Key: "func", Value: "HORN"})
			if tt.wantErr != nil {
				s.ErrorIs(err, tt.wantErr)
				s.ErrorIs(err, device.ErrUnsupported)
				s.Empty(client.Written())
				return
			}
			s.Require().NoError(err)
			client.AssertCalled(s.T(), "WriteCharacteristic", mock.Anything, []byte("{func:HORN}\n"), tt.wantNoRsp)
		})
	}
}

func (s *BLETransportTestSuite) TestSend_Chunks() {
	tr, _ := s.newTransport(transport.BLEOptions{ChunkDelay: time.Millisecond})
	s.Require().NoError(tr.Connect(context.Background()))
	defer tr.Close()

	f := protocol.Frame{Key: "status", Value: "a rather long status line for chunking"}
	s.Require().NoError(tr.Send(context.Background(), f))

	written := s.Client.Written()
	s.Greater(len(written), 1, "frames longer than a chunk MUST be split")
	for _, chunk := range written {
		s.LessOrEqual(len(chunk), transport.DefaultChunkSize)
	}
	s.Equal(protocol.EncodeLine(f), bytes.Join(written, nil))
}

func (s *BLETransportTestSuite) TestSend_WriteErrorIsReturned() {
	_, client := testutils.HM10Vehicle().WithWriteError(errors.New("device not connected")).Install(s.T().Cleanup)

	tr, _ := s.newTransport(transport.BLEOptions{})
	s.Require().NoError(tr.Connect(context.Background()))
	defer tr.Close()

	err := tr.Send(context.Background(), protocol.Frame{Key: "cmd", Value: "S"})
	s.ErrorIs(err, device.ErrNotConnected)
	s.Empty(client.Written())
}

func (s *BLETransportTestSuite) TestSend_NotConnected() {
	tr, _ := s.newTransport(transport.BLEOptions{})
	s.ErrorIs(tr.Send(context.Background(), protocol.Frame{Key: "cmd", Value: "F"}), device.ErrNotConnected)
}

func (s *BLETransportTestSuite) TestPollingReception() {
	_, client := testutils.NewVehicleBuilder().
		WithService("ffe0").
		WithCharacteristic("ffe1", "read,writenr", []byte("{battery:80}")).
		WithAdvertisement("MLT-BT05", "AA:BB:CC:00:00:04").
		Install(s.T().Cleanup)

	tr, session := s.newTransport(transport.BLEOptions{PollInterval: 10 * time.Millisecond})
	var in inbox
	tr.OnData(in.add)
	s.Require().NoError(tr.Connect(context.Background()))
	defer tr.Close()

	info, _ := session.Info()
	s.Equal(transport.ReceptionPoll, info.Reception)
	s.Eventually(func() bool { return len(in.all()) >= 2 }, time.Second, 5*time.Millisecond,
		"read-only RX characteristic MUST be polled")
	s.Equal([]byte("{battery:80}"), in.all()[0])
	client.AssertNotCalled(s.T(), "Subscribe", mock.Anything, mock.Anything, mock.Anything)
}

func (s *BLETransportTestSuite) TestUnsolicitedDisconnect() {
	// GOAL: Verify a GATT disconnect is reported once and leaves nothing bound
	//
	// TEST SCENARIO: connect → peripheral drops → Disconnected() fires → session cleared
	tr, session := s.newTransport(transport.BLEOptions{})
	s.Require().NoError(tr.Connect(context.Background()))

	s.Client.Drop()

	select {
	case err := <-tr.Disconnected():
		s.ErrorIs(err, device.ErrNotConnected)
	case <-time.After(time.Second):
		s.Fail("link loss MUST be reported")
	}
	s.Eventually(func() bool { _, ok := session.Info(); return !ok }, time.Second, 5*time.Millisecond)
	s.ErrorIs(tr.Send(context.Background(), protocol.Frame{Key: "cmd", Value: "F"}), device.ErrNotConnected)
	s.NoError(tr.Close())
}

func (s *BLETransportTestSuite) TestClose_IsNotALoss() {
	tr, session := s.newTransport(transport.BLEOptions{})
	s.Require().NoError(tr.Connect(context.Background()))

	s.Require().NoError(tr.Close())
	s.Client.Drop()

	select {
	case err := <-tr.Disconnected():
		s.Failf("Close MUST NOT be reported as a loss", "got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	_, ok := session.Info()
	s.False(ok)
	s.Client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)
	s.Client.AssertCalled(s.T(), "Unsubscribe", mock.Anything, false)
	s.NoError(tr.Close(), "Close MUST be idempotent")
}

func (s *BLETransportTestSuite) TestScan_FiltersByName() {
	testutils.NewVehicleBuilder().
		WithAdvertisement("HC-05", "AA:00:00:00:00:01").
		WithAdvertisement("Headphones", "AA:00:00:00:00:02").
		WithAdvertisement("BT24-R", "AA:00:00:00:00:03").
		Install(s.T().Cleanup)

	var names []string
	err := transport.Scan(context.Background(), false, func(adv transport.Advertisement) {
		names = append(names, adv.LocalName())
	})
	s.NoError(err)
	s.Equal([]string{"HC-05", "BT24-R"}, names)
}

func TestBLETransportTestSuite(t *testing.T) {
	suite.Run(t, new(BLETransportTestSuite))
}
