// Package mocks holds testify mocks of the Bluetooth central and GATT client
// seams used by the BLE transport.
package mocks

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/rcdrive/internal/transport"
	"github.com/stretchr/testify/mock"
)

// MockCentral mocks transport.Central.
type MockCentral struct {
	mock.Mock
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, handler func(transport.Advertisement)) error {
	args := m.Called(ctx, allowDup, handler)
	return args.Error(0)
}

func (m *MockCentral) Dial(ctx context.Context, address string) (transport.GATTClient, error) {
	args := m.Called(ctx, address)
	client, _ := args.Get(0).(transport.GATTClient)
	return client, args.Error(1)
}

// MockGATTClient mocks transport.GATTClient. It also exposes the platform
// Disconnected channel; Drop closes it.
type MockGATTClient struct {
	mock.Mock

	mu           sync.Mutex
	handlers     map[string]ble.NotificationHandler
	writes       [][]byte
	disconnected chan struct{}
	dropOnce     sync.Once
}

// NewMockGATTClient returns a client with an open Disconnected channel.
func NewMockGATTClient() *MockGATTClient {
	return &MockGATTClient{
		handlers:     make(map[string]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (m *MockGATTClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockGATTClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.writes = append(m.writes, append([]byte(nil), value...))
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.handlers[c.UUID.String()] = h
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockGATTClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	m.mu.Lock()
	delete(m.handlers, c.UUID.String())
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockGATTClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

// Disconnected mirrors the go-ble client channel closed on link loss.
func (m *MockGATTClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Drop simulates the peripheral going away.
func (m *MockGATTClient) Drop() {
	m.dropOnce.Do(func() { close(m.disconnected) })
}

// Notify pushes a notification to the subscriber of the given characteristic.
// It reports whether a subscriber existed.
func (m *MockGATTClient) Notify(charUUID string, data []byte) bool {
	m.mu.Lock()
	h := m.handlers[charUUID]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Written returns the payload of every successful write, chunk by chunk.
func (m *MockGATTClient) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// MockAdvertisement is a fixed transport.Advertisement.
type MockAdvertisement struct {
	Name           string
	Address        string
	Rssi           int
	NotConnectable bool
}

func (a *MockAdvertisement) LocalName() string { return a.Name }
func (a *MockAdvertisement) Addr() string      { return a.Address }
func (a *MockAdvertisement) RSSI() int         { return a.Rssi }
func (a *MockAdvertisement) Connectable() bool { return !a.NotConnectable }
