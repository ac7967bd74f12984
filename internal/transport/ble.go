package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/rcdrive/internal/device"
	"github.com/srg/rcdrive/internal/groutine"
	"github.com/srg/rcdrive/internal/protocol"
)

// BLE write chunking. Most serial modules negotiate the 23-byte default MTU.
const (
	DefaultChunkSize  = 20
	DefaultChunkDelay = 10 * time.Millisecond
)

// Advertisement is the part of a BLE advertisement discovery looks at.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// GATTClient is the subset of ble.Client used once a link is up.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Central scans for and dials peripherals.
type Central interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Dial(ctx context.Context, address string) (GATTClient, error)
}

// bleCentral adapts a go-ble device to Central.
type bleCentral struct {
	dev ble.Device
}

func (c *bleCentral) Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	return c.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(bleAdvertisement{adv: adv})
	})
}

func (c *bleCentral) Dial(ctx context.Context, address string) (GATTClient, error) {
	return c.dev.Dial(ctx, ble.NewAddr(address))
}

type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a bleAdvertisement) Addr() string      { return a.adv.Addr().String() }
func (a bleAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a bleAdvertisement) Connectable() bool { return a.adv.Connectable() }

// DeviceFactory creates the platform central (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Central, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return &bleCentral{dev: dev}, nil
}

// BLEOptions configures a BLETransport.
type BLEOptions struct {
	// Address dials a known peripheral and skips the name scan.
	Address string
	// ScanTimeout bounds the name scan; zero leaves it to the caller's context.
	ScanTimeout  time.Duration
	ChunkSize    int
	ChunkDelay   time.Duration
	PollInterval time.Duration
}

// BLETransport drives a vehicle through a serial-style GATT service.
type BLETransport struct {
	opts    BLEOptions
	session *Session
	logger  *logrus.Logger

	data dataHandler
	lost *lossNotifier

	mu        sync.Mutex
	client    GATTClient
	writeChar *ble.Characteristic
	source    Source
	cancel    context.CancelFunc
	closing   bool

	writeMutex sync.Mutex
}

// NewBLETransport creates an unconnected Bluetooth transport bound to session.
func NewBLETransport(opts BLEOptions, session *Session, logger *logrus.Logger) *BLETransport {
	if logger == nil {
		logger = logrus.New()
	}
	if session == nil {
		session = NewSession()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	return &BLETransport{opts: opts, session: session, logger: logger, lost: newLossNotifier()}
}

func (t *BLETransport) Kind() Kind { return KindBluetooth }

func (t *BLETransport) OnData(fn func([]byte)) { t.data.set(fn) }

func (t *BLETransport) Disconnected() <-chan error { return t.lost.ch }

// Connect scans (unless an address is configured), dials, resolves the
// service and characteristics by priority and starts telemetry reception.
func (t *BLETransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	t.mu.Unlock()

	central, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}

	address, name, err := t.discover(ctx, central)
	if err != nil {
		return err
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"name":    name,
	}).Info("Connecting to BLE device...")

	client, err := central.Dial(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}

	resolved, err := resolveProfile(profile)
	if err != nil {
		_ = client.CancelConnection()
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"service": device.NormalizeUUID(resolved.service.UUID.String()),
		"write":   charUUID(resolved.write),
		"rx":      charUUID(resolved.rx),
	}).Info("Resolved vehicle GATT profile")

	linkCtx, cancel := context.WithCancel(context.Background())
	source := t.selectSource(client, resolved.rx)
	if source != nil {
		if err := source.Start(linkCtx, t.data.deliver); err != nil {
			t.logger.WithError(err).Warn("Could not set up data reception")
			source = nil
		}
	} else {
		t.logger.Info("RX characteristic supports neither notify nor read, no telemetry")
	}

	t.mu.Lock()
	t.client = client
	t.writeChar = resolved.write
	t.source = source
	t.cancel = cancel
	t.closing = false
	t.mu.Unlock()

	reception := ReceptionNone
	if source != nil {
		reception = source.Mode()
	}
	t.session.Bind(Info{
		Kind:      KindBluetooth,
		ID:        address,
		Name:      name,
		Service:   device.NormalizeUUID(resolved.service.UUID.String()),
		WriteChar: charUUID(resolved.write),
		RxChar:    charUUID(resolved.rx),
		Link:      LinkGATT,
		Reception: reception,
	})

	t.monitor(linkCtx, client)
	return nil
}

// discover returns the address to dial. With no configured address it scans
// until an advertisement matches the name allow-list.
func (t *BLETransport) discover(ctx context.Context, central Central) (string, string, error) {
	if t.opts.Address != "" {
		return t.opts.Address, t.opts.Address, nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if t.opts.ScanTimeout > 0 {
		scanCtx, cancel = context.WithTimeout(scanCtx, t.opts.ScanTimeout)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		found Advertisement
	)
	t.logger.WithField("prefixes", strings.Join(device.NamePrefixes, ",")).Info("Scanning for vehicle...")
	err := central.Scan(scanCtx, false, func(adv Advertisement) {
		if !adv.Connectable() || !device.MatchesNamePrefix(adv.LocalName()) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if found == nil {
			found = adv
			cancel()
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return found.Addr(), found.LocalName(), nil
	}
	if ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return "", "", fmt.Errorf("scan failed: %w", device.NormalizeError(err))
	}
	return "", "", device.ErrNoCompatibleDevice
}

type resolvedProfile struct {
	service *ble.Service
	write   *ble.Characteristic
	rx      *ble.Characteristic
}

// resolveProfile walks the priority tables. The first service present wins,
// then the first write characteristic in it, then the first RX candidate that
// can notify or be read.
func resolveProfile(profile *ble.Profile) (*resolvedProfile, error) {
	if profile == nil {
		return nil, device.ErrNoCompatibleService
	}

	services := make(map[string]*ble.Service, len(profile.Services))
	for _, s := range profile.Services {
		services[device.NormalizeUUID(s.UUID.String())] = s
	}
	svcUUID, _, ok := device.FirstMatch(device.ServicePriority, func(u string) bool {
		_, ok := services[u]
		return ok
	})
	if !ok {
		return nil, fmt.Errorf("%w (device offers %s)", device.ErrNoCompatibleService, strings.Join(mapKeys(services), ", "))
	}
	svc := services[svcUUID]

	chars := make(map[string]*ble.Characteristic, len(svc.Characteristics))
	for _, c := range svc.Characteristics {
		chars[device.NormalizeUUID(c.UUID.String())] = c
	}
	writeUUID, _, ok := device.FirstMatch(device.WriteCharPriority, func(u string) bool {
		_, ok := chars[u]
		return ok
	})
	if !ok {
		return nil, fmt.Errorf("%w in service %s", device.ErrNoCompatibleCharacteristic, svcUUID)
	}

	res := &resolvedProfile{service: svc, write: chars[writeUUID]}
	if rxUUID, _, ok := device.FirstMatch(device.RxCharPriority, func(u string) bool {
		c, ok := chars[u]
		return ok && c.Property&(ble.CharNotify|ble.CharRead) != 0
	}); ok {
		res.rx = chars[rxUUID]
	}
	return res, nil
}

// selectSource prefers notifications and falls back to polling reads.
func (t *BLETransport) selectSource(client GATTClient, rx *ble.Characteristic) Source {
	switch {
	case rx == nil:
		return nil
	case rx.Property&ble.CharNotify != 0:
		return NewNotifySource(
			func(deliver func([]byte)) error {
				return client.Subscribe(rx, false, func(req []byte) {
					deliver(append([]byte(nil), req...))
				})
			},
			func() error { return client.Unsubscribe(rx, false) },
			t.logger,
		)
	case rx.Property&ble.CharRead != 0:
		return NewPollSource("ble-telemetry-poll", t.opts.PollInterval, func(context.Context) ([]byte, error) {
			return client.ReadCharacteristic(rx)
		}, t.logger)
	default:
		return nil
	}
}

// monitor watches the client's disconnect channel when the platform has one.
func (t *BLETransport) monitor(ctx context.Context, client GATTClient) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(ctx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
		case <-ctx.Done():
			return
		}

		t.mu.Lock()
		closing := t.closing || t.client != client
		t.mu.Unlock()
		if closing {
			return
		}
		t.logger.Warn("BLE peripheral disconnected")
		t.teardown()
		t.lost.report(device.ErrNotConnected)
	})
}

// Send writes {key:value}\n in chunks, preferring write-without-response.
func (t *BLETransport) Send(ctx context.Context, f protocol.Frame) error {
	t.mu.Lock()
	client, char := t.client, t.writeChar
	t.mu.Unlock()

	if client == nil || char == nil {
		return device.ErrNotConnected
	}

	noRsp := char.Property&ble.CharWriteNR != 0
	if !noRsp && char.Property&ble.CharWrite == 0 {
		return device.ErrWriteUnsupported
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	data := protocol.EncodeLine(f)
	for len(data) > 0 {
		n := min(len(data), t.opts.ChunkSize)
		chunk := data[:n]
		data = data[n:]

		if err := client.WriteCharacteristic(char, chunk, noRsp); err != nil {
			return fmt.Errorf("failed to write to characteristic %s: %w", charUUID(char), device.NormalizeError(err))
		}
		t.logger.WithFields(logrus.Fields{
			"frame": f.String(),
			"bytes": n,
			"noRsp": noRsp,
		}).Debug("Wrote chunk to device")

		if len(data) > 0 && t.opts.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.opts.ChunkDelay):
			}
		}
	}
	return nil
}

// Close stops reception and drops the GATT link. It is safe to call twice.
func (t *BLETransport) Close() error {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	return t.teardown()
}

func (t *BLETransport) teardown() error {
	t.mu.Lock()
	client, source, cancel := t.client, t.source, t.cancel
	t.client, t.writeChar, t.source, t.cancel = nil, nil, nil, nil
	t.mu.Unlock()

	if source != nil {
		source.Stop()
	}
	if cancel != nil {
		cancel()
	}
	t.session.Clear()
	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		t.logger.WithError(err).Warn("Error disconnecting from device")
		return device.NormalizeError(err)
	}
	t.logger.Info("Disconnected from BLE device")
	return nil
}

// Scan reports every advertisement on the name allow-list until ctx ends.
func Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	central, err := DeviceFactory()
	if err != nil {
		return err
	}
	err = central.Scan(ctx, allowDup, func(adv Advertisement) {
		if device.MatchesNamePrefix(adv.LocalName()) {
			handler(adv)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return device.NormalizeError(err)
	}
	return nil
}

func charUUID(c *ble.Characteristic) string {
	if c == nil {
		return ""
	}
	return device.NormalizeUUID(c.UUID.String())
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
