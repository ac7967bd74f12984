package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/rcdrive/internal/device"
)

// Characteristic roles in an inspection report.
const (
	RoleWrite = "write"
	RoleRx    = "rx"
)

// GATTReport describes a peripheral's GATT table and how a vehicle link
// would use it.
type GATTReport struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Services []ServiceReport `json:"services"`

	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
	Service    string `json:"service,omitempty"`
	WriteChar  string `json:"write_char,omitempty"`
	RxChar     string `json:"rx_char,omitempty"`
	Reception  string `json:"reception,omitempty"`
}

type ServiceReport struct {
	UUID            string                 `json:"uuid"`
	Name            string                 `json:"name,omitempty"`
	Selected        bool                   `json:"selected"`
	Characteristics []CharacteristicReport `json:"characteristics"`
}

type CharacteristicReport struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name,omitempty"`
	Properties []string `json:"properties"`
	Roles      []string `json:"roles,omitempty"`
	Value      string   `json:"value,omitempty"`
	ReadError  string   `json:"read_error,omitempty"`
}

// InspectOptions configures Inspect.
type InspectOptions struct {
	BLE BLEOptions
	// ReadLimit caps how many bytes of each readable value are reported.
	// Zero skips reads.
	ReadLimit int
	// Progress, when set, is told about phase changes.
	Progress func(phase string)
}

// Inspect finds a vehicle module the way Connect does, reads its GATT table
// and reports which service and characteristics a link would use. The
// peripheral is disconnected before Inspect returns.
func Inspect(ctx context.Context, opts InspectOptions, logger *logrus.Logger) (*GATTReport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(string) {}
	}

	central, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	progress("Scanning")
	t := NewBLETransport(opts.BLE, nil, logger)
	address, name, err := t.discover(ctx, central)
	if err != nil {
		progress("Failed")
		return nil, err
	}

	progress("Connecting")
	client, err := central.Dial(ctx, address)
	if err != nil {
		progress("Failed")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}
	defer func() {
		if err := client.CancelConnection(); err != nil {
			logger.WithError(err).Warn("Error disconnecting from device")
		}
	}()

	progress("Discovering")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		progress("Failed")
		return nil, fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}

	report := &GATTReport{Address: address, Name: name}
	resolved, rerr := resolveProfile(profile)
	if rerr != nil {
		report.Reason = rerr.Error()
	} else {
		report.Compatible = true
		report.Service = device.NormalizeUUID(resolved.service.UUID.String())
		report.WriteChar = charUUID(resolved.write)
		report.RxChar = charUUID(resolved.rx)
		report.Reception = receptionFor(resolved.rx)
	}

	progress("Reading")
	for _, svc := range profile.Services {
		sr := ServiceReport{
			UUID:     device.NormalizeUUID(svc.UUID.String()),
			Name:     device.KnownName(svc.UUID.String()),
			Selected: resolved != nil && svc == resolved.service,
		}
		for _, c := range svc.Characteristics {
			sr.Characteristics = append(sr.Characteristics, inspectCharacteristic(client, c, resolved, sr.Selected, opts.ReadLimit, logger))
		}
		report.Services = append(report.Services, sr)
	}
	progress("Done")

	logger.WithFields(logrus.Fields{
		"address":    address,
		"services":   len(report.Services),
		"compatible": report.Compatible,
	}).Info("Inspected vehicle GATT profile")
	return report, nil
}

func inspectCharacteristic(client GATTClient, c *ble.Characteristic, resolved *resolvedProfile, selected bool, limit int, logger *logrus.Logger) CharacteristicReport {
	cr := CharacteristicReport{
		UUID:       charUUID(c),
		Name:       device.KnownName(c.UUID.String()),
		Properties: PropertyNames(c.Property),
	}
	if selected {
		if c == resolved.write {
			cr.Roles = append(cr.Roles, RoleWrite)
		}
		if c == resolved.rx {
			cr.Roles = append(cr.Roles, RoleRx)
		}
	}

	if limit <= 0 || c.Property&ble.CharRead == 0 {
		return cr
	}
	value, err := client.ReadCharacteristic(c)
	if err != nil {
		logger.WithError(err).WithField("uuid", cr.UUID).Debug("Characteristic read failed")
		cr.ReadError = device.NormalizeError(err).Error()
		return cr
	}
	if len(value) > limit {
		value = value[:limit]
	}
	cr.Value = FormatValue(value)
	return cr
}

func receptionFor(rx *ble.Characteristic) string {
	switch {
	case rx == nil:
		return ReceptionNone
	case rx.Property&ble.CharNotify != 0:
		return ReceptionNotify
	default:
		return ReceptionPoll
	}
}

var propertyNames = []struct {
	flag ble.Property
	name string
}{
	{ble.CharBroadcast, "broadcast"},
	{ble.CharRead, "read"},
	{ble.CharWriteNR, "writenr"},
	{ble.CharWrite, "write"},
	{ble.CharNotify, "notify"},
	{ble.CharIndicate, "indicate"},
	{ble.CharSignedWrite, "signed-write"},
	{ble.CharExtended, "extended"},
}

// PropertyNames lists the set flags of p in GATT bit order.
func PropertyNames(p ble.Property) []string {
	names := []string{}
	for _, pn := range propertyNames {
		if p&pn.flag != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

// FormatValue renders printable payloads as quoted text and everything else
// as hex.
func FormatValue(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s := string(b)
	printable := strings.IndexFunc(s, func(r rune) bool {
		return r == unicode.ReplacementChar || !unicode.IsPrint(r)
	}) < 0
	if printable {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("% x", b)
}

// IsIncompatible reports whether err means the peripheral lacks a usable
// serial profile.
func IsIncompatible(err error) bool {
	return errors.Is(err, device.ErrNoCompatibleService) || errors.Is(err, device.ErrNoCompatibleCharacteristic)
}
