package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	blelib "github.com/go-ble/ble"
	"github.com/srg/rcdrive/internal/testutils/mocks"
	"github.com/srg/rcdrive/internal/transport"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "writenr,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// VehicleProfileConfig is the GATT profile a mocked vehicle exposes.
type VehicleProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// VehicleBuilder builds a mocked central and GATT client for a serial-style
// vehicle module.
type VehicleBuilder struct {
	profile        VehicleProfileConfig
	advertisements []transport.Advertisement
	writeErr       error
	dialErr        error
}

// NewVehicleBuilder creates an empty builder.
func NewVehicleBuilder() *VehicleBuilder {
	return &VehicleBuilder{}
}

// HM10Vehicle is the common ffe0/ffe1 module that writes and notifies on the
// same characteristic.
func HM10Vehicle() *VehicleBuilder {
	return NewVehicleBuilder().
		WithService("ffe0").
		WithCharacteristic("ffe1", "read,writenr,notify", nil).
		WithAdvertisement("HC-05", "AA:BB:CC:DD:EE:01")
}

// WithService adds a service to the profile
func (b *VehicleBuilder) WithService(uuid string) *VehicleBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *VehicleBuilder) WithCharacteristic(uuid, properties string, value []byte) *VehicleBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties, Value: value})
	return b
}

// WithAdvertisement adds an advertisement reported during scans.
func (b *VehicleBuilder) WithAdvertisement(name, address string) *VehicleBuilder {
	b.advertisements = append(b.advertisements, &mocks.MockAdvertisement{Name: name, Address: address, Rssi: -50})
	return b
}

// WithAdvertisements adds prebuilt advertisements.
func (b *VehicleBuilder) WithAdvertisements(ads ...transport.Advertisement) *VehicleBuilder {
	b.advertisements = append(b.advertisements, ads...)
	return b
}

// WithWriteError makes every characteristic write fail.
func (b *VehicleBuilder) WithWriteError(err error) *VehicleBuilder {
	b.writeErr = err
	return b
}

// WithDialError makes Dial fail.
func (b *VehicleBuilder) WithDialError(err error) *VehicleBuilder {
	b.dialErr = err
	return b
}

// FromJSON fills the profile from JSON
func (b *VehicleBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *VehicleBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config VehicleProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("VehicleBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// ParseProperties converts a comma separated property list to ble.Property
// flags. An empty list means read, write and notify.
func ParseProperties(props string) blelib.Property {
	if strings.TrimSpace(props) == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}
	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "writenr", "write-without-response":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		default:
			panic(fmt.Sprintf("ParseProperties: unknown property %q", p))
		}
	}
	return property
}

// Profile builds the ble.Profile described by the builder.
func (b *VehicleBuilder) Profile() *blelib.Profile {
	profile := &blelib.Profile{}
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: ParseProperties(charConfig.Properties),
				Value:    charConfig.Value,
			})
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}

// Build creates the mocked central and the client it dials.
func (b *VehicleBuilder) Build() (*mocks.MockCentral, *mocks.MockGATTClient) {
	central := &mocks.MockCentral{}
	client := mocks.NewMockGATTClient()
	profile := b.Profile()

	central.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			handler := args.Get(2).(func(transport.Advertisement))
			for _, adv := range b.advertisements {
				handler(adv)
			}
		}).
		Return(nil)

	if b.dialErr != nil {
		central.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr)
	} else {
		central.On("Dial", mock.Anything, mock.Anything).Return(client, nil)
	}

	client.On("DiscoverProfile", true).Return(profile, nil)
	client.On("CancelConnection").Return(nil)
	client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(b.writeErr)

	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			client.On("Subscribe", char, false, mock.Anything).Return(nil)
			client.On("Unsubscribe", char, false).Return(nil)
			if char.Property&blelib.CharRead != 0 {
				client.On("ReadCharacteristic", char).Return(char.Value, nil)
			} else {
				client.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read"))
			}
		}
	}
	return central, client
}

// Install builds the mocks and points transport.DeviceFactory at them until
// cleanup runs.
func (b *VehicleBuilder) Install(cleanup func(func())) (*mocks.MockCentral, *mocks.MockGATTClient) {
	central, client := b.Build()
	original := transport.DeviceFactory
	transport.DeviceFactory = func() (transport.Central, error) { return central, nil }
	cleanup(func() { transport.DeviceFactory = original })
	return central, client
}
