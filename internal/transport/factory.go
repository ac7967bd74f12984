package transport

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Config holds the defaults for both variants.
type Config struct {
	BLE  BLEOptions
	WiFi WiFiOptions
}

// Factory builds an unconnected transport of the given kind.
type Factory func(kind Kind, target Target, session *Session) (Transport, error)

// NewFactory returns a Factory applying target over cfg.
func NewFactory(cfg Config, logger *logrus.Logger) Factory {
	return func(kind Kind, target Target, session *Session) (Transport, error) {
		switch kind {
		case KindBluetooth:
			opts := cfg.BLE
			if target.Address != "" {
				opts.Address = target.Address
			}
			return NewBLETransport(opts, session, logger), nil
		case KindWiFi:
			opts := cfg.WiFi
			if target.Host != "" {
				opts.Host = target.Host
			}
			if target.Port > 0 {
				opts.Port = target.Port
			}
			return NewWiFiTransport(opts, session, logger), nil
		default:
			return nil, fmt.Errorf("unsupported transport kind %q", kind)
		}
	}
}
