package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/rcdrive/internal/connection"
	"github.com/srg/rcdrive/internal/transport"
)

// addTargetFlags registers the flags that pick a vehicle.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("transport", "t", "", "Link type (ble, wifi); defaults to the most recent device, then ble")
	cmd.Flags().String("address", "", "Bluetooth address to dial instead of scanning")
	cmd.Flags().String("host", "", "Vehicle host for WiFi")
	cmd.Flags().Int("port", 0, "Vehicle port for WiFi")
	cmd.Flags().String("from-history", "", "Reconnect to a history entry by ID or position")
}

type targetChoice struct {
	kind    transport.Kind
	target  transport.Target
	history string
}

// resolveTarget turns the target flags into a dial choice. Missing WiFi hosts
// are reported before any transport is touched.
func resolveTarget(cmd *cobra.Command, a *app) (targetChoice, error) {
	if id, _ := cmd.Flags().GetString("from-history"); id != "" {
		return targetChoice{history: id}, nil
	}

	kindStr, _ := cmd.Flags().GetString("transport")
	address, _ := cmd.Flags().GetString("address")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")

	if kindStr == "" && address == "" && host == "" {
		if last, ok := a.history.Last(); ok {
			kind, err := transport.ParseKind(last.Kind)
			if err == nil {
				return targetChoice{kind: kind, target: connection.TargetFor(kind, last.Address)}, nil
			}
		}
	}

	kind := transport.KindBluetooth
	switch {
	case kindStr != "":
		k, err := transport.ParseKind(kindStr)
		if err != nil {
			return targetChoice{}, err
		}
		kind = k
	case host != "":
		kind = transport.KindWiFi
	}

	if kind == transport.KindWiFi && host == "" && a.cfg.WiFi.Host == "" {
		return targetChoice{}, ErrMissingTarget
	}
	if port < 0 || port > 65535 {
		return targetChoice{}, fmt.Errorf("port %d out of range", port)
	}
	return targetChoice{kind: kind, target: transport.Target{Address: address, Host: host, Port: port}}, nil
}

func (c targetChoice) connect(ctx context.Context, m *connection.Manager) error {
	if c.history != "" {
		return m.ReconnectTo(ctx, c.history)
	}
	return m.Connect(ctx, c.kind, c.target)
}
