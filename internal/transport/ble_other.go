//go:build !darwin && !linux

package transport

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/rcdrive/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: bluetooth on %s", device.ErrUnsupported, runtime.GOOS)
}
