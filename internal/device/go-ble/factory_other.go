//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"

	"github.com/srg/puttlab/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, device.Wrap(device.ErrUnsupported, fmt.Errorf("no BLE backend for %s", runtime.GOOS))
}
