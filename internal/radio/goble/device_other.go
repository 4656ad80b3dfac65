//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

func defaultDevice() (ble.Device, error) {
	return nil, fmt.Errorf("no BLE device support on %s", runtime.GOOS)
}
