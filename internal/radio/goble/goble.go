// Package goble adapts the go-ble stack to the radio interfaces. One shared
// ble.Device backs both roles because the underlying HCI/CoreBluetooth handle
// is process-global.
package goble

import (
	"sync"
	"time"

	"github.com/go-ble/ble"
)

const (
	// WriteChunkSize is the maximum number of bytes per BLE write. BLE
	// 4.0/4.1 ATT_MTU is 23 bytes, 20 after the ATT header, so 20-byte
	// chunks work on every BLE version.
	WriteChunkSize = 20

	// WriteChunkDelay is the pause between consecutive write chunks so the
	// peer's receive buffer is not overwhelmed.
	WriteChunkDelay = 10 * time.Millisecond

	// scanEventBuffer bounds the scan-result ring; the platform callback
	// must never block on a slow consumer, so older events are dropped.
	scanEventBuffer = 128

	connectTimeout = 30 * time.Second
)

// DeviceFactory creates the ble.Device. Overridable in tests.
var DeviceFactory = defaultDevice

var (
	deviceMu sync.Mutex
	device   ble.Device
)

func sleepChunkDelay() {
	time.Sleep(WriteChunkDelay)
}

// sharedDevice lazily acquires the process-wide BLE device.
func sharedDevice() (ble.Device, error) {
	deviceMu.Lock()
	defer deviceMu.Unlock()
	if device != nil {
		return device, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	ble.SetDefaultDevice(dev)
	device = dev
	return dev, nil
}
