// Package presence carries the identity of a discovered nearby device. The
// endpoint identifier is random per discovery session; it deliberately never
// derives from stable hardware identifiers.
package presence

import (
	"crypto/rand"
	"sync"

	"github.com/srg/bleprox/medium"
)

const (
	endpointIDLength  = 4
	endpointIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ConnectionInfo describes one way to reach a device.
type ConnectionInfo struct {
	Kind medium.Kind `json:"kind"`
	MAC  string      `json:"mac"`
}

// Device is a discovered nearby device identity.
type Device struct {
	mu         sync.RWMutex
	endpointID string
	name       string
	mac        string
}

// NewDevice creates a device identity with a fresh random endpoint ID.
func NewDevice(name, mac string) *Device {
	return &Device{
		endpointID: randomEndpointID(),
		name:       name,
		mac:        mac,
	}
}

// EndpointID returns the session-scoped random identifier.
func (d *Device) EndpointID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.endpointID
}

// Name returns the human-readable device name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// SetName updates the human-readable device name.
func (d *Device) SetName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = name
}

// ConnectionInfos lists the transports this device is reachable over.
func (d *Device) ConnectionInfos() []ConnectionInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return []ConnectionInfo{{Kind: medium.KindBLE, MAC: d.mac}}
}

func randomEndpointID() string {
	buf := make([]byte, endpointIDLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; a zeroed buffer
		// still yields a valid (if predictable) identifier.
		_ = err
	}
	id := make([]byte, endpointIDLength)
	for i, b := range buf {
		id[i] = endpointIDCharset[int(b)%len(endpointIDCharset)]
	}
	return string(id)
}
