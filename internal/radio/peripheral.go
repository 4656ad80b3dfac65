package radio

import "sync"

// Peripheral is an opaque, mutable handle representing a discovered remote
// endpoint. It is created on the first scan-result delivery for a peer and
// reused for subsequent interactions (connect, GATT discovery) with the same
// logical peer; the platform-assigned identifier is refreshed on every
// delivery since some stacks rotate it.
type Peripheral struct {
	mu sync.RWMutex
	id string
}

func NewPeripheral(id string) *Peripheral {
	return &Peripheral{id: id}
}

// ID returns the current platform-assigned identifier.
func (p *Peripheral) ID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

// SetID replaces the platform-assigned identifier.
func (p *Peripheral) SetID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}
