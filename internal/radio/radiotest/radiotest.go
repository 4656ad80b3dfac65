// Package radiotest provides scriptable in-memory implementations of the
// radio interfaces. Callbacks are delivered on fresh goroutines where the
// production stack would do the same, and faults (write failures, duplicate
// completions, discovery timeouts) can be injected per test.
package radiotest

import (
	"sync"

	"github.com/srg/bleprox/internal/radio"
)

// Conn is a scriptable radio.Conn. By default every Write is recorded and
// completed successfully on a separate goroutine, mimicking an asynchronous
// platform confirmation.
type Conn struct {
	mu       sync.Mutex
	receiveH func([]byte)
	closeH   func()
	closed   bool
	writes   [][]byte

	// OnWrite, when set, replaces the default write behavior. The function
	// owns invoking done (and may invoke it twice, late, or never).
	OnWrite func(p []byte, done func(error))
}

func NewConn() *Conn {
	return &Conn{}
}

func (c *Conn) Write(p []byte, done func(error)) {
	c.mu.Lock()
	buf := make([]byte, len(p))
	copy(buf, p)
	c.writes = append(c.writes, buf)
	onWrite := c.OnWrite
	c.mu.Unlock()

	if onWrite != nil {
		onWrite(buf, done)
		return
	}
	go done(nil)
}

func (c *Conn) SetReceiveHandler(h func(p []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiveH = h
}

func (c *Conn) SetCloseHandler(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeH = h
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Writes returns a snapshot of every payload passed to Write.
func (c *Conn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Deliver pushes inbound bytes through the registered receive handler, the way
// the platform would on one of its own goroutines.
func (c *Conn) Deliver(p []byte) {
	c.mu.Lock()
	h := c.receiveH
	c.mu.Unlock()
	if h != nil {
		h(p)
	}
}

// Sever fires the registered close handler, simulating platform-side link
// loss.
func (c *Conn) Sever() {
	c.mu.Lock()
	h := c.closeH
	c.mu.Unlock()
	if h != nil {
		h()
	}
}

// AdvertiseCall records one Advertise invocation on a PeripheralRole.
type AdvertiseCall struct {
	ServiceUUID string
	ServiceData []byte
	Power       radio.PowerLevel
}

// CharacteristicDef records one AddCharacteristic invocation.
type CharacteristicDef struct {
	ServiceUUID        string
	CharacteristicUUID string
	Permissions        radio.Permission
	Properties         radio.Property
}

// PeripheralRole is a scriptable radio.PeripheralRole recording every call.
type PeripheralRole struct {
	mu              sync.Mutex
	advertiseCalls  []AdvertiseCall
	advertising     bool
	characteristics []CharacteristicDef
	updates         map[string][]byte
	connHandler     radio.ConnectionHandler
	closed          bool

	// Injected failures.
	AdvertiseErr         error
	AddCharacteristicErr error
}

func NewPeripheralRole() *PeripheralRole {
	return &PeripheralRole{updates: make(map[string][]byte)}
}

func (p *PeripheralRole) Advertise(serviceUUID string, serviceData []byte, power radio.PowerLevel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AdvertiseErr != nil {
		return p.AdvertiseErr
	}
	p.advertiseCalls = append(p.advertiseCalls, AdvertiseCall{serviceUUID, serviceData, power})
	p.advertising = true
	return nil
}

func (p *PeripheralRole) StopAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertising = false
	return nil
}

func (p *PeripheralRole) AddCharacteristic(serviceUUID, characteristicUUID string, perms radio.Permission, props radio.Property) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AddCharacteristicErr != nil {
		return p.AddCharacteristicErr
	}
	p.characteristics = append(p.characteristics, CharacteristicDef{serviceUUID, characteristicUUID, perms, props})
	return nil
}

func (p *PeripheralRole) UpdateCharacteristic(serviceUUID, characteristicUUID string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates[serviceUUID+"/"+characteristicUUID] = value
	return nil
}

func (p *PeripheralRole) RemoveService(serviceUUID string) error {
	return nil
}

func (p *PeripheralRole) SetConnectionHandler(h radio.ConnectionHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connHandler = h
}

func (p *PeripheralRole) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.advertising = false
	return nil
}

// AdvertiseCalls returns a snapshot of every Advertise invocation.
func (p *PeripheralRole) AdvertiseCalls() []AdvertiseCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AdvertiseCall, len(p.advertiseCalls))
	copy(out, p.advertiseCalls)
	return out
}

// Characteristics returns a snapshot of every AddCharacteristic invocation.
func (p *PeripheralRole) Characteristics() []CharacteristicDef {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CharacteristicDef, len(p.characteristics))
	copy(out, p.characteristics)
	return out
}

// UpdatedValue returns the last value pushed for the given characteristic.
func (p *PeripheralRole) UpdatedValue(serviceUUID, characteristicUUID string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.updates[serviceUUID+"/"+characteristicUUID]
	return v, ok
}

// Advertising reports whether an advertisement is currently active.
func (p *PeripheralRole) Advertising() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertising
}

// Closed reports whether Close was called.
func (p *PeripheralRole) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// IncomingConnection routes an inbound platform connection through the
// registered handler on a fresh goroutine, like the real stack. Returns false
// if no handler is registered.
func (p *PeripheralRole) IncomingConnection(serviceID string, conn radio.Conn) bool {
	p.mu.Lock()
	h := p.connHandler
	p.mu.Unlock()
	if h == nil {
		return false
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h(serviceID, conn)
	}()
	wg.Wait()
	return true
}

// CentralRole is a scriptable radio.CentralRole.
type CentralRole struct {
	mu          sync.Mutex
	scanUUID    string
	scanHandler radio.ScanHandler
	scanning    bool
	closed      bool

	// ConnectFunc scripts ConnectGatt; when nil the request fails.
	ConnectFunc func(peripheralID string, power radio.PowerLevel, result func(radio.GattSession, error))
}

func NewCentralRole() *CentralRole {
	return &CentralRole{}
}

func (c *CentralRole) StartScan(serviceUUID string, power radio.PowerLevel, h radio.ScanHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanUUID = serviceUUID
	c.scanHandler = h
	c.scanning = true
	return nil
}

func (c *CentralRole) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanning = false
	c.scanHandler = nil
	return nil
}

func (c *CentralRole) ConnectGatt(peripheralID string, power radio.PowerLevel, result func(radio.GattSession, error)) {
	c.mu.Lock()
	fn := c.ConnectFunc
	c.mu.Unlock()
	if fn == nil {
		go result(nil, radio.ErrNotConnected)
		return
	}
	fn(peripheralID, power, result)
}

func (c *CentralRole) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.scanning = false
	return nil
}

// Scanning reports whether a scan is active.
func (c *CentralRole) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

// Closed reports whether Close was called.
func (c *CentralRole) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// DeliverScanResult pushes one scan result through the registered handler.
// Returns false if scanning is not active.
func (c *CentralRole) DeliverScanResult(peripheralID string, serviceData []byte) bool {
	c.mu.Lock()
	h := c.scanHandler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(peripheralID, serviceData)
	return true
}

// GattSession is a scriptable radio.GattSession.
type GattSession struct {
	mu           sync.Mutex
	disconnected bool

	// DiscoverFunc scripts Discover; when nil the discovery reports no values.
	DiscoverFunc func(serviceUUID string, characteristicUUIDs []string, result func([]radio.CharacteristicValue, error))
}

func NewGattSession() *GattSession {
	return &GattSession{}
}

func (g *GattSession) Discover(serviceUUID string, characteristicUUIDs []string, result func([]radio.CharacteristicValue, error)) {
	g.mu.Lock()
	fn := g.DiscoverFunc
	g.mu.Unlock()
	if fn == nil {
		go result(nil, nil)
		return
	}
	fn(serviceUUID, characteristicUUIDs, result)
}

func (g *GattSession) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnected = true
}

// Disconnected reports whether Disconnect was called.
func (g *GattSession) Disconnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disconnected
}
