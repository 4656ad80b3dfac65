// Package radio defines the boundary to the native BLE radio stack.
//
// Everything behind these interfaces is asynchronous and callback driven:
// scan results, inbound connections, received bytes, write completions and
// GATT discovery results are delivered on goroutines the platform owns. The
// packages above this one (stream, gatt, medium) are responsible for turning
// those callbacks into blocking, socket-like calls. Implementations must be
// safe for concurrent use; callers must treat every callback as potentially
// re-entrant, duplicated, or late.
package radio

// PowerLevel is the radio transmit-power hint used for advertising, scanning
// and connection attempts.
type PowerLevel int

const (
	PowerLow PowerLevel = iota
	PowerMedium
	PowerHigh
)

func (p PowerLevel) String() string {
	switch p {
	case PowerLow:
		return "low"
	case PowerMedium:
		return "medium"
	case PowerHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Advertisement is the medium-level advertising payload: opaque service data
// keyed by service UUID, plus a transmit-power hint. At least one service-data
// entry is required to advertise.
type Advertisement struct {
	ServiceData map[string][]byte
	TxPower     PowerLevel
}

// Permission flags for a GATT characteristic.
type Permission uint8

const (
	PermissionRead Permission = 1 << iota
	PermissionWrite
)

// Property flags for a GATT characteristic.
type Property uint8

const (
	PropertyRead Property = 1 << iota
	PropertyWrite
	PropertyIndicate
)

// CharacteristicValue is one (characteristic, value) pair delivered by a GATT
// discovery, along with the property flags the remote descriptor declared.
// UUIDs are in normalized form (lowercase, dashless, short where possible).
type CharacteristicValue struct {
	ServiceUUID        string
	CharacteristicUUID string
	Value              []byte
	Properties         Property
}

// Conn is the platform "connection" object behind one logical link to a remote
// peer. Writes are asynchronous: the platform invokes done exactly once per
// Write with the delivery outcome, though buggy stacks have been observed to
// invoke it more than once, so callers guard completions with a one-shot.
// Received bytes and link severance arrive via the registered handlers, on
// arbitrary goroutines.
type Conn interface {
	// Write queues p for delivery and invokes done with the outcome once the
	// platform confirms delivery or failure of exactly that payload.
	Write(p []byte, done func(error))

	// SetReceiveHandler registers the sink for inbound bytes. Pass nil to
	// unregister; bytes arriving with no handler registered are dropped.
	SetReceiveHandler(h func(p []byte))

	// SetCloseHandler registers the callback fired when the platform severs
	// the link (remote close, interference, adapter reset).
	SetCloseHandler(h func())

	// Close releases the platform link. Idempotent.
	Close() error
}

// ScanHandler receives one scan-result delivery: the platform-assigned
// identifier of the remote peer and the service data it advertised for the
// scanned service UUID.
type ScanHandler func(peripheralID string, serviceData []byte)

// ConnectionHandler receives an inbound connection for the given service
// identifier. The handler owns conn and must close it if it cannot accept it.
type ConnectionHandler func(serviceID string, conn Conn)

// GattSession is a live central-role GATT link to one remote peripheral.
type GattSession interface {
	// Discover issues an asynchronous discovery for the given service and
	// characteristic set. The platform invokes result exactly once with every
	// (characteristic, value) pair it found, or with err on failure. There is
	// no mid-flight cancellation; callers bound the wait themselves.
	Discover(serviceUUID string, characteristicUUIDs []string, result func(values []CharacteristicValue, err error))

	// Disconnect releases the platform-level GATT connection.
	Disconnect()
}

// PeripheralRole is the advertiser/GATT-server side of the radio. A medium
// holds at most one live PeripheralRole at a time.
type PeripheralRole interface {
	// Advertise starts (or re-issues) advertising of the given service data.
	Advertise(serviceUUID string, serviceData []byte, power PowerLevel) error

	// StopAdvertising stops the active advertisement, if any.
	StopAdvertising() error

	// AddCharacteristic registers a characteristic on the hosted GATT service,
	// creating the service on first use.
	AddCharacteristic(serviceUUID, characteristicUUID string, perms Permission, props Property) error

	// UpdateCharacteristic pushes a new value for a registered characteristic
	// to connected readers.
	UpdateCharacteristic(serviceUUID, characteristicUUID string, value []byte) error

	// RemoveService tears down the hosted GATT service. Idempotent.
	RemoveService(serviceUUID string) error

	// SetConnectionHandler registers the sink for inbound connections.
	SetConnectionHandler(h ConnectionHandler)

	// Close releases the peripheral-role handle, stopping advertising and
	// tearing down hosted services.
	Close() error
}

// CentralRole is the scanner/GATT-client side of the radio. A medium holds at
// most one live CentralRole at a time.
type CentralRole interface {
	// StartScan begins scanning for the given service UUID. Every platform
	// scan-result delivery invokes h.
	StartScan(serviceUUID string, power PowerLevel, h ScanHandler) error

	// StopScan stops the active scan, if any.
	StopScan() error

	// ConnectGatt issues an asynchronous GATT-connect request for the remote
	// peer with the given platform identifier. The platform invokes result
	// exactly once with the session or an error.
	ConnectGatt(peripheralID string, power PowerLevel, result func(GattSession, error))

	// Close releases the central-role handle, stopping any active scan.
	Close() error
}
