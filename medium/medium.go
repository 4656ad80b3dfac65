// Package medium is the façade over one BLE radio: advertising and scanning
// control, the listening-socket registry, outbound connection establishment,
// and the GATT server/client factories. Platform callbacks arrive on arbitrary
// goroutines; every blocking operation here bridges them back to synchronous
// returns.
package medium

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/gatt"
	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/internal/radio/goble"
	"github.com/srg/bleprox/stream"
)

// DefaultConnectTimeout bounds the GATT connect rendezvous.
const DefaultConnectTimeout = 30 * time.Second

// ScanCallback receives discovery events. AdvertisementFound is invoked on a
// platform delivery goroutine; implementations must not block for long.
type ScanCallback struct {
	AdvertisementFound func(peripheral *radio.Peripheral, advertisement radio.Advertisement)
}

// ConnectionRequester is the capability registered per service identifier
// that actively opens a logical channel to a remote peer once a lower-level
// link exists. The requester owns invoking result exactly once, with either a
// live connection or an error.
type ConnectionRequester func(peripheral *radio.Peripheral, power radio.PowerLevel, result func(radio.Conn, error))

// Medium coordinates one BLE transport instance. It holds at most one active
// peripheral-role handle (advertiser/GATT host) and one central-role handle
// (scanner/GATT client) at a time.
type Medium struct {
	// ConnectTimeout bounds ConnectToGattServer. Tests shorten it.
	ConnectTimeout time.Duration

	// Role factories, overridable in tests. Defaults build the go-ble adapter.
	NewPeripheralRole func() (radio.PeripheralRole, error)
	NewCentralRole    func() (radio.CentralRole, error)

	logger *logrus.Logger

	mu          sync.Mutex
	peripheral  radio.PeripheralRole
	central     radio.CentralRole
	advertising bool
	scanning    bool
	closed      bool

	listeners   *hashmap.Map[string, *stream.ServerSocket]
	requesters  *hashmap.Map[string, ConnectionRequester]
	peripherals *hashmap.Map[string, *radio.Peripheral]
}

// New creates a medium. A nil logger gets a default logrus logger.
func New(logger *logrus.Logger) *Medium {
	if logger == nil {
		logger = logrus.New()
	}
	return &Medium{
		ConnectTimeout:    DefaultConnectTimeout,
		NewPeripheralRole: goble.NewPeripheralRole,
		NewCentralRole:    goble.NewCentralRole,
		logger:            logger,
		listeners:         hashmap.New[string, *stream.ServerSocket](),
		requesters:        hashmap.New[string, ConnectionRequester](),
		peripherals:       hashmap.New[string, *radio.Peripheral](),
	}
}

// ensurePeripheralRole lazily creates the peripheral-role handle and wires the
// inbound-connection handler. Caller must hold m.mu.
func (m *Medium) ensurePeripheralRole() (radio.PeripheralRole, error) {
	if m.closed {
		return nil, radio.ErrClosed
	}
	if m.peripheral != nil {
		return m.peripheral, nil
	}
	role, err := m.NewPeripheralRole()
	if err != nil {
		return nil, fmt.Errorf("create peripheral role: %w", radio.NormalizeError(err))
	}
	role.SetConnectionHandler(m.handleInboundConnection)
	m.peripheral = role
	return role, nil
}

// ensureCentralRole lazily creates the central-role handle. Caller must hold
// m.mu.
func (m *Medium) ensureCentralRole() (radio.CentralRole, error) {
	if m.closed {
		return nil, radio.ErrClosed
	}
	if m.central != nil {
		return m.central, nil
	}
	role, err := m.NewCentralRole()
	if err != nil {
		return nil, fmt.Errorf("create central role: %w", radio.NormalizeError(err))
	}
	m.central = role
	return role, nil
}

// handleInboundConnection routes a platform connection to the listener
// registered for its service identifier. A connection nobody listens for, or
// one refused by a closing listener, is closed on the spot.
func (m *Medium) handleInboundConnection(serviceID string, conn radio.Conn) {
	sock := stream.NewSocket(conn, m.logger)

	listener, ok := m.listeners.Get(serviceID)
	if !ok {
		m.logger.WithField("serviceID", serviceID).
			Warn("Inbound connection for unknown service, closing")
		sock.Close()
		return
	}
	if err := listener.Enqueue(sock); err != nil {
		m.logger.WithFields(logrus.Fields{
			"serviceID": serviceID,
			"error":     err,
		}).Warn("Listener refused inbound connection, closing")
		sock.Close()
	}
}

// StartAdvertising begins advertising the first service-data entry of the
// advertisement, ordered by UUID so the choice is stable. An advertisement
// with no service data is rejected before any platform call. Re-advertising
// while active re-issues the call on the same handle.
func (m *Medium) StartAdvertising(id string, advertisement radio.Advertisement, opts AdvertiseOptions) error {
	if len(advertisement.ServiceData) == 0 {
		return fmt.Errorf("advertisement %q: %w", id, radio.ErrNoServiceData)
	}

	uuids := make([]string, 0, len(advertisement.ServiceData))
	for u := range advertisement.ServiceData {
		uuids = append(uuids, radio.NormalizeUUID(u))
	}
	sort.Strings(uuids)
	first := uuids[0]

	var data []byte
	for u, d := range advertisement.ServiceData {
		if radio.NormalizeUUID(u) == first {
			data = d
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	role, err := m.ensurePeripheralRole()
	if err != nil {
		return err
	}
	if err := role.Advertise(first, data, advertisement.TxPower); err != nil {
		return fmt.Errorf("start advertising %q: %w", id, radio.NormalizeError(err))
	}
	m.advertising = true

	m.logger.WithFields(logrus.Fields{
		"id":          id,
		"serviceUUID": first,
		"bytes":       len(data),
		"power":       advertisement.TxPower,
	}).Info("Advertising started")
	return nil
}

// StopAdvertising releases the peripheral-role handle unconditionally; a
// single active advertiser is assumed, so the id is not consulted.
func (m *Medium) StopAdvertising(id string) error {
	m.mu.Lock()
	role := m.peripheral
	m.peripheral = nil
	m.advertising = false
	m.mu.Unlock()

	if role == nil {
		return nil
	}
	if err := role.StopAdvertising(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to stop advertising")
	}
	if err := role.Close(); err != nil {
		return fmt.Errorf("release advertiser: %w", radio.NormalizeError(err))
	}
	m.logger.WithField("id", id).Info("Advertising stopped")
	return nil
}

// StartScanning begins scanning for the given service UUID. Every platform
// scan result synthesizes an Advertisement keyed by that UUID and invokes the
// callback with a reused, mutable peripheral handle whose identifier is
// refreshed on each delivery.
func (m *Medium) StartScanning(serviceUUID string, power radio.PowerLevel, cb ScanCallback) error {
	svc := radio.NormalizeUUID(serviceUUID)

	m.mu.Lock()
	role, err := m.ensureCentralRole()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.scanning = true
	m.mu.Unlock()

	handler := func(peripheralID string, serviceData []byte) {
		peripheral, _ := m.peripherals.GetOrInsert(peripheralID, radio.NewPeripheral(peripheralID))
		peripheral.SetID(peripheralID)

		if cb.AdvertisementFound == nil {
			return
		}
		cb.AdvertisementFound(peripheral, radio.Advertisement{
			ServiceData: map[string][]byte{svc: serviceData},
			TxPower:     power,
		})
	}

	if err := role.StartScan(svc, power, handler); err != nil {
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
		return fmt.Errorf("start scanning %q: %w", svc, radio.NormalizeError(err))
	}

	m.logger.WithFields(logrus.Fields{
		"serviceUUID": svc,
		"power":       power,
	}).Info("Scanning started")
	return nil
}

// StopScanning releases the central-role handle.
func (m *Medium) StopScanning() error {
	m.mu.Lock()
	role := m.central
	m.central = nil
	m.scanning = false
	m.mu.Unlock()

	if role == nil {
		return nil
	}
	if err := role.StopScan(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to stop scan")
	}
	if err := role.Close(); err != nil {
		return fmt.Errorf("release scanner: %w", radio.NormalizeError(err))
	}
	m.logger.Info("Scanning stopped")
	return nil
}

// StartGattServer lazily creates the peripheral-role handle and returns a
// fresh GATT server bound to it.
func (m *Medium) StartGattServer() (*gatt.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	role, err := m.ensurePeripheralRole()
	if err != nil {
		return nil, err
	}
	return gatt.NewServer(role, m.logger), nil
}

// ConnectToGattServer issues a platform GATT connect for the peripheral and
// blocks up to ConnectTimeout for the outcome. Timeout and platform failure
// both yield a nil client; the distinction is deliberately not surfaced.
func (m *Medium) ConnectToGattServer(peripheral *radio.Peripheral, power radio.PowerLevel) (*gatt.Client, error) {
	m.mu.Lock()
	role, err := m.ensureCentralRole()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	type outcome struct {
		session radio.GattSession
		err     error
	}
	done := make(chan outcome, 1)
	var once sync.Once
	role.ConnectGatt(peripheral.ID(), power, func(session radio.GattSession, err error) {
		once.Do(func() {
			done <- outcome{session, err}
		})
	})

	select {
	case out := <-done:
		if out.err != nil {
			m.logger.WithFields(logrus.Fields{
				"peripheralID": peripheral.ID(),
				"error":        out.err,
			}).Error("GATT connect failed")
			return nil, radio.NormalizeError(out.err)
		}
		return gatt.NewClient(out.session, m.logger), nil
	case <-time.After(m.ConnectTimeout):
		m.logger.WithFields(logrus.Fields{
			"peripheralID": peripheral.ID(),
			"timeout":      m.ConnectTimeout,
		}).Warn("GATT connect timed out")
		return nil, radio.ErrTimeout
	}
}

// OpenServerSocket creates a listening socket for the given service
// identifier and registers it with the medium. Closing the server socket
// removes the registration, so a closed listener never receives connections.
func (m *Medium) OpenServerSocket(serviceID string) (*stream.ServerSocket, error) {
	// Registered under m.mu so a concurrent Close either sees the listener or
	// rejects this call; a listener must never outlive the medium.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, radio.ErrClosed
	}
	ss := stream.NewServerSocket(m.logger)
	ss.SetCloseNotifier(func() {
		m.listeners.Del(serviceID)
	})
	if !m.listeners.Insert(serviceID, ss) {
		m.mu.Unlock()
		return nil, fmt.Errorf("listener for %q: %w", serviceID, radio.ErrAlreadyConnected)
	}
	m.mu.Unlock()

	m.logger.WithField("serviceID", serviceID).Info("Server socket opened")
	return ss, nil
}

// RegisterConnectionRequester installs the outbound-connect capability for a
// service identifier, replacing any previous one.
func (m *Medium) RegisterConnectionRequester(serviceID string, requester ConnectionRequester) {
	m.requesters.Set(serviceID, requester)
}

// UnregisterConnectionRequester removes the capability for a service
// identifier.
func (m *Medium) UnregisterConnectionRequester(serviceID string) {
	m.requesters.Del(serviceID)
}

// Connect opens an outbound socket to the peripheral for the given service
// identifier. Fails immediately on a closed medium, when no requester is
// registered, or when the context is already cancelled (the requester is then
// never invoked).
// Otherwise it blocks until the requester yields a connection or an error.
// Cancellation is checked once, before the request is issued; an in-flight
// request cannot be cancelled.
func (m *Medium) Connect(ctx context.Context, serviceID string, power radio.PowerLevel, peripheral *radio.Peripheral) (*stream.Socket, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, radio.ErrClosed
	}

	requester, ok := m.requesters.Get(serviceID)
	if !ok {
		return nil, fmt.Errorf("no connection requester for %q: %w", serviceID, radio.ErrRefused)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type outcome struct {
		conn radio.Conn
		err  error
	}
	done := make(chan outcome, 1)
	var once sync.Once
	requester(peripheral, power, func(conn radio.Conn, err error) {
		once.Do(func() {
			done <- outcome{conn, err}
		})
	})

	out := <-done
	if out.err != nil {
		m.logger.WithFields(logrus.Fields{
			"serviceID":    serviceID,
			"peripheralID": peripheral.ID(),
			"error":        out.err,
		}).Error("Outbound connect failed")
		return nil, radio.NormalizeError(out.err)
	}
	if out.conn == nil {
		return nil, fmt.Errorf("connect %q: %w", serviceID, radio.ErrNotConnected)
	}
	return stream.NewSocket(out.conn, m.logger), nil
}

// IsExtendedAdvertisementsAvailable reports platform support for BLE extended
// advertisements. The base adapter has none.
func (m *Medium) IsExtendedAdvertisementsAvailable() bool {
	return false
}

// IsAdvertising reports whether an advertisement is currently active.
func (m *Medium) IsAdvertising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advertising
}

// IsScanning reports whether a scan is currently active.
func (m *Medium) IsScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanning
}

// Close releases both role handles and closes every registered listener.
// Idempotent.
func (m *Medium) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	peripheral := m.peripheral
	central := m.central
	m.peripheral = nil
	m.central = nil
	m.advertising = false
	m.scanning = false
	m.mu.Unlock()

	m.listeners.Range(func(serviceID string, ss *stream.ServerSocket) bool {
		ss.Close()
		return true
	})

	var firstErr error
	if peripheral != nil {
		if err := peripheral.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if central != nil {
		if err := central.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
