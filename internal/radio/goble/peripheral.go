package goble

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/groutine"
	"github.com/srg/bleprox/internal/radio"
)

// PeripheralRole implements radio.PeripheralRole over go-ble: service-data
// advertising, a hosted GATT database, and inbound data-pipe connections.
//
// A characteristic that is both writable and indicatable is a data pipe: the
// first central write on it synthesizes a radio.Conn handed to the connection
// handler, and its indication channel carries the peripheral-to-central
// direction. Read-only characteristics serve their stored value.
type PeripheralRole struct {
	logger *logrus.Logger

	mu          sync.Mutex
	dev         ble.Device
	services    map[string]*hostedService
	advCancel   context.CancelFunc
	connHandler radio.ConnectionHandler
	conns       map[string]*serverConn
	closed      bool
}

type hostedService struct {
	bleSvc *ble.Service
	chars  map[string]*hostedCharacteristic
}

type hostedCharacteristic struct {
	bleChar *ble.Characteristic
	perms   radio.Permission
	props   radio.Property

	mu      sync.Mutex
	value   []byte
	updates chan []byte
}

// NewPeripheralRole acquires the shared BLE device and returns a peripheral
// role.
func NewPeripheralRole() (radio.PeripheralRole, error) {
	dev, err := sharedDevice()
	if err != nil {
		return nil, err
	}
	return &PeripheralRole{
		logger:   logrus.StandardLogger(),
		dev:      dev,
		services: make(map[string]*hostedService),
		conns:    make(map[string]*serverConn),
	}, nil
}

// AddCharacteristic registers a characteristic on the hosted GATT database,
// creating the service on first use, and re-syncs the database with the
// platform stack.
func (p *PeripheralRole) AddCharacteristic(serviceUUID, characteristicUUID string, perms radio.Permission, props radio.Property) error {
	svcUUID := radio.NormalizeUUID(serviceUUID)
	charUUID := radio.NormalizeUUID(characteristicUUID)

	bleSvcUUID, err := ble.Parse(svcUUID)
	if err != nil {
		return radio.NormalizeError(err)
	}
	bleCharUUID, err := ble.Parse(charUUID)
	if err != nil {
		return radio.NormalizeError(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return radio.ErrClosed
	}

	svc, ok := p.services[svcUUID]
	if !ok {
		svc = &hostedService{
			bleSvc: ble.NewService(bleSvcUUID),
			chars:  make(map[string]*hostedCharacteristic),
		}
		p.services[svcUUID] = svc
	}
	if _, exists := svc.chars[charUUID]; exists {
		return nil
	}

	char := &hostedCharacteristic{
		bleChar: ble.NewCharacteristic(bleCharUUID),
		perms:   perms,
		props:   props,
		updates: make(chan []byte, 1),
	}
	svc.chars[charUUID] = char
	svc.bleSvc.AddCharacteristic(char.bleChar)

	if props&radio.PropertyRead != 0 {
		char.bleChar.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			char.mu.Lock()
			value := char.value
			char.mu.Unlock()
			if _, err := rsp.Write(value); err != nil {
				p.logger.WithFields(logrus.Fields{
					"charUUID": charUUID,
					"error":    err,
				}).Warn("Failed to serve characteristic read")
			}
		}))
	}
	if perms&radio.PermissionWrite != 0 {
		char.bleChar.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			p.centralWrote(svcUUID, req.Conn().RemoteAddr().String(), req.Data())
		}))
	}
	if props&radio.PropertyIndicate != 0 {
		if perms&radio.PermissionWrite != 0 {
			// Data pipe: the indication channel belongs to the central's
			// synthesized connection.
			char.bleChar.HandleIndicate(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
				p.attachNotifier(svcUUID, req.Conn().RemoteAddr().String(), n)
				<-n.Context().Done()
				p.detachNotifier(req.Conn().RemoteAddr().String())
			}))
		} else {
			char.bleChar.HandleIndicate(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
				for {
					select {
					case <-n.Context().Done():
						return
					case value := <-char.updates:
						if _, err := n.Write(value); err != nil {
							return
						}
					}
				}
			}))
		}
	}

	return p.syncServicesLocked()
}

// syncServicesLocked re-registers the hosted services with the platform
// stack. Caller must hold p.mu.
func (p *PeripheralRole) syncServicesLocked() error {
	if err := p.dev.RemoveAllServices(); err != nil {
		return radio.NormalizeError(err)
	}
	for _, svc := range p.services {
		if err := p.dev.AddService(svc.bleSvc); err != nil {
			return radio.NormalizeError(err)
		}
	}
	return nil
}

// UpdateCharacteristic stores a new value and offers it to the indication
// loop, dropping the previous undelivered value if the reader is slow.
func (p *PeripheralRole) UpdateCharacteristic(serviceUUID, characteristicUUID string, value []byte) error {
	svcUUID := radio.NormalizeUUID(serviceUUID)
	charUUID := radio.NormalizeUUID(characteristicUUID)

	p.mu.Lock()
	svc, ok := p.services[svcUUID]
	if !ok {
		p.mu.Unlock()
		return radio.ErrNotConnected
	}
	char, ok := svc.chars[charUUID]
	p.mu.Unlock()
	if !ok {
		return radio.ErrNotConnected
	}

	buf := make([]byte, len(value))
	copy(buf, value)

	char.mu.Lock()
	char.value = buf
	char.mu.Unlock()

	select {
	case char.updates <- buf:
	default:
		select {
		case <-char.updates:
		default:
		}
		select {
		case char.updates <- buf:
		default:
		}
	}
	return nil
}

// RemoveService drops a hosted service and re-syncs the database.
func (p *PeripheralRole) RemoveService(serviceUUID string) error {
	svcUUID := radio.NormalizeUUID(serviceUUID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.services[svcUUID]; !ok {
		return nil
	}
	delete(p.services, svcUUID)
	return p.syncServicesLocked()
}

// Advertise starts advertising service data for the given UUID, replacing
// any active advertisement. 16-bit UUIDs go out as service data; longer
// UUIDs fall back to a name-and-services advertisement.
func (p *PeripheralRole) Advertise(serviceUUID string, serviceData []byte, power radio.PowerLevel) error {
	svcUUID := radio.NormalizeUUID(serviceUUID)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return radio.ErrClosed
	}
	if p.advCancel != nil {
		p.advCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.advCancel = cancel
	dev := p.dev
	p.mu.Unlock()

	data := make([]byte, len(serviceData))
	copy(data, serviceData)

	groutine.Go(ctx, "ble-advertise", func(ctx context.Context) {
		var err error
		if id, parseErr := strconv.ParseUint(svcUUID, 16, 16); parseErr == nil {
			err = dev.AdvertiseServiceData16(ctx, uint16(id), data)
		} else {
			uuid, uuidErr := ble.Parse(svcUUID)
			if uuidErr != nil {
				p.logger.WithFields(logrus.Fields{
					"serviceUUID": svcUUID,
					"error":       uuidErr,
				}).Error("Cannot advertise malformed service UUID")
				return
			}
			err = dev.AdvertiseNameAndServices(ctx, "", uuid)
		}
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			p.logger.WithFields(logrus.Fields{
				"serviceUUID": svcUUID,
				"error":       err,
			}).Error("Advertising terminated")
		}
	})

	p.logger.WithFields(logrus.Fields{
		"serviceUUID": svcUUID,
		"bytes":       len(data),
		"power":       power,
	}).Info("BLE advertising started")
	return nil
}

// StopAdvertising cancels the active advertisement, if any.
func (p *PeripheralRole) StopAdvertising() error {
	p.mu.Lock()
	cancel := p.advCancel
	p.advCancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// SetConnectionHandler installs the sink for synthesized inbound connections.
func (p *PeripheralRole) SetConnectionHandler(h radio.ConnectionHandler) {
	p.mu.Lock()
	p.connHandler = h
	p.mu.Unlock()
}

// centralWrote routes a central's write on a data-pipe characteristic to the
// connection synthesized for that central, creating it on the first write.
func (p *PeripheralRole) centralWrote(serviceUUID, centralAddr string, data []byte) {
	p.mu.Lock()
	conn, ok := p.conns[centralAddr]
	var handler radio.ConnectionHandler
	if !ok {
		conn = newServerConn(centralAddr, p.logger)
		p.conns[centralAddr] = conn
		handler = p.connHandler
	}
	p.mu.Unlock()

	if handler != nil {
		groutine.Go(context.Background(), "ble-inbound-conn", func(context.Context) {
			handler(serviceUUID, conn)
		})
	} else if !ok {
		p.logger.WithFields(logrus.Fields{
			"serviceUUID": serviceUUID,
			"central":     centralAddr,
		}).Warn("Inbound data with no connection handler installed")
	}

	conn.deliver(data)
}

func (p *PeripheralRole) attachNotifier(serviceUUID, centralAddr string, n ble.Notifier) {
	p.mu.Lock()
	conn, ok := p.conns[centralAddr]
	var handler radio.ConnectionHandler
	if !ok {
		// Central subscribed before writing; the subscription itself opens
		// the connection.
		conn = newServerConn(centralAddr, p.logger)
		p.conns[centralAddr] = conn
		handler = p.connHandler
	}
	p.mu.Unlock()

	conn.setNotifier(n)

	if handler != nil {
		groutine.Go(context.Background(), "ble-inbound-conn", func(context.Context) {
			handler(serviceUUID, conn)
		})
	}
}

func (p *PeripheralRole) detachNotifier(centralAddr string) {
	p.mu.Lock()
	conn, ok := p.conns[centralAddr]
	if ok {
		delete(p.conns, centralAddr)
	}
	p.mu.Unlock()

	if ok {
		conn.severed()
	}
}

// Close stops advertising, severs synthesized connections, and drops the
// hosted services. The shared device stays up for other roles.
func (p *PeripheralRole) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.advCancel
	p.advCancel = nil
	conns := make([]*serverConn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*serverConn)
	p.services = make(map[string]*hostedService)
	dev := p.dev
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, c := range conns {
		c.severed()
	}
	if err := dev.RemoveAllServices(); err != nil {
		p.logger.WithField("error", err).Warn("Failed to remove hosted services")
	}
	return nil
}

// serverConn is the peripheral-side radio.Conn for one central: inbound
// bytes are the central's characteristic writes, outbound bytes go out as
// chunked indications.
type serverConn struct {
	centralAddr string
	logger      *logrus.Logger

	writeMu sync.Mutex

	// deliverMu serializes handler invocation with the pending-buffer flush
	// in SetReceiveHandler; without it a delivery racing the flush could hand
	// newer bytes to the handler before the buffered backlog.
	deliverMu sync.Mutex

	mu       sync.Mutex
	notifier ble.Notifier
	receiveH func([]byte)
	closeH   func()
	pending  [][]byte
	closed   bool
}

func newServerConn(centralAddr string, logger *logrus.Logger) *serverConn {
	return &serverConn{centralAddr: centralAddr, logger: logger}
}

func (s *serverConn) Write(p []byte, done func(error)) {
	buf := make([]byte, len(p))
	copy(buf, p)

	groutine.Go(context.Background(), "ble-conn-write", func(context.Context) {
		s.mu.Lock()
		n := s.notifier
		closed := s.closed
		s.mu.Unlock()

		if closed {
			done(radio.ErrClosed)
			return
		}
		if n == nil {
			done(radio.ErrNotConnected)
			return
		}

		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		for len(buf) > 0 {
			chunk := len(buf)
			if chunk > WriteChunkSize {
				chunk = WriteChunkSize
			}
			if _, err := n.Write(buf[:chunk]); err != nil {
				done(radio.NormalizeError(err))
				return
			}
			buf = buf[chunk:]
			if len(buf) > 0 {
				sleepChunkDelay()
			}
		}
		done(nil)
	})
}

func (s *serverConn) deliver(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	h := s.receiveH
	if h == nil {
		s.pending = append(s.pending, buf)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	h(buf)
}

func (s *serverConn) setNotifier(n ble.Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *serverConn) SetReceiveHandler(h func(p []byte)) {
	// Holding deliverMu across install and flush keeps concurrent deliveries
	// behind the buffered backlog.
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.receiveH = h
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if h == nil {
		return
	}
	for _, p := range pending {
		h(p)
	}
}

func (s *serverConn) SetCloseHandler(h func()) {
	s.mu.Lock()
	s.closeH = h
	s.mu.Unlock()
}

func (s *serverConn) severed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	h := s.closeH
	s.mu.Unlock()

	if h != nil {
		h()
	}
}

func (s *serverConn) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	n := s.notifier
	s.notifier = nil
	s.mu.Unlock()

	if n != nil {
		if err := n.Close(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"central": s.centralAddr,
				"error":   err,
			}).Debug("Failed to close notifier")
		}
	}
	return nil
}
