package gatt

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/radio"
)

// Server exposes characteristics on the hosted GATT service for connected
// remote readers. It is bound to the medium's peripheral-role handle.
type Server struct {
	mu       sync.Mutex
	role     radio.PeripheralRole
	services map[string]struct{}
	stopped  bool
	logger   *logrus.Logger
}

// NewServer creates a GATT server bound to the given peripheral-role handle.
func NewServer(role radio.PeripheralRole, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		role:     role,
		services: make(map[string]struct{}),
		logger:   logger,
	}
}

// CreateCharacteristic registers a new characteristic on the hosted GATT
// service, creating the service on first use. Returns the characteristic
// descriptor, or an error on platform failure.
func (s *Server) CreateCharacteristic(serviceUUID, characteristicUUID string, perms radio.Permission, props radio.Property) (Characteristic, error) {
	svc := radio.NormalizeUUID(serviceUUID)
	char := radio.NormalizeUUID(characteristicUUID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.role.AddCharacteristic(svc, char, perms, props); err != nil {
		s.logger.WithFields(logrus.Fields{
			"serviceUUID": svc,
			"charUUID":    char,
			"error":       err,
		}).Error("Failed to register GATT characteristic")
		return Characteristic{}, radio.NormalizeError(err)
	}
	s.services[svc] = struct{}{}

	s.logger.WithFields(logrus.Fields{
		"serviceUUID": svc,
		"charUUID":    char,
	}).Debug("Registered GATT characteristic")

	return Characteristic{
		ServiceUUID:        svc,
		CharacteristicUUID: char,
		Permissions:        perms,
		Properties:         props,
	}, nil
}

// UpdateCharacteristic pushes a new value for an existing characteristic to
// the platform stack for delivery to connected readers.
func (s *Server) UpdateCharacteristic(c Characteristic, value []byte) error {
	key := c.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.role.UpdateCharacteristic(key.ServiceUUID, key.CharacteristicUUID, value); err != nil {
		s.logger.WithFields(logrus.Fields{
			"serviceUUID": key.ServiceUUID,
			"charUUID":    key.CharacteristicUUID,
			"error":       err,
		}).Error("Failed to update GATT characteristic value")
		return radio.NormalizeError(err)
	}
	return nil
}

// Stop tears down every service this server created. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	for svc := range s.services {
		if err := s.role.RemoveService(svc); err != nil {
			s.logger.WithFields(logrus.Fields{
				"serviceUUID": svc,
				"error":       err,
			}).Warn("Failed to remove GATT service during stop")
		}
	}
	s.services = make(map[string]struct{})
}
