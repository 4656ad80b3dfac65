package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/groutine"
	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/internal/ringchan"
)

type scanEvent struct {
	peripheralID string
	serviceData  []byte
}

// CentralRole implements radio.CentralRole over go-ble: scanning with a
// drop-oldest dispatcher and asynchronous GATT connects.
type CentralRole struct {
	logger *logrus.Logger

	mu         sync.Mutex
	scanCancel context.CancelFunc
	events     *ringchan.RingChannel[scanEvent]
	closed     bool
}

// NewCentralRole acquires the shared BLE device and returns a central role.
func NewCentralRole() (radio.CentralRole, error) {
	if _, err := sharedDevice(); err != nil {
		return nil, err
	}
	return &CentralRole{logger: logrus.StandardLogger()}, nil
}

// StartScan begins scanning for advertisements carrying service data for the
// given UUID. Scan results flow through a bounded drop-oldest ring so the
// platform callback never blocks on a slow handler.
func (c *CentralRole) StartScan(serviceUUID string, power radio.PowerLevel, h radio.ScanHandler) error {
	svc := radio.NormalizeUUID(serviceUUID)

	dev, err := sharedDevice()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return radio.ErrClosed
	}
	if c.scanCancel != nil {
		c.mu.Unlock()
		return radio.ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(context.Background())
	events := ringchan.New[scanEvent](scanEventBuffer)
	c.scanCancel = cancel
	c.events = events
	c.mu.Unlock()

	groutine.Go(ctx, "ble-scan-dispatch", func(context.Context) {
		for ev := range events.C() {
			h(ev.peripheralID, ev.serviceData)
		}
	})

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, true, func(a ble.Advertisement) {
			for _, sd := range a.ServiceData() {
				if radio.NormalizeUUID(sd.UUID.String()) != svc {
					continue
				}
				events.ForceSend(scanEvent{
					peripheralID: a.Addr().String(),
					serviceData:  sd.Data,
				})
				return
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.logger.WithFields(logrus.Fields{
				"serviceUUID": svc,
				"error":       err,
			}).Error("BLE scan terminated")
		}
	})

	c.logger.WithFields(logrus.Fields{
		"serviceUUID": svc,
		"power":       power,
	}).Info("BLE scan started")
	return nil
}

// StopScan cancels the scan and drains the dispatcher.
func (c *CentralRole) StopScan() error {
	c.mu.Lock()
	cancel := c.scanCancel
	events := c.events
	c.scanCancel = nil
	c.events = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if events != nil {
		events.Close()
	}
	return nil
}

// ConnectGatt dials the peripheral asynchronously and reports the session or
// failure through result on a background goroutine.
func (c *CentralRole) ConnectGatt(peripheralID string, power radio.PowerLevel, result func(radio.GattSession, error)) {
	groutine.Go(context.Background(), "ble-gatt-connect", func(context.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		client, err := ble.Dial(ctx, ble.NewAddr(peripheralID))
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"peripheralID": peripheralID,
				"error":        err,
			}).Error("Failed to dial BLE peripheral")
			result(nil, radio.NormalizeError(err))
			return
		}
		result(&gattSession{client: client, logger: c.logger}, nil)
	})
}

// Close releases the role. The shared device stays up for other roles.
func (c *CentralRole) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.StopScan()
}

// gattSession wraps one dialed ble.Client.
type gattSession struct {
	client ble.Client
	logger *logrus.Logger
}

// Discover runs profile discovery and reads the requested characteristics,
// reporting the collected values asynchronously. Characteristics that fail to
// read are skipped; discovery itself failing surfaces as an error.
func (g *gattSession) Discover(serviceUUID string, characteristicUUIDs []string, result func([]radio.CharacteristicValue, error)) {
	svc := radio.NormalizeUUID(serviceUUID)
	requested := make(map[string]struct{}, len(characteristicUUIDs))
	for _, u := range radio.NormalizeUUIDs(characteristicUUIDs) {
		requested[u] = struct{}{}
	}

	groutine.Go(context.Background(), "ble-gatt-discover", func(context.Context) {
		profile, err := g.client.DiscoverProfile(true)
		if err != nil {
			g.logger.WithFields(logrus.Fields{
				"serviceUUID": svc,
				"error":       err,
			}).Error("Profile discovery failed")
			result(nil, radio.NormalizeError(err))
			return
		}

		var values []radio.CharacteristicValue
		for _, bleSvc := range profile.Services {
			if radio.NormalizeUUID(bleSvc.UUID.String()) != svc {
				continue
			}
			for _, bleChar := range bleSvc.Characteristics {
				charUUID := radio.NormalizeUUID(bleChar.UUID.String())
				if _, ok := requested[charUUID]; !ok {
					continue
				}
				data, err := g.client.ReadCharacteristic(bleChar)
				if err != nil {
					g.logger.WithFields(logrus.Fields{
						"serviceUUID": svc,
						"charUUID":    charUUID,
						"error":       err,
					}).Warn("Failed to read characteristic during discovery")
					continue
				}
				values = append(values, radio.CharacteristicValue{
					ServiceUUID:        svc,
					CharacteristicUUID: charUUID,
					Value:              data,
					Properties:         mapProperties(bleChar.Property),
				})
			}
		}
		result(values, nil)
	})
}

// mapProperties translates go-ble property flags to the radio taxonomy.
func mapProperties(p ble.Property) radio.Property {
	var out radio.Property
	if p&ble.CharRead != 0 {
		out |= radio.PropertyRead
	}
	if p&(ble.CharWrite|ble.CharWriteNR) != 0 {
		out |= radio.PropertyWrite
	}
	if p&ble.CharIndicate != 0 {
		out |= radio.PropertyIndicate
	}
	return out
}

// Disconnect releases the platform GATT link.
func (g *gattSession) Disconnect() {
	if err := g.client.CancelConnection(); err != nil {
		g.logger.WithField("error", err).Warn("Failed to cancel GATT connection")
	}
}
