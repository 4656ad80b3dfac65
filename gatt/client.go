package gatt

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/radio"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultDiscoveryTimeout bounds how long a discovery round waits for the
// platform callback before reporting failure.
const DefaultDiscoveryTimeout = 30 * time.Second

// Client drives GATT discovery against a connected remote server and caches
// the discovered characteristic values for synchronous reads. A fresh cache
// replaces the previous one on every discovery round, so stale values from an
// earlier round never survive a rediscovery.
type Client struct {
	// DiscoveryTimeout bounds each discovery round. Tests shorten it; leave
	// it alone otherwise.
	DiscoveryTimeout time.Duration

	session radio.GattSession
	logger  *logrus.Logger

	mu     sync.Mutex
	values *orderedmap.OrderedMap[Key, cachedCharacteristic]
}

// cachedCharacteristic is one discovery result: the value read during the
// round and the property flags the remote descriptor declared.
type cachedCharacteristic struct {
	value []byte
	props radio.Property
}

// NewClient creates a GATT client over an established session.
func NewClient(session radio.GattSession, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		session:          session,
		logger:           logger,
		values:           orderedmap.New[Key, cachedCharacteristic](),
	}
}

// DiscoverServiceAndCharacteristics discovers the given characteristics under
// one service and caches their values in discovery order. Only the requested
// characteristic UUIDs are cached; anything else the platform reports is
// ignored. Returns true when at least the requested discovery completed and
// produced values, false on platform failure or timeout. The outcome is
// deliberately coarse; callers that need details must rediscover.
func (c *Client) DiscoverServiceAndCharacteristics(serviceUUID string, characteristicUUIDs []string) bool {
	svc := radio.NormalizeUUID(serviceUUID)
	chars := radio.NormalizeUUIDs(characteristicUUIDs)

	requested := make(map[string]struct{}, len(chars))
	for _, u := range chars {
		requested[u] = struct{}{}
	}

	// Drop the previous round's values before the platform call so a failed
	// rediscovery cannot leave a stale cache behind.
	fresh := orderedmap.New[Key, cachedCharacteristic]()
	c.mu.Lock()
	c.values = fresh
	c.mu.Unlock()

	done := make(chan []radio.CharacteristicValue, 1)
	var once sync.Once
	c.session.Discover(svc, chars, func(values []radio.CharacteristicValue, err error) {
		once.Do(func() {
			if err != nil {
				c.logger.WithFields(logrus.Fields{
					"serviceUUID": svc,
					"error":       err,
				}).Error("GATT discovery failed")
				done <- nil
				return
			}
			done <- values
		})
	})

	var values []radio.CharacteristicValue
	select {
	case values = <-done:
	case <-time.After(c.DiscoveryTimeout):
		c.logger.WithFields(logrus.Fields{
			"serviceUUID": svc,
			"timeout":     c.DiscoveryTimeout,
		}).Warn("GATT discovery timed out")
		return false
	}

	cached := 0
	c.mu.Lock()
	for _, v := range values {
		key := Key{
			ServiceUUID:        radio.NormalizeUUID(v.ServiceUUID),
			CharacteristicUUID: radio.NormalizeUUID(v.CharacteristicUUID),
		}
		if key.ServiceUUID != svc {
			continue
		}
		if _, ok := requested[key.CharacteristicUUID]; !ok {
			continue
		}
		buf := make([]byte, len(v.Value))
		copy(buf, v.Value)
		c.values.Set(key, cachedCharacteristic{value: buf, props: v.Properties})
		cached++
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"serviceUUID": svc,
		"requested":   len(chars),
		"cached":      cached,
	}).Debug("GATT discovery completed")
	return cached > 0
}

// GetCharacteristic returns the descriptor for a previously discovered
// characteristic, or false if the last discovery round did not produce it.
func (c *Client) GetCharacteristic(serviceUUID, characteristicUUID string) (Characteristic, bool) {
	key := Key{
		ServiceUUID:        radio.NormalizeUUID(serviceUUID),
		CharacteristicUUID: radio.NormalizeUUID(characteristicUUID),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values.Get(key)
	if !ok {
		return Characteristic{}, false
	}
	return Characteristic{
		ServiceUUID:        key.ServiceUUID,
		CharacteristicUUID: key.CharacteristicUUID,
		Properties:         v.props,
	}, true
}

// ReadCharacteristic returns the cached value for a discovered characteristic.
// Reads are served from the last discovery round; they never hit the radio.
func (c *Client) ReadCharacteristic(char Characteristic) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values.Get(char.Key())
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v.value))
	copy(out, v.value)
	return out, true
}

// WriteCharacteristic always fails. Central-side characteristic writes are
// not implemented on any supported platform; sockets are the write path.
func (c *Client) WriteCharacteristic(char Characteristic, value []byte) error {
	c.logger.WithFields(logrus.Fields{
		"serviceUUID": char.ServiceUUID,
		"charUUID":    char.CharacteristicUUID,
	}).Warn("WriteCharacteristic is not supported")
	return radio.ErrUnsupported
}

// Disconnect tears down the underlying session. The value cache stays
// readable so in-flight consumers can finish.
func (c *Client) Disconnect() {
	c.session.Disconnect()
}
