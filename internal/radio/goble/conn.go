package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/groutine"
	"github.com/srg/bleprox/internal/radio"
)

// clientConn is the central-side radio.Conn over one data-pipe
// characteristic: outbound bytes are chunked characteristic writes, inbound
// bytes arrive as indications.
type clientConn struct {
	client ble.Client
	char   *ble.Characteristic
	logger *logrus.Logger

	writeMu sync.Mutex

	// deliverMu serializes handler invocation with the pending-buffer flush
	// in SetReceiveHandler; without it a delivery racing the flush could hand
	// newer bytes to the handler before the buffered backlog.
	deliverMu sync.Mutex

	mu       sync.Mutex
	receiveH func([]byte)
	closeH   func()
	pending  [][]byte
	closed   bool
}

// Dial connects to a peripheral's data-pipe characteristic and returns a
// radio.Conn over it. The pipe characteristic must support write and
// indicate.
func Dial(ctx context.Context, peripheralID, serviceUUID, pipeCharUUID string, logger *logrus.Logger) (radio.Conn, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	svc := radio.NormalizeUUID(serviceUUID)
	pipe := radio.NormalizeUUID(pipeCharUUID)

	if _, err := sharedDevice(); err != nil {
		return nil, err
	}

	client, err := ble.Dial(ctx, ble.NewAddr(peripheralID))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peripheralID, radio.NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			logger.WithField("error", cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return nil, fmt.Errorf("discover profile on %s: %w", peripheralID, radio.NormalizeError(err))
	}

	var bleChar *ble.Characteristic
	for _, bleSvc := range profile.Services {
		if radio.NormalizeUUID(bleSvc.UUID.String()) != svc {
			continue
		}
		for _, c := range bleSvc.Characteristics {
			if radio.NormalizeUUID(c.UUID.String()) == pipe {
				bleChar = c
				break
			}
		}
	}
	if bleChar == nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			logger.WithField("error", cancelErr).Warn("Failed to cancel connection after missing pipe")
		}
		return nil, fmt.Errorf("pipe characteristic %s/%s not found on %s: %w",
			svc, pipe, peripheralID, radio.ErrNotConnected)
	}

	conn := &clientConn{client: client, char: bleChar, logger: logger}

	if err := client.Subscribe(bleChar, true, conn.deliver); err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			logger.WithField("error", cancelErr).Warn("Failed to cancel connection after subscribe failure")
		}
		return nil, fmt.Errorf("subscribe to pipe %s/%s: %w", svc, pipe, radio.NormalizeError(err))
	}

	groutine.Go(context.Background(), "ble-conn-monitor", func(context.Context) {
		<-client.Disconnected()
		conn.severed()
	})

	return conn, nil
}

func (c *clientConn) Write(p []byte, done func(error)) {
	buf := make([]byte, len(p))
	copy(buf, p)

	groutine.Go(context.Background(), "ble-conn-write", func(context.Context) {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			done(radio.ErrClosed)
			return
		}
		done(c.writeChunked(buf))
	})
}

func (c *clientConn) writeChunked(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for len(p) > 0 {
		n := len(p)
		if n > WriteChunkSize {
			n = WriteChunkSize
		}
		if err := c.client.WriteCharacteristic(c.char, p[:n], false); err != nil {
			return radio.NormalizeError(err)
		}
		p = p[n:]
		if len(p) > 0 {
			sleepChunkDelay()
		}
	}
	return nil
}

// deliver routes an indication into the receive handler; indications that
// arrive before the handler is installed are buffered.
func (c *clientConn) deliver(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	h := c.receiveH
	if h == nil {
		c.pending = append(c.pending, buf)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h(buf)
}

func (c *clientConn) SetReceiveHandler(h func(p []byte)) {
	// Holding deliverMu across install and flush keeps concurrent deliveries
	// behind the buffered backlog.
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.receiveH = h
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if h == nil {
		return
	}
	for _, p := range pending {
		h(p)
	}
}

func (c *clientConn) SetCloseHandler(h func()) {
	c.mu.Lock()
	c.closeH = h
	c.mu.Unlock()
}

// severed handles platform-side link loss.
func (c *clientConn) severed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	h := c.closeH
	c.mu.Unlock()

	if h != nil {
		h()
	}
}

func (c *clientConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.client.Unsubscribe(c.char, true); err != nil {
		c.logger.WithField("error", err).Debug("Failed to unsubscribe pipe characteristic")
	}
	return radio.NormalizeError(c.client.CancelConnection())
}
