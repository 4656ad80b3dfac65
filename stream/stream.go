// Package stream turns one platform radio connection into a blocking,
// socket-like byte-stream pair, plus the listening-side accept queue.
//
// The platform delivers inbound bytes and write completions on its own
// goroutines; this package bridges them into blocking Read/Write calls the
// way a caller would use any socket. Each object owns its own lock/condition
// pair; there is no package-wide lock.
package stream

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/radio"
)

// Unbounded is the maxBytes sentinel for InputStream.Read: return everything
// currently buffered.
const Unbounded = -1

// InputStream is the reading half of a socket. Bytes delivered by the platform
// are appended to an internal buffer in delivery order and consumed in FIFO
// byte order.
type InputStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
	logger *logrus.Logger
}

func newInputStream(logger *logrus.Logger) *InputStream {
	s := &InputStream{logger: logger}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Receive appends platform-delivered bytes to the buffer and wakes blocked
// readers. Late deliveries after Close are dropped; the handle is invalid by
// then and the bytes have nowhere to go.
func (s *InputStream) Receive(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.WithField("bytes", len(p)).Debug("Dropping bytes delivered to closed input stream")
		return
	}
	s.buf.Write(p)
	s.cond.Broadcast()
}

// Read blocks until at least one byte is buffered, then returns up to maxBytes
// bytes (everything buffered if maxBytes is Unbounded or non-positive). If the
// stream is closed, before or while blocked, Read returns radio.ErrClosed.
func (s *InputStream) Read(maxBytes int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.closed && s.buf.Len() == 0 {
		s.cond.Wait()
	}
	if s.closed {
		return nil, radio.ErrClosed
	}

	n := s.buf.Len()
	if maxBytes > 0 && maxBytes < n {
		n = maxBytes
	}
	out := make([]byte, n)
	// bytes.Buffer.Read cannot fail for n <= Len.
	_, _ = s.buf.Read(out)
	return out, nil
}

// Close clears buffered state and wakes any blocked reader, which observes
// closure rather than hanging forever. Idempotent.
func (s *InputStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.buf.Reset()
	s.cond.Broadcast()
}

// OutputStream is the writing half of a socket. Write blocks until the
// platform confirms delivery or failure for that exact payload.
type OutputStream struct {
	mu      sync.Mutex
	conn    radio.Conn
	closed  bool
	closeCh chan struct{}
	logger  *logrus.Logger
}

func newOutputStream(conn radio.Conn, logger *logrus.Logger) *OutputStream {
	return &OutputStream{
		conn:    conn,
		closeCh: make(chan struct{}),
		logger:  logger,
	}
}

// Write blocks the calling goroutine until the platform confirms delivery or
// failure of p, or the stream is closed while waiting (reported as
// radio.ErrClosed). A completion callback invoked more than once by a buggy
// platform layer is ignored after the first.
func (s *OutputStream) Write(p []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return radio.ErrClosed
	}
	conn := s.conn
	s.mu.Unlock()

	done := make(chan error, 1)
	var once sync.Once
	conn.Write(p, func(err error) {
		once.Do(func() {
			done <- err
		})
	})

	select {
	case err := <-done:
		if err != nil {
			return radio.NormalizeError(err)
		}
		return nil
	case <-s.closeCh:
		return radio.ErrClosed
	}
}

// Flush is a no-op: Write only returns after platform-level delivery
// confirmation, so the write call itself provides the flush guarantee.
func (s *OutputStream) Flush() error {
	return nil
}

// Close wakes any writer blocked on a pending completion. Idempotent.
func (s *OutputStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closeCh)
}
