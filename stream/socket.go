package stream

import (
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/radio"
)

// socketCore holds the socket state the platform connection's callbacks hang
// on to. It deliberately never references the Socket wrapper: the wrapper
// carries a finalizer, and a finalizer on an object reachable from the
// platform connection's handler cycle is not guaranteed to run.
type socketCore struct {
	mu     sync.Mutex
	closed bool

	in     *InputStream
	out    *OutputStream
	conn   radio.Conn
	logger *logrus.Logger
}

func (c *socketCore) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.in.Close()
	c.out.Close()
	if err := conn.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close platform connection")
	}
}

func (c *socketCore) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Socket pairs one InputStream and one OutputStream bound to the same
// underlying platform connection and owns their lifecycle. Upper layers treat
// it like any blocking socket, oblivious to the radio underneath.
type Socket struct {
	core *socketCore
}

// NewSocket wraps a live platform connection into a Socket. The socket's input
// stream becomes the connection's inbound-data sink, and platform-side link
// severance closes the socket so blocked readers and writers wake up.
func NewSocket(conn radio.Conn, logger *logrus.Logger) *Socket {
	if logger == nil {
		logger = logrus.New()
	}

	core := &socketCore{
		in:     newInputStream(logger),
		out:    newOutputStream(conn, logger),
		conn:   conn,
		logger: logger,
	}
	conn.SetReceiveHandler(core.in.Receive)
	conn.SetCloseHandler(func() {
		core.logger.Debug("Platform severed the link, closing socket")
		core.close()
	})

	s := &Socket{core: core}

	// Correct callers close explicitly before releasing the socket; reaching
	// the finalizer with the socket still open is a caller bug, flagged loudly
	// and then cleaned up as a safety net.
	runtime.SetFinalizer(s, func(s *Socket) {
		if !s.core.isClosed() {
			s.core.logger.Error("Socket finalized without Close(); callers must close sockets explicitly")
			s.core.close()
		}
	})

	return s
}

// Input returns the reading half.
func (s *Socket) Input() *InputStream {
	return s.core.in
}

// Output returns the writing half.
func (s *Socket) Output() *OutputStream {
	return s.core.out
}

// Close closes both streams and releases the platform connection exactly once.
// Safe to call from any goroutine, including platform callbacks.
func (s *Socket) Close() {
	s.core.close()
}

// IsClosed is a non-blocking state query.
func (s *Socket) IsClosed() bool {
	return s.core.isClosed()
}
