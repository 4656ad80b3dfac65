package stream

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/radio"
)

// ServerSocket is the listening side of one service identifier: a close-aware,
// thread-safe FIFO queue of accepted sockets. Its life cycle is one-way,
// {open} -> {closed}.
type ServerSocket struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []*Socket
	closed  bool

	// notifier fires exactly once on the first successful Close, outside the
	// lock: it may re-enter this object's public surface.
	notifier func()

	logger *logrus.Logger
}

// NewServerSocket creates an open server socket.
func NewServerSocket(logger *logrus.Logger) *ServerSocket {
	if logger == nil {
		logger = logrus.New()
	}
	ss := &ServerSocket{logger: logger}
	ss.cond = sync.NewCond(&ss.mu)
	return ss
}

// Accept blocks until a pending socket exists (returning it in FIFO order) or
// the server socket is closed (returning radio.ErrClosed). The closed flag is
// revalidated on every wakeup, so a close that races with an enqueue wins.
func (ss *ServerSocket) Accept() (*Socket, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	for {
		if ss.closed {
			return nil, radio.ErrClosed
		}
		if len(ss.pending) > 0 {
			sock := ss.pending[0]
			ss.pending = ss.pending[1:]
			return sock, nil
		}
		ss.cond.Wait()
	}
}

// Enqueue attempts to hand an inbound socket to a waiting acceptor. It returns
// radio.ErrRefused if the server socket is already closed, in which case the
// caller still owns the socket and must dispose of it. The closed flag is
// re-checked after the enqueue: if a close raced in, the call reports failure
// even though the enqueue physically happened (Accept revalidates too, so the
// socket is never handed out).
func (ss *ServerSocket) Enqueue(sock *Socket) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.closed {
		return radio.ErrRefused
	}
	ss.pending = append(ss.pending, sock)
	ss.cond.Signal()
	if ss.closed {
		return radio.ErrRefused
	}
	return nil
}

// SetCloseNotifier registers a single callback, invoked exactly once on the
// first successful close.
func (ss *ServerSocket) SetCloseNotifier(fn func()) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.notifier = fn
}

// Close transitions to the terminal closed state, wakes all blocked acceptors,
// closes any still-pending sockets, and fires the close notifier. Idempotent;
// the notifier never fires twice.
func (ss *ServerSocket) Close() {
	ss.mu.Lock()
	if ss.closed {
		ss.mu.Unlock()
		return
	}
	ss.closed = true
	pending := ss.pending
	ss.pending = nil
	notifier := ss.notifier
	ss.notifier = nil
	ss.cond.Broadcast()
	ss.mu.Unlock()

	// Pending sockets were accepted at the platform level but never handed to
	// the application; close them so their peers observe the refusal.
	for _, sock := range pending {
		sock.Close()
	}
	if len(pending) > 0 {
		ss.logger.WithField("count", len(pending)).Debug("Closed pending sockets on server socket close")
	}

	// The notifier may re-enter Accept/Enqueue/Close, so it runs without the
	// lock held.
	if notifier != nil {
		notifier()
	}
}

// IsClosed is a non-blocking state query.
func (ss *ServerSocket) IsClosed() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.closed
}
