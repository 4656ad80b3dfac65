// Package ptyio wraps a pseudo-terminal master in ring-buffered, non-blocking
// I/O. Background goroutines pump bytes between the PTY and the ring buffers;
// when a buffer fills, the oldest data is dropped rather than blocking the
// producer.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/bleprox/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// DefaultPollTimeoutMs is the poll interval for the background loops. It
// bounds both shutdown latency and idle CPU cost.
const DefaultPollTimeoutMs = 50

// ReadCallback receives data produced by the PTY slave. It runs on a
// background goroutine and must not retain the slice.
type ReadCallback func(data []byte)

// ErrorCallback is invoked at most once per loop when a critical error kills
// a background loop. The PTY is degraded afterwards and should be closed.
type ErrorCallback func(err error)

// Options configures PTY creation. Zero values take defaults.
type Options struct {
	ReadCap       int
	WriteCap      int
	Logger        *logrus.Logger
	OnError       ErrorCallback
	PollTimeoutMs int
}

// PTY is a non-blocking handle on a pseudo-terminal pair.
type PTY interface {
	io.ReadWriteCloser
	Stats() Stats
	TTYName() string
	SetReadCallback(cb ReadCallback)
}

// Stats carries runtime counters for monitoring and backpressure decisions.
type Stats struct {
	WriteQueueLen     int32
	WriteQueueCap     int32
	ReadQueueLen      int32
	ReadQueueCap      int32
	DroppedWriteCount uint64
	DroppedReadCount  uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type ringPTY struct {
	logger        *logrus.Logger
	master        *os.File
	slave         *os.File
	ttyName       string
	onError       ErrorCallback
	errorOnce     sync.Once
	pollTimeoutMs int

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readCb     atomic.Value // ReadCallback or nil
	readNotify chan struct{}

	closed uint32

	droppedWrite uint64
	droppedRead  uint64
	readBytes    uint64
	writeBytes   uint64
}

// New creates a PTY pair in raw mode and starts the pump loops. The slave
// path (TTYName) can be handed to an external process.
func New(opts Options) (PTY, error) {
	master, slave, err := openRawPTY()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}
	pollTimeout := opts.PollTimeoutMs
	if pollTimeout == 0 {
		pollTimeout = DefaultPollTimeoutMs
	}
	readCap := opts.ReadCap
	if readCap == 0 {
		readCap = 4096
	}
	writeCap := opts.WriteCap
	if writeCap == 0 {
		writeCap = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:        logger,
		master:        master,
		slave:         slave,
		ttyName:       slave.Name(),
		onError:       opts.OnError,
		pollTimeoutMs: pollTimeout,
		writeBuf:      ringbuffer.New(writeCap),
		readBuf:       ringbuffer.New(readCap),
		ctx:           ctx,
		cancel:        cancel,
		readNotify:    make(chan struct{}, 1),
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "pty-write-loop", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "pty-dispatch", func(context.Context) { p.dispatchLoop() })

	return p, nil
}

// Write queues data for the PTY slave. Non-blocking; when the ring is full
// the surplus is dropped and the returned count reflects what was queued.
func (p *ringPTY) Write(data []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	if written < len(data) {
		atomic.AddUint64(&p.droppedWrite, uint64(len(data)-written))
		p.logger.Warnf("PTY write buffer overflow: dropped %d bytes", len(data)-written)
	}
	return written, nil
}

// Read drains buffered slave output. Non-blocking; returns syscall.EAGAIN
// when nothing is buffered.
func (p *ringPTY) Read(b []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}

	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

// SetReadCallback installs or clears the data-arrival callback. Buffered data
// triggers an immediate dispatch.
func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return
	}
	p.readCb.Store(cb)
	select {
	case p.readNotify <- struct{}{}:
	default:
	}
}

func (p *ringPTY) TTYName() string {
	return p.ttyName
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     int32(p.writeBuf.Length()),
		WriteQueueCap:     int32(p.writeBuf.Capacity()),
		ReadQueueLen:      int32(p.readBuf.Length()),
		ReadQueueCap:      int32(p.readBuf.Capacity()),
		DroppedWriteCount: atomic.LoadUint64(&p.droppedWrite),
		DroppedReadCount:  atomic.LoadUint64(&p.droppedRead),
		ReadBytesTotal:    atomic.LoadUint64(&p.readBytes),
		WriteBytesTotal:   atomic.LoadUint64(&p.writeBytes),
	}
}

// Close cancels the loops, closes both FDs, and waits for the goroutines.
// Idempotent.
func (p *ringPTY) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return nil
	}
	p.cancel()

	// Closing the FDs unblocks any in-flight I/O with EBADF.
	if err := p.master.Close(); err != nil {
		p.logger.Warnf("failed to close PTY master: %v", err)
	}
	if err := p.slave.Close(); err != nil {
		p.logger.Warnf("failed to close PTY slave: %v", err)
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(context.Context) {
		p.wg.Wait()
		close(done)
	})

	timeout := time.Duration(p.pollTimeoutMs)*time.Millisecond*3 + time.Second
	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Errorf("PTY close timed out waiting for pump goroutines (tty=%s)", p.ttyName)
	}
	return nil
}

func (p *ringPTY) reportError(err error) {
	if p.onError == nil {
		return
	}
	p.errorOnce.Do(func() { p.onError(err) })
}

func (p *ringPTY) writeLoop() {
	defer p.wg.Done()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if p.writeBuf.IsEmpty() {
			if _, err := unix.Poll(pollFd, p.pollTimeoutMs); err != nil && !errors.Is(err, syscall.EINTR) {
				p.logger.Warnf("PTY write poll error: %v", err)
			}
			if p.writeBuf.IsEmpty() {
				continue
			}
		}

		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.Warnf("PTY write ring read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		offset := 0
		for offset < n {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				atomic.AddUint64(&p.writeBytes, uint64(written))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
				if _, pollErr := unix.Poll(pollFd, p.pollTimeoutMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
					p.logger.Warnf("PTY write poll error: %v", pollErr)
				}
				continue
			case errors.Is(err, syscall.EBADF):
				return
			default:
				p.logger.Warnf("PTY write loop exiting: %v", err)
				p.reportError(fmt.Errorf("pty write loop: %w", err))
				return
			}
		}
	}
}

func (p *ringPTY) readLoop() {
	defer p.wg.Done()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		nReady, err := unix.Poll(pollFd, p.pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.Warnf("PTY read poll error: %v", err)
			continue
		}
		if nReady == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			written, writeErr := p.readBuf.Write(buf[:n])
			if writeErr != nil && !errors.Is(writeErr, ringbuffer.ErrIsFull) {
				p.logger.Warnf("PTY read ring write error: %v", writeErr)
				continue
			}
			if written < n {
				atomic.AddUint64(&p.droppedRead, uint64(n-written))
				p.logger.Warnf("PTY read buffer overflow: dropped %d bytes", n-written)
			}
			atomic.AddUint64(&p.readBytes, uint64(written))

			if written > 0 && p.readCb.Load() != nil {
				select {
				case p.readNotify <- struct{}{}:
				default:
				}
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF):
				return
			default:
				p.logger.Warnf("PTY read loop exiting: %v", err)
				p.reportError(fmt.Errorf("pty read loop: %w", err))
				return
			}
		}
	}
}

// dispatchLoop drains the read ring into the registered callback.
func (p *ringPTY) dispatchLoop() {
	defer p.wg.Done()

	tmp := make([]byte, 4096)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.readNotify:
		}

		for {
			cb, _ := p.readCb.Load().(ReadCallback)
			if cb == nil {
				break
			}

			n, err := p.readBuf.TryRead(tmp)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}

			chunk := make([]byte, n)
			copy(chunk, tmp[:n])

			func() {
				defer func() {
					if r := recover(); r != nil {
						p.logger.Errorf("PTY read callback panicked: %v", r)
						p.readCb.Store(ReadCallback(nil))
						p.reportError(fmt.Errorf("pty read callback panic: %v", r))
					}
				}()
				cb(chunk)
			}()
		}
	}
}

// openRawPTY opens a master/slave pair, puts the slave in raw mode, and makes
// the master non-blocking.
func openRawPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY: %w", err)
	}

	cleanup := func() {
		master.Close()
		slave.Close()
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to set PTY slave %s to raw mode: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to set PTY master to nonblocking mode: %w", err)
	}
	return master, slave, nil
}
