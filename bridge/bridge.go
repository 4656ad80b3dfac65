// Package bridge exposes an accepted proximity socket as a pseudo-terminal,
// so serial-minded tools can talk over the BLE link by opening a tty path.
// Bytes written to the tty go out through the socket's output stream; bytes
// read from the socket surface as tty output.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/groutine"
	"github.com/srg/bleprox/internal/ptyio"
	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/stream"
)

const (
	// DefaultStdinBufferSize is the ring capacity for tty-to-socket bytes.
	DefaultStdinBufferSize = 4096

	// DefaultStdoutBufferSize is the ring capacity for socket-to-tty bytes.
	DefaultStdoutBufferSize = 4096
)

// Options configures a socket-to-PTY bridge.
type Options struct {
	Logger           *logrus.Logger
	StdinBufferSize  int
	StdoutBufferSize int

	// TTYSymlinkPath, when set, creates a stable symlink to the allocated
	// slave device (e.g. /tmp/bleprox-peer).
	TTYSymlinkPath string
}

// Bridge is a running socket-to-PTY pump pair.
type Bridge struct {
	logger  *logrus.Logger
	sock    *stream.Socket
	pty     ptyio.PTY
	symlink string

	closeOnce sync.Once
	closeErr  error
}

// New allocates a PTY, wires it to the socket, and starts pumping in both
// directions. The bridge owns the socket and closes it on Close.
func New(sock *stream.Socket, opts Options) (*Bridge, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	stdinCap := opts.StdinBufferSize
	if stdinCap == 0 {
		stdinCap = DefaultStdinBufferSize
	}
	stdoutCap := opts.StdoutBufferSize
	if stdoutCap == 0 {
		stdoutCap = DefaultStdoutBufferSize
	}

	p, err := ptyio.New(ptyio.Options{
		ReadCap:  stdinCap,
		WriteCap: stdoutCap,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		logger: logger,
		sock:   sock,
		pty:    p,
	}

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(p.TTYName(), opts.TTYSymlinkPath); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create tty symlink %s -> %s: %w",
				opts.TTYSymlinkPath, p.TTYName(), err)
		}
		b.symlink = opts.TTYSymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": b.symlink,
			"target":     p.TTYName(),
		}).Info("Created PTY symlink")
	}

	// tty -> socket: the PTY dispatcher pushes slave output into the
	// blocking write path; Write returning an error means the link is gone.
	p.SetReadCallback(func(data []byte) {
		if err := sock.Output().Write(data); err != nil {
			if !errors.Is(err, radio.ErrClosed) {
				logger.WithField("error", err).Warn("Bridge write to socket failed")
			}
			b.Close()
		}
	})

	// socket -> tty.
	groutine.Go(context.Background(), "bridge-socket-read", func(context.Context) {
		for {
			data, err := sock.Input().Read(stream.Unbounded)
			if err != nil {
				if !errors.Is(err, radio.ErrClosed) {
					logger.WithField("error", err).Warn("Bridge read from socket failed")
				}
				b.Close()
				return
			}
			if _, err := p.Write(data); err != nil {
				b.Close()
				return
			}
		}
	})

	logger.WithField("tty", p.TTYName()).Info("Socket bridged to PTY")
	return b, nil
}

// TTYName returns the slave device path (e.g. /dev/pts/5).
func (b *Bridge) TTYName() string {
	return b.pty.TTYName()
}

// TTYSymlink returns the symlink path, empty if none was requested.
func (b *Bridge) TTYSymlink() string {
	return b.symlink
}

// Stats returns the underlying PTY pump counters.
func (b *Bridge) Stats() ptyio.Stats {
	return b.pty.Stats()
}

// Close tears down the symlink, the PTY, and the socket. Idempotent.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		if b.symlink != "" {
			if err := os.Remove(b.symlink); err != nil {
				b.logger.WithFields(logrus.Fields{
					"ttySymlink": b.symlink,
					"error":      err,
				}).Warn("Failed to remove tty symlink")
			}
		}
		b.closeErr = b.pty.Close()
		b.sock.Close()
	})
	return b.closeErr
}
