package bridge_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/bridge"
	"github.com/srg/bleprox/internal/radio/radiotest"
	"github.com/srg/bleprox/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBridge_TTYToSocket(t *testing.T) {
	conn := radiotest.NewConn()
	sock := stream.NewSocket(conn, testLogger())

	b, err := bridge.New(sock, bridge.Options{Logger: testLogger()})
	require.NoError(t, err)
	defer b.Close()

	require.NotEmpty(t, b.TTYName())

	tty, err := os.OpenFile(b.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer tty.Close()

	_, err = tty.Write([]byte("over the air"))
	require.NoError(t, err)

	// Bytes written to the tty must surface as socket writes.
	require.Eventually(t, func() bool {
		var got []byte
		for _, w := range conn.Writes() {
			got = append(got, w...)
		}
		return string(got) == "over the air"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_SocketToTTY(t *testing.T) {
	conn := radiotest.NewConn()
	sock := stream.NewSocket(conn, testLogger())

	b, err := bridge.New(sock, bridge.Options{Logger: testLogger()})
	require.NoError(t, err)
	defer b.Close()

	tty, err := os.OpenFile(b.TTYName(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer tty.Close()

	conn.Deliver([]byte("incoming"))

	require.NoError(t, tty.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := tty.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "incoming", string(buf[:n]))
}

func TestBridge_SymlinkLifecycle(t *testing.T) {
	conn := radiotest.NewConn()
	sock := stream.NewSocket(conn, testLogger())

	link := filepath.Join(t.TempDir(), "peer-tty")
	b, err := bridge.New(sock, bridge.Options{Logger: testLogger(), TTYSymlinkPath: link})
	require.NoError(t, err)

	assert.Equal(t, link, b.TTYSymlink())
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, b.TTYName(), target)

	require.NoError(t, b.Close())
	_, err = os.Lstat(link)
	assert.True(t, os.IsNotExist(err))
}

func TestBridge_CloseIsIdempotent(t *testing.T) {
	conn := radiotest.NewConn()
	sock := stream.NewSocket(conn, testLogger())

	b, err := bridge.New(sock, bridge.Options{Logger: testLogger()})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, sock.IsClosed())
	assert.True(t, conn.Closed())
}

func TestBridge_SocketCloseStopsPump(t *testing.T) {
	conn := radiotest.NewConn()
	sock := stream.NewSocket(conn, testLogger())

	b, err := bridge.New(sock, bridge.Options{Logger: testLogger()})
	require.NoError(t, err)
	defer b.Close()

	sock.Close()

	// The socket reader observes closure and shuts the bridge down; the
	// write path must not spin afterwards.
	require.Eventually(t, func() bool {
		return sock.IsClosed()
	}, time.Second, 10*time.Millisecond)
}
