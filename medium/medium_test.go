package medium_test

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/internal/radio/radiotest"
	"github.com/srg/bleprox/medium"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testMedium wires a medium to fresh radiotest roles and counts how many
// times each role factory runs.
type testMedium struct {
	*medium.Medium
	peripheralCount atomic.Int32
	centralCount    atomic.Int32
	peripheral      *radiotest.PeripheralRole
	central         *radiotest.CentralRole
}

func newTestMedium(t *testing.T) *testMedium {
	t.Helper()
	tm := &testMedium{Medium: medium.New(testLogger())}
	tm.NewPeripheralRole = func() (radio.PeripheralRole, error) {
		tm.peripheralCount.Add(1)
		tm.peripheral = radiotest.NewPeripheralRole()
		return tm.peripheral, nil
	}
	tm.NewCentralRole = func() (radio.CentralRole, error) {
		tm.centralCount.Add(1)
		tm.central = radiotest.NewCentralRole()
		return tm.central, nil
	}
	t.Cleanup(func() { tm.Close() })
	return tm
}

func TestMedium_StartAdvertisingRejectsEmptyServiceData(t *testing.T) {
	tm := newTestMedium(t)

	err := tm.StartAdvertising("adv-1", radio.Advertisement{}, medium.AdvertiseOptions{})
	assert.ErrorIs(t, err, radio.ErrNoServiceData)

	// Rejection happens before any platform interaction.
	assert.Equal(t, int32(0), tm.peripheralCount.Load())
}

func TestMedium_AdvertiseStopReadvertiseCycle(t *testing.T) {
	tm := newTestMedium(t)

	adv := radio.Advertisement{
		ServiceData: map[string][]byte{"FEF3": {0x01, 0x02}},
		TxPower:     radio.PowerHigh,
	}
	require.NoError(t, tm.StartAdvertising("adv-1", adv, medium.AdvertiseOptions{}))
	assert.True(t, tm.IsAdvertising())

	calls := tm.peripheral.AdvertiseCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "fef3", calls[0].ServiceUUID)
	assert.Equal(t, []byte{0x01, 0x02}, calls[0].ServiceData)
	assert.Equal(t, radio.PowerHigh, calls[0].Power)

	released := tm.peripheral
	require.NoError(t, tm.StopAdvertising("adv-1"))
	assert.False(t, tm.IsAdvertising())
	assert.True(t, released.Closed())

	// A new handle is created on demand.
	require.NoError(t, tm.StartAdvertising("adv-1", adv, medium.AdvertiseOptions{}))
	assert.Equal(t, int32(2), tm.peripheralCount.Load())
	assert.True(t, tm.IsAdvertising())
}

func TestMedium_ReadvertisingReusesActiveHandle(t *testing.T) {
	tm := newTestMedium(t)

	adv := radio.Advertisement{ServiceData: map[string][]byte{"FEF3": {0x01}}}
	require.NoError(t, tm.StartAdvertising("adv-1", adv, medium.AdvertiseOptions{}))
	require.NoError(t, tm.StartAdvertising("adv-1", adv, medium.AdvertiseOptions{}))

	assert.Equal(t, int32(1), tm.peripheralCount.Load())
	assert.Len(t, tm.peripheral.AdvertiseCalls(), 2)
}

func TestMedium_StartAdvertisingPicksFirstServiceDataEntry(t *testing.T) {
	tm := newTestMedium(t)

	adv := radio.Advertisement{ServiceData: map[string][]byte{
		"FEF3": {0xAA},
		"FE2C": {0xBB},
	}}
	require.NoError(t, tm.StartAdvertising("adv-1", adv, medium.AdvertiseOptions{}))

	// Only one entry is advertised; UUID ordering makes the choice stable.
	calls := tm.peripheral.AdvertiseCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "fe2c", calls[0].ServiceUUID)
	assert.Equal(t, []byte{0xBB}, calls[0].ServiceData)
}

func TestMedium_ScanningDeliversSynthesizedAdvertisements(t *testing.T) {
	tm := newTestMedium(t)

	type event struct {
		peripheral *radio.Peripheral
		adv        radio.Advertisement
	}
	events := make(chan event, 4)
	cb := medium.ScanCallback{
		AdvertisementFound: func(p *radio.Peripheral, adv radio.Advertisement) {
			events <- event{p, adv}
		},
	}
	require.NoError(t, tm.StartScanning("FEF3", radio.PowerMedium, cb))
	assert.True(t, tm.IsScanning())

	require.True(t, tm.central.DeliverScanResult("AA:BB:CC:DD:EE:01", []byte{0x10}))
	first := <-events
	assert.Equal(t, "AA:BB:CC:DD:EE:01", first.peripheral.ID())
	assert.Equal(t, []byte{0x10}, first.adv.ServiceData["fef3"])
	assert.Equal(t, radio.PowerMedium, first.adv.TxPower)

	// The same logical peer reuses the same mutable handle.
	require.True(t, tm.central.DeliverScanResult("AA:BB:CC:DD:EE:01", []byte{0x20}))
	second := <-events
	assert.Same(t, first.peripheral, second.peripheral)

	scanner := tm.central
	require.NoError(t, tm.StopScanning())
	assert.False(t, tm.IsScanning())
	assert.True(t, scanner.Closed())
}

func TestMedium_OpenServerSocketRoutesInboundConnections(t *testing.T) {
	tm := newTestMedium(t)

	// Creating the GATT server materializes the peripheral role and its
	// inbound-connection handler.
	_, err := tm.StartGattServer()
	require.NoError(t, err)

	ss, err := tm.OpenServerSocket("svc-a")
	require.NoError(t, err)

	conn := radiotest.NewConn()
	require.True(t, tm.peripheral.IncomingConnection("svc-a", conn))

	sock, err := ss.Accept()
	require.NoError(t, err)
	defer sock.Close()

	conn.Deliver([]byte("hello"))
	data, err := sock.Input().Read(-1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestMedium_InboundConnectionForUnknownServiceIsClosed(t *testing.T) {
	tm := newTestMedium(t)

	_, err := tm.StartGattServer()
	require.NoError(t, err)

	conn := radiotest.NewConn()
	require.True(t, tm.peripheral.IncomingConnection("svc-nobody", conn))
	assert.True(t, conn.Closed())
}

func TestMedium_ClosedListenerIsDeregistered(t *testing.T) {
	tm := newTestMedium(t)

	_, err := tm.StartGattServer()
	require.NoError(t, err)

	ss, err := tm.OpenServerSocket("svc-a")
	require.NoError(t, err)
	ss.Close()

	// The mapping entry is gone: inbound connections are refused and the
	// identifier can be reused by a fresh listener.
	conn := radiotest.NewConn()
	require.True(t, tm.peripheral.IncomingConnection("svc-a", conn))
	assert.True(t, conn.Closed())

	replacement, err := tm.OpenServerSocket("svc-a")
	require.NoError(t, err)
	replacement.Close()
}

func TestMedium_DuplicateListenerIsRejected(t *testing.T) {
	tm := newTestMedium(t)

	ss, err := tm.OpenServerSocket("svc-a")
	require.NoError(t, err)
	defer ss.Close()

	_, err = tm.OpenServerSocket("svc-a")
	assert.ErrorIs(t, err, radio.ErrAlreadyConnected)
}

func TestMedium_ConnectWithoutRequesterFailsImmediately(t *testing.T) {
	tm := newTestMedium(t)

	start := time.Now()
	sock, err := tm.Connect(context.Background(), "svc-a", radio.PowerHigh, radio.NewPeripheral("AA:BB"))
	assert.Nil(t, sock)
	assert.ErrorIs(t, err, radio.ErrRefused)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestMedium_ConnectWithCancelledContextNeverInvokesRequester(t *testing.T) {
	tm := newTestMedium(t)

	var invoked atomic.Bool
	tm.RegisterConnectionRequester("svc-a", func(_ *radio.Peripheral, _ radio.PowerLevel, result func(radio.Conn, error)) {
		invoked.Store(true)
		go result(radiotest.NewConn(), nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sock, err := tm.Connect(ctx, "svc-a", radio.PowerHigh, radio.NewPeripheral("AA:BB"))
	assert.Nil(t, sock)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, invoked.Load())
}

func TestMedium_ConnectWrapsRequesterConnection(t *testing.T) {
	tm := newTestMedium(t)

	conn := radiotest.NewConn()
	tm.RegisterConnectionRequester("svc-a", func(_ *radio.Peripheral, _ radio.PowerLevel, result func(radio.Conn, error)) {
		go result(conn, nil)
	})

	sock, err := tm.Connect(context.Background(), "svc-a", radio.PowerHigh, radio.NewPeripheral("AA:BB"))
	require.NoError(t, err)
	defer sock.Close()

	// The socket's input stream is wired as the connection's inbound sink.
	conn.Deliver([]byte("payload"))
	data, err := sock.Input().Read(-1)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, sock.Output().Write([]byte("reply")))
	writes := conn.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("reply"), writes[0])
}

func TestMedium_ConnectRequesterFailure(t *testing.T) {
	tm := newTestMedium(t)

	tm.RegisterConnectionRequester("svc-a", func(_ *radio.Peripheral, _ radio.PowerLevel, result func(radio.Conn, error)) {
		go result(nil, radio.ErrNotConnected)
	})

	sock, err := tm.Connect(context.Background(), "svc-a", radio.PowerHigh, radio.NewPeripheral("AA:BB"))
	assert.Nil(t, sock)
	assert.ErrorIs(t, err, radio.ErrNotConnected)
}

func TestMedium_UnregisterConnectionRequester(t *testing.T) {
	tm := newTestMedium(t)

	tm.RegisterConnectionRequester("svc-a", func(_ *radio.Peripheral, _ radio.PowerLevel, result func(radio.Conn, error)) {
		go result(radiotest.NewConn(), nil)
	})
	tm.UnregisterConnectionRequester("svc-a")

	_, err := tm.Connect(context.Background(), "svc-a", radio.PowerHigh, radio.NewPeripheral("AA:BB"))
	assert.ErrorIs(t, err, radio.ErrRefused)
}

func TestMedium_ConnectToGattServerSuccess(t *testing.T) {
	tm := newTestMedium(t)
	require.NoError(t, tm.StartScanning("FEF3", radio.PowerHigh, medium.ScanCallback{}))

	session := radiotest.NewGattSession()
	tm.central.ConnectFunc = func(peripheralID string, _ radio.PowerLevel, result func(radio.GattSession, error)) {
		assert.Equal(t, "AA:BB", peripheralID)
		go result(session, nil)
	}

	client, err := tm.ConnectToGattServer(radio.NewPeripheral("AA:BB"), radio.PowerHigh)
	require.NoError(t, err)
	require.NotNil(t, client)

	client.Disconnect()
	assert.True(t, session.Disconnected())
}

func TestMedium_ConnectToGattServerTimeout(t *testing.T) {
	tm := newTestMedium(t)
	tm.ConnectTimeout = 30 * time.Millisecond
	require.NoError(t, tm.StartScanning("FEF3", radio.PowerHigh, medium.ScanCallback{}))

	// The platform never answers.
	tm.central.ConnectFunc = func(string, radio.PowerLevel, func(radio.GattSession, error)) {}

	client, err := tm.ConnectToGattServer(radio.NewPeripheral("AA:BB"), radio.PowerHigh)
	assert.Nil(t, client)
	assert.ErrorIs(t, err, radio.ErrTimeout)
}

func TestMedium_ExtendedAdvertisementsUnavailable(t *testing.T) {
	tm := newTestMedium(t)
	assert.False(t, tm.IsExtendedAdvertisementsAvailable())
}

func TestMedium_CloseReleasesRolesAndListeners(t *testing.T) {
	tm := newTestMedium(t)

	adv := radio.Advertisement{ServiceData: map[string][]byte{"FEF3": {0x01}}}
	require.NoError(t, tm.StartAdvertising("adv-1", adv, medium.AdvertiseOptions{}))
	require.NoError(t, tm.StartScanning("FEF3", radio.PowerHigh, medium.ScanCallback{}))

	ss, err := tm.OpenServerSocket("svc-a")
	require.NoError(t, err)

	require.NoError(t, tm.Close())
	assert.True(t, tm.peripheral.Closed())
	assert.True(t, tm.central.Closed())
	assert.True(t, ss.IsClosed())

	// The medium stays closed.
	err = tm.StartAdvertising("adv-1", adv, medium.AdvertiseOptions{})
	assert.ErrorIs(t, err, radio.ErrClosed)
}

func TestMedium_ClosedMediumRejectsListenersAndConnects(t *testing.T) {
	tm := newTestMedium(t)
	tm.RegisterConnectionRequester("svc-a", func(_ *radio.Peripheral, _ radio.PowerLevel, result func(radio.Conn, error)) {
		go result(radiotest.NewConn(), nil)
	})
	require.NoError(t, tm.Close())

	ss, err := tm.OpenServerSocket("svc-a")
	assert.Nil(t, ss)
	assert.ErrorIs(t, err, radio.ErrClosed)

	sock, err := tm.Connect(context.Background(), "svc-a", radio.PowerHigh, radio.NewPeripheral("AA:BB"))
	assert.Nil(t, sock)
	assert.ErrorIs(t, err, radio.ErrClosed)
}

func TestDiscoveryOptions_CompatibleOptions(t *testing.T) {
	t.Run("empty selector allows all kinds", func(t *testing.T) {
		opts := medium.NewDiscoveryOptions().CompatibleOptions()
		assert.ElementsMatch(t, medium.AllKinds(), opts.Kinds)
	})

	t.Run("out of band collapses to a single kind", func(t *testing.T) {
		opts := medium.DiscoveryOptions{
			OutOfBand: true,
			Kinds:     []medium.Kind{medium.KindBLE, medium.KindWifiLAN},
		}.CompatibleOptions()
		assert.Equal(t, []medium.Kind{medium.KindBLE}, opts.Kinds)
	})

	t.Run("out of band keeps an explicit single kind", func(t *testing.T) {
		opts := medium.DiscoveryOptions{
			OutOfBand: true,
			Kinds:     []medium.Kind{medium.KindWifiLAN},
		}.CompatibleOptions()
		assert.Equal(t, []medium.Kind{medium.KindWifiLAN}, opts.Kinds)
	})

	t.Run("defaults", func(t *testing.T) {
		opts := medium.NewDiscoveryOptions()
		assert.Equal(t, "p2p_cluster", opts.Strategy)
	})
}
