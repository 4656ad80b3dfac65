package gatt_test

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleprox/gatt"
	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/internal/radio/radiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testService = "0000fef3-0000-1000-8000-00805f9b34fb"
	charAlpha   = "00000001-0000-1000-8000-00805f9b34fb"
	charBeta    = "00000002-0000-1000-8000-00805f9b34fb"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func scriptedDiscovery(values ...radio.CharacteristicValue) func(string, []string, func([]radio.CharacteristicValue, error)) {
	return func(_ string, _ []string, result func([]radio.CharacteristicValue, error)) {
		go result(values, nil)
	}
}

func TestCharacteristic_EqualityIsUUIDPairOnly(t *testing.T) {
	a := gatt.Characteristic{
		ServiceUUID:        testService,
		CharacteristicUUID: charAlpha,
		Properties:         radio.PropertyRead,
	}
	b := gatt.Characteristic{
		ServiceUUID:        "FEF3", // short form of the same SIG UUID
		CharacteristicUUID: charAlpha,
		Permissions:        radio.PermissionWrite,
		Properties:         radio.PropertyIndicate,
	}
	other := gatt.Characteristic{ServiceUUID: testService, CharacteristicUUID: charBeta}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(other))
}

func TestClient_DiscoverCachesRequestedValues(t *testing.T) {
	session := radiotest.NewGattSession()
	session.DiscoverFunc = scriptedDiscovery(
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charAlpha, Value: []byte("alpha")},
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charBeta, Value: []byte("beta")},
	)
	client := gatt.NewClient(session, testLogger())

	ok := client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha, charBeta})
	require.True(t, ok)

	char, found := client.GetCharacteristic(testService, charAlpha)
	require.True(t, found)
	value, found := client.ReadCharacteristic(char)
	require.True(t, found)
	assert.Equal(t, []byte("alpha"), value)

	char, found = client.GetCharacteristic(testService, charBeta)
	require.True(t, found)
	value, found = client.ReadCharacteristic(char)
	require.True(t, found)
	assert.Equal(t, []byte("beta"), value)
}

func TestClient_GetCharacteristicReturnsDiscoveredProperties(t *testing.T) {
	session := radiotest.NewGattSession()
	session.DiscoverFunc = scriptedDiscovery(
		radio.CharacteristicValue{
			ServiceUUID:        testService,
			CharacteristicUUID: charAlpha,
			Value:              []byte("alpha"),
			Properties:         radio.PropertyRead | radio.PropertyIndicate,
		},
		radio.CharacteristicValue{
			ServiceUUID:        testService,
			CharacteristicUUID: charBeta,
			Value:              []byte("beta"),
			Properties:         radio.PropertyWrite,
		},
	)
	client := gatt.NewClient(session, testLogger())
	require.True(t, client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha, charBeta}))

	char, found := client.GetCharacteristic(testService, charAlpha)
	require.True(t, found)
	assert.Equal(t, radio.PropertyRead|radio.PropertyIndicate, char.Properties)

	char, found = client.GetCharacteristic(testService, charBeta)
	require.True(t, found)
	assert.Equal(t, radio.PropertyWrite, char.Properties)
}

func TestClient_DiscoverIgnoresUnrequestedCharacteristics(t *testing.T) {
	session := radiotest.NewGattSession()
	session.DiscoverFunc = scriptedDiscovery(
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charAlpha, Value: []byte("alpha")},
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charBeta, Value: []byte("beta")},
	)
	client := gatt.NewClient(session, testLogger())

	require.True(t, client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha}))

	_, found := client.GetCharacteristic(testService, charBeta)
	assert.False(t, found)
}

func TestClient_RediscoveryReplacesCache(t *testing.T) {
	session := radiotest.NewGattSession()
	session.DiscoverFunc = scriptedDiscovery(
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charAlpha, Value: []byte("v1")},
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charBeta, Value: []byte("old")},
	)
	client := gatt.NewClient(session, testLogger())
	require.True(t, client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha, charBeta}))

	// Second round reports only alpha, with a new value. Beta must vanish.
	session.DiscoverFunc = scriptedDiscovery(
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charAlpha, Value: []byte("v2")},
	)
	require.True(t, client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha, charBeta}))

	char, found := client.GetCharacteristic(testService, charAlpha)
	require.True(t, found)
	value, _ := client.ReadCharacteristic(char)
	assert.Equal(t, []byte("v2"), value)

	_, found = client.GetCharacteristic(testService, charBeta)
	assert.False(t, found)
}

func TestClient_DiscoverTimeoutReportsFailureAndClearsCache(t *testing.T) {
	session := radiotest.NewGattSession()
	session.DiscoverFunc = scriptedDiscovery(
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charAlpha, Value: []byte("alpha")},
	)
	client := gatt.NewClient(session, testLogger())
	require.True(t, client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha}))

	// Platform never answers the second round.
	session.DiscoverFunc = func(string, []string, func([]radio.CharacteristicValue, error)) {}
	client.DiscoveryTimeout = 30 * time.Millisecond

	assert.False(t, client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha}))

	// The stale value from the first round must not resurface.
	_, found := client.GetCharacteristic(testService, charAlpha)
	assert.False(t, found)
}

func TestClient_DiscoverPlatformErrorReportsFailure(t *testing.T) {
	session := radiotest.NewGattSession()
	session.DiscoverFunc = func(_ string, _ []string, result func([]radio.CharacteristicValue, error)) {
		go result(nil, errors.New("att timeout"))
	}
	client := gatt.NewClient(session, testLogger())

	assert.False(t, client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha}))
}

func TestClient_WriteCharacteristicAlwaysFails(t *testing.T) {
	client := gatt.NewClient(radiotest.NewGattSession(), testLogger())

	char := gatt.Characteristic{ServiceUUID: testService, CharacteristicUUID: charAlpha}
	err := client.WriteCharacteristic(char, []byte("payload"))
	assert.ErrorIs(t, err, radio.ErrUnsupported)
}

func TestClient_DisconnectTearsDownSession(t *testing.T) {
	session := radiotest.NewGattSession()
	session.DiscoverFunc = scriptedDiscovery(
		radio.CharacteristicValue{ServiceUUID: testService, CharacteristicUUID: charAlpha, Value: []byte("alpha")},
	)
	client := gatt.NewClient(session, testLogger())
	require.True(t, client.DiscoverServiceAndCharacteristics(testService, []string{charAlpha}))

	client.Disconnect()
	assert.True(t, session.Disconnected())

	// Cached values remain readable after disconnect.
	char, found := client.GetCharacteristic(testService, charAlpha)
	require.True(t, found)
	value, found := client.ReadCharacteristic(char)
	require.True(t, found)
	assert.Equal(t, []byte("alpha"), value)
}

func TestServer_CreateAndUpdateCharacteristic(t *testing.T) {
	role := radiotest.NewPeripheralRole()
	server := gatt.NewServer(role, testLogger())

	char, err := server.CreateCharacteristic(testService, charAlpha, radio.PermissionRead, radio.PropertyRead|radio.PropertyIndicate)
	require.NoError(t, err)

	defs := role.Characteristics()
	require.Len(t, defs, 1)
	assert.Equal(t, radio.NormalizeUUID(testService), defs[0].ServiceUUID)
	assert.Equal(t, radio.NormalizeUUID(charAlpha), defs[0].CharacteristicUUID)

	require.NoError(t, server.UpdateCharacteristic(char, []byte("advertised")))
	value, ok := role.UpdatedValue(radio.NormalizeUUID(testService), radio.NormalizeUUID(charAlpha))
	require.True(t, ok)
	assert.Equal(t, []byte("advertised"), value)
}

func TestServer_CreateCharacteristicPlatformFailure(t *testing.T) {
	role := radiotest.NewPeripheralRole()
	role.AddCharacteristicErr = errors.New("gatt database full")
	server := gatt.NewServer(role, testLogger())

	_, err := server.CreateCharacteristic(testService, charAlpha, radio.PermissionRead, radio.PropertyRead)
	assert.Error(t, err)
}

func TestServer_StopIsIdempotent(t *testing.T) {
	role := radiotest.NewPeripheralRole()
	server := gatt.NewServer(role, testLogger())

	_, err := server.CreateCharacteristic(testService, charAlpha, radio.PermissionRead, radio.PropertyRead)
	require.NoError(t, err)

	server.Stop()
	server.Stop()
}
