package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/bleprox/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
serviceUuid: fef3
serviceData: "0102ff"
advertise:
  deviceName: kiosk
  lowPower: true
discovery:
  strategy: p2p_point_to_point
  mediums: [ble]
`)

	p, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, "fef3", p.ServiceUUID)
	assert.Equal(t, []byte{0x01, 0x02, 0xff}, p.ServiceDataBytes())
	assert.Equal(t, "kiosk", p.Advertise.DeviceName)
	assert.True(t, p.Advertise.LowPower)
	assert.Equal(t, "p2p_point_to_point", p.Discovery.Strategy)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, DefaultPipeCharacteristicUUID, p.PipeCharacteristicUUID)
}

func TestLoadProfile_Defaults(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, "serviceUuid: fef3\n"))
	require.NoError(t, err)

	assert.True(t, p.Advertise.Connectable)
	assert.Equal(t, "p2p_cluster", p.Discovery.Strategy)
	assert.Empty(t, p.ServiceDataBytes())
}

func TestLoadProfile_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing service uuid": "serviceData: \"01\"\n",
		"bad service uuid":     "serviceUuid: not-a-uuid\n",
		"bad hex data":         "serviceUuid: fef3\nserviceData: \"zz\"\n",
		"bad pipe uuid":        "serviceUuid: fef3\npipeCharacteristicUuid: nope\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadProfile(writeProfile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestProfileSummary(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, `
serviceUuid: 0000fef3-0000-1000-8000-00805f9b34fb
serviceData: "010203"
`))
	require.NoError(t, err)

	testutils.NewTextAsserter(t).Assert(p.Summary(), `service:   fef3
data:      3 bytes
pipe char: fec9
strategy:  p2p_cluster
`)
}

func TestLoadProfile_MissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
