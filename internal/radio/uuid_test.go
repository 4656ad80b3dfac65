package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit short form",
			input:    "180d",
			expected: "180d",
		},
		{
			name:     "16-bit with 0x prefix",
			input:    "0x180d",
			expected: "180d",
		},
		{
			name:     "uppercase is lowered",
			input:    "FEF3",
			expected: "fef3",
		},
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "0000180d-0000-1000-8000-00805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID without dashes",
			input:    "0000180d00001000800000805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Custom 128-bit UUID (not SIG base)",
			input:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "UUID with braces",
			input:    "{0000180d-0000-1000-8000-00805f9b34fb}",
			expected: "180d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeUUID(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidateUUID(t *testing.T) {
	t.Run("rejects empty argument list", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.Error(t, err)
	})

	t.Run("rejects empty UUID", func(t *testing.T) {
		_, err := ValidateUUID("180d", "")
		assert.Error(t, err)
	})

	t.Run("rejects non-hex UUID", func(t *testing.T) {
		_, err := ValidateUUID("not-a-uuid")
		assert.Error(t, err)
	})

	t.Run("rejects odd length", func(t *testing.T) {
		_, err := ValidateUUID("fef")
		assert.Error(t, err)
	})

	t.Run("normalizes all UUIDs", func(t *testing.T) {
		result, err := ValidateUUID("0x180D", "0000fef3-0000-1000-8000-00805f9b34fb")
		assert.NoError(t, err)
		assert.Equal(t, []string{"180d", "fef3"}, result)
	})
}

func TestNormalizeError(t *testing.T) {
	assert.NoError(t, NormalizeError(nil))

	err := NormalizeError(assert.AnError)
	assert.Equal(t, assert.AnError, err)

	wrapped := NormalizeError(&LinkError{State: NotConnected, Msg: "device not connected"})
	assert.True(t, IsLinkState(wrapped, NotConnected))
}
