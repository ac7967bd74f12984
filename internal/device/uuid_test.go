package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit", input: "FFE0", expected: "ffe0"},
		{name: "16-bit with 0x prefix", input: "0xffe1", expected: "ffe1"},
		{name: "SIG base with dashes", input: "0000ffe0-0000-1000-8000-00805f9b34fb", expected: "ffe0"},
		{name: "SIG base without dashes", input: "0000FFF000001000800000805F9B34FB", expected: "fff0"},
		{name: "Nordic UART stays 128-bit", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},
		{name: "SIG suffix with custom prefix", input: "AA00ffe0-0000-1000-8000-00805f9b34fb", expected: "aa00ffe000001000800000805f9b34fb"},
		{name: "32-bit", input: "12345678", expected: "12345678"},
		{name: "surrounding whitespace", input: " ffe1 ", expected: "ffe1"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	got, err := ValidateUUID("0xFFE0", "6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	require.NoError(t, err)
	assert.Equal(t, []string{"ffe0", "6e400002b5a3f393e0a9e50e24dcca9e"}, got)

	for _, bad := range []string{"", "zzzz", "ffe", "0000290200001000800000805f9b34fb00"} {
		_, err := ValidateUUID(bad)
		assert.Error(t, err, "%q MUST be rejected", bad)
	}

	_, err = ValidateUUID()
	assert.Error(t, err)
}

func TestPriorityTables(t *testing.T) {
	// tables are stored normalized so they compare directly with ble.UUID.String()
	assert.Equal(t, []string{"ffe0", "6e400001b5a3f393e0a9e50e24dcca9e", "fff0", "49535343fe7d4ae58fa99fafd205e455"}, ServicePriority)
	assert.Len(t, WriteCharPriority, 7)
	assert.Equal(t, "6e400003b5a3f393e0a9e50e24dcca9e", RxCharPriority[0])
}

func TestFirstMatch(t *testing.T) {
	available := map[string]bool{"fff0": true, "6e400001b5a3f393e0a9e50e24dcca9e": true}
	has := func(u string) bool { return available[u] }

	got, idx, ok := FirstMatch(ServicePriority, has)
	require.True(t, ok)
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", got, "earlier priority entry MUST win")
	assert.Equal(t, 1, idx)

	_, idx, ok = FirstMatch(ServicePriority, func(string) bool { return false })
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestMatchesNamePrefix(t *testing.T) {
	for _, name := range []string{"HC-05", "HC-06-car", "ESP32_RC", "ESPcar", "DX-BT24", "BT24-x", "MLT-BT05"} {
		assert.True(t, MatchesNamePrefix(name), name)
	}
	for _, name := range []string{"", "hc-05", "Pixel 7", "XESP32"} {
		assert.False(t, MatchesNamePrefix(name), name)
	}
}
