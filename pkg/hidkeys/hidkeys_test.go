package hidkeys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	testCases := []struct {
		key      string
		expected Usage
	}{
		{"a", Usage{Code: 0x04}},
		{"z", Usage{Code: 0x1D}},
		{"Q", Usage{Code: 0x14, Shift: true}},
		{"1", Usage{Code: 0x1E}},
		{"0", Usage{Code: 0x27}},
		{"!", Usage{Code: 0x1E, Shift: true}},
		{";", Usage{Code: 0x33}},
		{"'", Usage{Code: 0x34}},
		{`\`, Usage{Code: 0x31}},
		{"[", Usage{Code: 0x2F}},
		{"?", Usage{Code: 0x38, Shift: true}},
		{" ", Usage{Code: 0x2C}},
		{"Space", Usage{Code: 0x2C}},
		{"page_up", Usage{Code: 0x4B}},
		{"left-arrow", Usage{Code: 0x50}},
		{"f12", Usage{Code: 0x45}},
		{"esc", Usage{Code: 0x29}},
	}
	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			u, err := Lookup(tc.key)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, u)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	for _, key := range []string{"", "é", "NotAKey"} {
		_, err := Lookup(key)
		assert.Error(t, err, key)
	}
}

func TestDefaultKeymapIsTypeable(t *testing.T) {
	for _, r := range `aksldf;g'h[jq2w3er5t6y7ui]z\xc,v.b/nm` {
		u, err := Lookup(string(r))
		require.NoError(t, err, string(r))
		assert.False(t, u.Shift, string(r))
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "a", Name(0x04))
	assert.Equal(t, "Space", Name(0x2C))
	assert.Equal(t, "Escape", Name(0x29))
	assert.Equal(t, "0xff", Name(0xFF))
}
