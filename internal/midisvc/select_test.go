package midisvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorPick(t *testing.T) {
	ports := []PortInfo{
		{Number: 0, Name: "Midi Through Port-0", Excluded: true},
		{Number: 1, Name: "Arturia KeyStep 32"},
		{Number: 2, Name: "Launchkey Mini MK3 MIDI 1"},
	}
	testCases := []struct {
		name     string
		sel      selector
		ports    []PortInfo
		expected string
		err      bool
	}{
		{
			name:     "preferred pattern",
			sel:      selector{preferred: DefaultPreferred},
			ports:    ports,
			expected: "Launchkey Mini MK3 MIDI 1",
		},
		{
			name:     "explicit number",
			sel:      selector{port: "1", preferred: DefaultPreferred},
			ports:    ports,
			expected: "Arturia KeyStep 32",
		},
		{
			name:     "explicit name fragment",
			sel:      selector{port: "keystep", preferred: DefaultPreferred},
			ports:    ports,
			expected: "Arturia KeyStep 32",
		},
		{
			name:     "explicit excluded port",
			sel:      selector{port: "through"},
			ports:    ports,
			expected: "Midi Through Port-0",
		},
		{
			name:     "single remaining port",
			sel:      selector{},
			ports:    ports[:2],
			expected: "Arturia KeyStep 32",
		},
		{
			name:  "ambiguous",
			sel:   selector{},
			ports: ports,
			err:   true,
		},
		{
			name:  "nothing usable",
			sel:   selector{preferred: DefaultPreferred},
			ports: ports[:1],
			err:   true,
		},
		{
			name:  "explicit missing",
			sel:   selector{port: "Roland"},
			ports: ports,
			err:   true,
		},
		{
			name:  "explicit missing number",
			sel:   selector{port: "7"},
			ports: ports,
			err:   true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := tc.sel.pick(tc.ports)
			if tc.err {
				assert.ErrorIs(t, err, ErrPortNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p.Name)
		})
	}
}

func TestSelectorExcluded(t *testing.T) {
	s := selector{excluded: DefaultExcluded}
	assert.True(t, s.isExcluded("Midi Through Port-0"))
	assert.True(t, s.isExcluded("DUMMY input"))
	assert.False(t, s.isExcluded("Launchkey"))
}
