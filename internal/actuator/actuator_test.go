package actuator

import (
	"encoding/json"
	"testing"

	"github.com/neuroplastio/neio-midi/pkg/hidkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestKeyboardState(t *testing.T) {
	s := newKeyboardState()
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, s.report())

	a, _ := hidkeys.Lookup("a")
	changed, full := s.press(a)
	assert.True(t, changed)
	assert.False(t, full)
	assert.Equal(t, []byte{0, 0, 0x04, 0, 0, 0, 0, 0}, s.report())

	changed, _ = s.press(a)
	assert.False(t, changed, "second press of a held key")

	upperB, _ := hidkeys.Lookup("B")
	changed, _ = s.press(upperB)
	assert.True(t, changed)
	assert.Equal(t, []byte{hidkeys.ModLeftShift, 0, 0x04, 0x05, 0, 0, 0, 0}, s.report())

	assert.True(t, s.release(upperB))
	assert.Equal(t, []byte{0, 0, 0x04, 0, 0, 0, 0, 0}, s.report())
	assert.True(t, s.release(a))
	assert.False(t, s.release(a), "double release")
	assert.Equal(t, 0, s.pressed())
}

func TestKeyboardStateRollover(t *testing.T) {
	s := newKeyboardState()
	for _, k := range "abcdef" {
		u, err := hidkeys.Lookup(string(k))
		require.NoError(t, err)
		changed, full := s.press(u)
		require.True(t, changed)
		require.False(t, full)
	}
	g, _ := hidkeys.Lookup("g")
	changed, full := s.press(g)
	assert.False(t, changed)
	assert.True(t, full)
	assert.Equal(t, []byte{0, 0, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}, s.report())

	s.reset()
	assert.Equal(t, 0, s.pressed())
	assert.Equal(t, make([]byte, 8), s.report())
}

func TestResolveKeys(t *testing.T) {
	usages, err := resolveKeys([]string{"a", ";", "Space"})
	require.NoError(t, err)
	assert.Equal(t, uint8(0x33), usages[";"].Code)
	assert.Equal(t, uint8(0x2C), usages["Space"].Code)

	_, err = resolveKeys([]string{"a", "NoSuchKey"})
	assert.Error(t, err)
}

func TestMergeKeys(t *testing.T) {
	s := newKeyboardState()
	old, err := resolveKeys([]string{"a", "s"})
	require.NoError(t, err)
	s.press(old["s"])

	usages, err := mergeKeys(old, []string{"a", "q"}, s)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x14), usages["q"].Code, "new symbol is typeable")
	assert.Contains(t, usages, "s", "held key stays releasable")

	s.release(old["s"])
	usages, err = mergeKeys(usages, []string{"a", "q"}, s)
	require.NoError(t, err)
	assert.NotContains(t, usages, "s")

	_, err = mergeKeys(usages, []string{"a", "NoSuchKey"}, s)
	assert.Error(t, err)
}

func TestLogActuator(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewRegistry(Provider{Log: zap.New(core)})
	act, err := r.NewFromJSON(json.RawMessage(`"log"`))
	require.NoError(t, err)

	act.Press("a")
	act.Release("a")
	act.Release("a")
	require.NoError(t, act.SetKeys([]string{"b", "Hyper"}))
	act.Press("b")
	require.NoError(t, act.Close())

	entries := logs.AllUntimed()
	require.Len(t, entries, 5)
	assert.Equal(t, "press", entries[0].Message)
	assert.Equal(t, true, entries[1].ContextMap()["wasDown"])
	assert.Equal(t, false, entries[2].ContextMap()["wasDown"])
	assert.Equal(t, "closing with keys still down", entries[4].Message)
}

func TestRegistryUnknownBackend(t *testing.T) {
	r := NewRegistry(Provider{Log: zap.NewNop()})
	assert.Equal(t, []string{"log", "uhid"}, r.Names())
	_, err := r.NewFromJSON(json.RawMessage(`{"xdotool": {}}`))
	assert.Error(t, err)
}
