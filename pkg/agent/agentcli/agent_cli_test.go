package agentcli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, configDir string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(configDir)
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulateFromStdin(t *testing.T) {
	out, err := execute(t, t.TempDir(), "on(5, 0ms) on(2, 10ms)", "simulate", "-", "--window", "50ms")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "note-on")
	assert.Contains(t, lines[0], "pressed")
	assert.Contains(t, lines[2], "queued #1 at 50ms")
	assert.Contains(t, lines[3], "release")
	assert.Contains(t, lines[4], "press")
	assert.Contains(t, lines[5], "release")
}

func TestSimulateUsesConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("scheduler:\n  window: 20ms\n"), 0o644))
	script := filepath.Join(dir, "burst.txt")
	require.NoError(t, os.WriteFile(script, []byte("on(1, 0ms)\non(2, 5ms)\n"), 0o644))

	out, err := execute(t, dir, "", "simulate", script)
	require.NoError(t, err)
	assert.Contains(t, out, "queued #1 at 20ms")

	out, err = execute(t, dir, "", "simulate", script, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "outcome: queued")
	assert.Contains(t, out, "position: 1")
}

func TestSimulateRejectsBadScript(t *testing.T) {
	_, err := execute(t, t.TempDir(), "press(1)", "simulate", "-")
	assert.Error(t, err)
}

func TestKeymapCommand(t *testing.T) {
	out, err := execute(t, t.TempDir(), "", "keymap")
	require.NoError(t, err)
	assert.Contains(t, out, "noteId: 0")
	assert.Contains(t, out, "note: 84")
}

func TestPrintConfig(t *testing.T) {
	out, err := execute(t, t.TempDir(), "", "print-config")
	require.NoError(t, err)
	assert.Contains(t, out, "baseNote: 48")
	assert.Contains(t, out, "mode: queued")
	assert.Contains(t, out, "actuator: log")
}
