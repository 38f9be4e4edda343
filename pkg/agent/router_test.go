package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/neuroplastio/neio-midi/internal/keymap"
	"github.com/neuroplastio/neio-midi/internal/midisvc"
	"github.com/neuroplastio/neio-midi/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSink struct {
	mu      sync.Mutex
	notes   []scheduler.NoteEvent
	resets  int
	configs []scheduler.Config
	keymaps []scheduler.Keymap
}

func (f *fakeSink) Handle(_ context.Context, event scheduler.NoteEvent, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, event)
	return nil
}

func (f *fakeSink) Reconfigure(_ context.Context, cfg scheduler.Config, keys scheduler.Keymap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	f.keymaps = append(f.keymaps, keys)
	return nil
}

func (f *fakeSink) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

// fakeKeyset accepts every symbol except those in reject.
type fakeKeyset struct {
	reject map[string]bool
	sets   [][]string
}

func (f *fakeKeyset) SetKeys(keys []string) error {
	for _, k := range keys {
		if f.reject[k] {
			return fmt.Errorf("cannot type %q", k)
		}
	}
	f.sets = append(f.sets, keys)
	return nil
}

func newTestRouter(t *testing.T, sink noteSink) (*router, *observer.ObservedLogs) {
	t.Helper()
	km, err := keymap.FromConfig(keymap.DefaultConfig())
	require.NoError(t, err)
	keys := atomic.NewPointer(km)
	core, logs := observer.New(zap.InfoLevel)
	return &router{
		log:     zap.New(core),
		sink:    sink,
		keyset:  &fakeKeyset{},
		keys:    keys,
		current: DefaultUserConfig(),
	}, logs
}

func TestRouterTranslatesNotes(t *testing.T) {
	sink := &fakeSink{}
	r, _ := newTestRouter(t, sink)
	ctx := context.Background()
	now := time.Now()

	r.onEvent(ctx, midisvc.EventMessage{Key: "piano", Message: midisvc.Event{Note: &midisvc.Note{On: true, Key: 53, At: now}}})
	r.onEvent(ctx, midisvc.EventMessage{Key: "piano", Message: midisvc.Event{Note: &midisvc.Note{Key: 53, At: now}}})
	r.onEvent(ctx, midisvc.EventMessage{Key: "piano", Message: midisvc.Event{Note: &midisvc.Note{On: true, Key: 20, At: now}}})

	assert.Equal(t, []scheduler.NoteEvent{
		{Kind: scheduler.NoteOn, NoteID: 5},
		{Kind: scheduler.NoteOff, NoteID: 5},
		{Kind: scheduler.NoteOn, NoteID: -28},
	}, sink.notes)
}

func TestRouterResetsOnDisconnect(t *testing.T) {
	sink := &fakeSink{}
	r, logs := newTestRouter(t, sink)
	ctx := context.Background()

	r.onEvent(ctx, midisvc.EventMessage{Key: "piano", Message: midisvc.Event{Connected: true}})
	assert.Equal(t, 0, sink.resets)
	r.onEvent(ctx, midisvc.EventMessage{Key: "piano", Message: midisvc.Event{Disconnected: true}})
	assert.Equal(t, 1, sink.resets)
	assert.Equal(t, 1, logs.FilterMessage("listening").Len())
}

func TestRouterReload(t *testing.T) {
	sink := &fakeSink{}
	r, logs := newTestRouter(t, sink)
	ctx := context.Background()
	before := r.keys.Load()

	cfg := DefaultUserConfig()
	cfg.Scheduler.Window = scheduler.Duration(50 * time.Millisecond)
	r.onReload(ctx, cfg)
	require.Len(t, sink.configs, 1)
	assert.Nil(t, sink.keymaps[0])
	assert.Same(t, before, r.keys.Load())

	cfg.BaseNote = 60
	cfg.Actuator = json.RawMessage(`"uhid"`)
	r.onReload(ctx, cfg)
	require.Len(t, sink.configs, 2)
	assert.NotNil(t, sink.keymaps[1])
	assert.Equal(t, 60, r.keys.Load().BaseNote())
	assert.Equal(t, 1, logs.FilterMessage("actuator changes take effect after a restart").Len())
	assert.Equal(t, 60, r.current.BaseNote)

	keyset := r.keyset.(*fakeKeyset)
	require.Len(t, keyset.sets, 1, "actuator keys follow keymap changes only")
	assert.Len(t, keyset.sets[0], len(keymap.DefaultKeys))
}

func TestRouterReloadRejectsUntypeableKeymap(t *testing.T) {
	sink := &fakeSink{}
	r, logs := newTestRouter(t, sink)
	r.keyset = &fakeKeyset{reject: map[string]bool{"Hyper": true}}
	ctx := context.Background()
	before := r.keys.Load()

	cfg := DefaultUserConfig()
	cfg.Names = []string{"Space", "Hyper"}
	r.onReload(ctx, cfg)

	assert.Empty(t, sink.configs)
	assert.Same(t, before, r.keys.Load())
	assert.Empty(t, r.current.Names)
	assert.Equal(t, 1, logs.FilterMessage("keymap cannot be typed, keeping the previous one").Len())

	cfg.Names = []string{"Space"}
	r.onReload(ctx, cfg)
	require.Len(t, sink.configs, 1)
	assert.Equal(t, len(keymap.DefaultKeys)+1, r.keys.Load().Len())
}

type failingSink struct {
	fakeSink
}

func (f *failingSink) Reconfigure(context.Context, scheduler.Config, scheduler.Keymap) error {
	return scheduler.ErrNotRunning
}

func TestRouterReloadRestoresKeysWhenSchedulerFails(t *testing.T) {
	r, _ := newTestRouter(t, &failingSink{})
	keyset := r.keyset.(*fakeKeyset)

	cfg := DefaultUserConfig()
	cfg.Names = []string{"Space"}
	r.onReload(context.Background(), cfg)

	require.Len(t, keyset.sets, 2)
	assert.Len(t, keyset.sets[0], len(keymap.DefaultKeys)+1)
	assert.Len(t, keyset.sets[1], len(keymap.DefaultKeys))
	assert.Equal(t, len(keymap.DefaultKeys), r.keys.Load().Len())
}

func TestRouterReloadKeepsPreviousOnError(t *testing.T) {
	sink := &fakeSink{}
	r, logs := newTestRouter(t, sink)
	ctx := context.Background()

	bad := DefaultUserConfig()
	bad.Keys = "aa"
	r.onReload(ctx, bad)

	bad = DefaultUserConfig()
	bad.Scheduler.Mode = "chord"
	r.onReload(ctx, bad)

	assert.Empty(t, sink.configs)
	assert.Equal(t, keymap.DefaultKeys, r.current.Keys)
	assert.Equal(t, 2, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestRouterRun(t *testing.T) {
	sink := &fakeSink{}
	r, _ := newTestRouter(t, sink)
	events := make(chan midisvc.EventMessage, 1)
	reloads := make(chan UserConfig, 1)
	r.events = events
	r.reloads = reloads

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.run(ctx) }()

	events <- midisvc.EventMessage{Key: "piano", Message: midisvc.Event{Note: &midisvc.Note{On: true, Key: 48, At: time.Now()}}}
	reloads <- DefaultUserConfig()
	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.notes) == 1 && len(sink.configs) == 1
	}, time.Second, 5*time.Millisecond)

	close(events)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("router did not stop after the event stream closed")
	}
}
