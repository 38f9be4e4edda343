package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingActuator struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingActuator) Press(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "+"+key)
}

func (r *recordingActuator) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "-"+key)
}

func (r *recordingActuator) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func startScheduler(t *testing.T, cfg Config, act Actuator) (*Scheduler, context.CancelFunc, <-chan error) {
	t.Helper()
	s, err := New(zap.NewNop(), cfg, newTestKeymap(16), act)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not start")
	}
	return s, cancel, done
}

func TestSchedulerSerializesBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = Duration(20 * time.Millisecond)
	act := &recordingActuator{}
	s, cancel, done := startScheduler(t, cfg, act)
	defer cancel()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 5}, now))
	require.NoError(t, s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 8}, now.Add(time.Millisecond)))
	require.NoError(t, s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 2}, now.Add(2*time.Millisecond)))

	expected := []string{"+k5", "-k5", "+k2", "-k2", "+k8", "-k8"}
	require.Eventually(t, func() bool {
		return len(act.Events()) == len(expected)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, expected, act.Events())

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	assert.Nil(t, snap.Active)
	assert.Zero(t, snap.Timers)

	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerReleasesOnShutdown(t *testing.T) {
	act := &recordingActuator{}
	s, cancel, done := startScheduler(t, DefaultConfig(), act)

	ctx := context.Background()
	require.NoError(t, s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 3}, time.Now()))
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		return err == nil && snap.Active != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"+k3", "-k3"}, act.Events())

	err := s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 4}, time.Now())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSchedulerReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = Duration(time.Hour)
	act := &recordingActuator{}
	s, cancel, done := startScheduler(t, cfg, act)
	defer func() {
		cancel()
		<-done
	}()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 1}, now))
	require.NoError(t, s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 2}, now))
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, snap.Pending)

	require.NoError(t, s.Reset(ctx))
	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	assert.Nil(t, snap.Active)
	assert.Equal(t, []string{"+k1", "-k1"}, act.Events())
}

func TestSchedulerReconfigure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = Duration(time.Hour)
	act := &recordingActuator{}
	s, cancel, done := startScheduler(t, cfg, act)
	defer func() {
		cancel()
		<-done
	}()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 1}, now))
	require.NoError(t, s.Handle(ctx, NoteEvent{Kind: NoteOn, NoteID: 2}, now))

	assert.Error(t, s.Reconfigure(ctx, Config{Mode: "bogus", Window: Duration(time.Millisecond)}, nil))

	cfg.Window = Duration(10 * time.Millisecond)
	require.NoError(t, s.Reconfigure(ctx, cfg, nil))
	require.Eventually(t, func() bool {
		return len(act.Events()) == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"+k1", "-k1", "+k2", "-k2"}, act.Events())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(zap.NewNop(), Config{}, newTestKeymap(1), &recordingActuator{})
	assert.Error(t, err)
}
