package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrNotRunning = errors.New("scheduler is not running")

var defaultOptions = schedulerOptions{
	now:        time.Now,
	intakeSize: 256,
}

type schedulerOptions struct {
	now        func() time.Time
	intakeSize int
	observer   func(Actuation)
}

type Option func(*schedulerOptions)

// WithClock sets the wall clock used to fire timers.
func WithClock(now func() time.Time) Option {
	return func(o *schedulerOptions) {
		o.now = now
	}
}

// WithIntakeSize sets the capacity of the intake channel.
func WithIntakeSize(n int) Option {
	return func(o *schedulerOptions) {
		o.intakeSize = n
	}
}

// WithObserver is called from the scheduler goroutine after every actuation.
func WithObserver(fn func(Actuation)) Option {
	return func(o *schedulerOptions) {
		o.observer = fn
	}
}

type request struct {
	event *NoteEvent
	at    time.Time

	reconfigure *reconfigureRequest
	reset       bool
	snapshot    chan Snapshot
}

type reconfigureRequest struct {
	cfg  Config
	keys Keymap
}

// Snapshot is a copy of the scheduler state taken inside the loop.
type Snapshot struct {
	Config  Config
	Pending []int
	Active  *ActiveNote
	Timers  int
}

// Scheduler runs a Machine on a single goroutine. Note events, timer expiry,
// reconfiguration and resets are all serialized through that goroutine.
type Scheduler struct {
	log     *zap.Logger
	options schedulerOptions
	machine *Machine

	intake  chan request
	ready   chan struct{}
	stopped chan struct{}
}

func New(log *zap.Logger, cfg Config, keys Keymap, actuator Actuator, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	machine := NewMachine(log, cfg, keys, actuator)
	if options.observer != nil {
		machine.Observe(options.observer)
	}
	return &Scheduler{
		log:     log,
		options: options,
		machine: machine,
		intake:  make(chan request, options.intakeSize),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

// Start runs the loop until ctx is cancelled. Held keys are released and
// pending notes discarded on the way out.
func (s *Scheduler) Start(ctx context.Context) error {
	defer close(s.stopped)
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	defer t.Stop()

	cfg := s.machine.Config()
	s.log.Info("Scheduler started",
		zap.String("mode", string(cfg.Mode)),
		zap.Duration("window", cfg.WindowDuration()),
	)
	close(s.ready)
	for {
		if deadline, ok := s.machine.NextDeadline(); ok {
			d := deadline.Sub(s.options.now())
			if d < 0 {
				d = 0
			}
			stopTimer(t)
			t.Reset(d)
		} else {
			stopTimer(t)
		}

		select {
		case <-ctx.Done():
			s.machine.Reset(s.options.now())
			s.log.Info("Scheduler stopped")
			return nil
		case <-t.C:
			s.machine.Advance(s.options.now())
		case req := <-s.intake:
			s.process(req)
		}
	}
}

func (s *Scheduler) process(req request) {
	switch {
	case req.event != nil:
		d := s.machine.Handle(*req.event, req.at)
		if d.Outcome != OutcomeIgnored {
			s.log.Debug("note handled",
				zap.Stringer("kind", req.event.Kind),
				zap.Int("note", req.event.NoteID),
				zap.Stringer("outcome", d.Outcome),
			)
		}
	case req.reconfigure != nil:
		s.machine.Reconfigure(req.reconfigure.cfg, req.reconfigure.keys, s.options.now())
		s.log.Info("Scheduler reconfigured",
			zap.String("mode", string(req.reconfigure.cfg.Mode)),
			zap.Duration("window", req.reconfigure.cfg.WindowDuration()),
		)
	case req.reset:
		s.machine.Reset(s.options.now())
	case req.snapshot != nil:
		snap := Snapshot{
			Config:  s.machine.Config(),
			Pending: s.machine.Pending(),
			Timers:  s.machine.PendingTimers(),
		}
		if active, ok := s.machine.Active(); ok {
			snap.Active = &active
		}
		req.snapshot <- snap
	}
}

// Handle queues an event for the loop and returns without waiting for it to
// be applied. It only blocks while the intake buffer is full.
func (s *Scheduler) Handle(ctx context.Context, event NoteEvent, at time.Time) error {
	return s.send(ctx, request{event: &event, at: at})
}

func (s *Scheduler) Reconfigure(ctx context.Context, cfg Config, keys Keymap) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}
	return s.send(ctx, request{reconfigure: &reconfigureRequest{cfg: cfg, keys: keys}})
}

// Reset releases held keys and drops everything pending, e.g. when the
// input device goes away.
func (s *Scheduler) Reset(ctx context.Context) error {
	return s.send(ctx, request{reset: true})
}

func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	if err := s.send(ctx, request{snapshot: ch}); err != nil {
		return Snapshot{}, err
	}
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.stopped:
		return Snapshot{}, ErrNotRunning
	case snap := <-ch:
		return snap, nil
	}
}

func (s *Scheduler) send(ctx context.Context, req request) error {
	select {
	case <-s.stopped:
		return ErrNotRunning
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrNotRunning
	case s.intake <- req:
		return nil
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
