package agent

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/neuroplastio/neio-midi/internal/keymap"
	"github.com/neuroplastio/neio-midi/internal/midisvc"
	"github.com/neuroplastio/neio-midi/internal/scheduler"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type noteSink interface {
	Handle(ctx context.Context, event scheduler.NoteEvent, at time.Time) error
	Reconfigure(ctx context.Context, cfg scheduler.Config, keys scheduler.Keymap) error
	Reset(ctx context.Context) error
}

type keySetter interface {
	SetKeys(keys []string) error
}

// router feeds MIDI events and config reloads to the scheduler from one
// goroutine.
type router struct {
	log     *zap.Logger
	sink    noteSink
	keyset  keySetter
	keys    *atomic.Pointer[keymap.Keymap]
	current UserConfig
	events  <-chan midisvc.EventMessage
	reloads <-chan UserConfig
}

func (r *router) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-r.events:
			if !ok {
				return nil
			}
			r.onEvent(ctx, msg)
		case cfg := <-r.reloads:
			r.onReload(ctx, cfg)
		}
	}
}

func (r *router) onEvent(ctx context.Context, msg midisvc.EventMessage) {
	event := msg.Message
	switch {
	case event.Note != nil:
		km := r.keys.Load()
		note := scheduler.NoteEvent{Kind: scheduler.NoteOff, NoteID: km.NoteID(int(event.Note.Key))}
		if event.Note.On {
			note.Kind = scheduler.NoteOn
		}
		err := r.sink.Handle(ctx, note, event.Note.At)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("failed to hand note to scheduler", zap.Int("note", note.NoteID), zap.Error(err))
		}
	case event.Connected:
		r.log.Info("listening", zap.String("port", msg.Key))
	case event.Disconnected:
		r.log.Warn("input lost, releasing all keys", zap.String("port", msg.Key))
		if err := r.sink.Reset(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("failed to reset scheduler", zap.Error(err))
		}
	}
}

func (r *router) onReload(ctx context.Context, cfg UserConfig) {
	if err := cfg.Scheduler.Validate(); err != nil {
		r.log.Error("invalid scheduler config, keeping the previous one", zap.Error(err))
		return
	}
	var keys scheduler.Keymap
	var km *keymap.Keymap
	if !reflect.DeepEqual(cfg.Config, r.current.Config) {
		var err error
		km, err = keymap.FromConfig(cfg.Config)
		if err != nil {
			r.log.Error("invalid keymap, keeping the previous one", zap.Error(err))
			return
		}
		keys = km
	}
	if km != nil {
		if err := r.keyset.SetKeys(keySymbols(km)); err != nil {
			r.log.Error("keymap cannot be typed, keeping the previous one", zap.Error(err))
			return
		}
	}
	if !bytes.Equal(bytes.TrimSpace(cfg.Actuator), bytes.TrimSpace(r.current.Actuator)) {
		r.log.Warn("actuator changes take effect after a restart")
	}
	if err := r.sink.Reconfigure(ctx, cfg.Scheduler, keys); err != nil {
		r.log.Error("failed to reconfigure scheduler", zap.Error(err))
		if km != nil {
			if err := r.keyset.SetKeys(keySymbols(r.keys.Load())); err != nil {
				r.log.Error("failed to restore actuator keys", zap.Error(err))
			}
		}
		return
	}
	if km != nil {
		r.keys.Store(km)
	}
	r.current = cfg
	r.log.Info("config reloaded",
		zap.String("mode", string(cfg.Scheduler.Mode)),
		zap.Duration("window", cfg.Scheduler.WindowDuration()),
		zap.Bool("keymapChanged", km != nil),
	)
}

func keySymbols(km *keymap.Keymap) []string {
	entries := km.Entries()
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Key)
	}
	return symbols
}
