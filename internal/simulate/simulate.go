// Package simulate replays a note script through the collision scheduler on
// a virtual clock and records what it would have typed.
package simulate

import (
	"fmt"
	"time"

	"github.com/neuroplastio/neio-midi/internal/scheduler"
	"go.uber.org/zap"
)

type LineKind string

const (
	LineNoteOn  LineKind = "note-on"
	LineNoteOff LineKind = "note-off"
	LinePress   LineKind = "press"
	LineRelease LineKind = "release"
)

// Line is one entry of the timeline. Note lines carry the scheduler's
// decision, actuation lines the key that moved.
type Line struct {
	At       time.Duration `json:"at" yaml:"at"`
	Kind     LineKind      `json:"kind" yaml:"kind"`
	NoteID   int           `json:"noteId" yaml:"noteId"`
	Key      string        `json:"key,omitempty" yaml:"key,omitempty"`
	Outcome  string        `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	FireAt   time.Duration `json:"fireAt,omitempty" yaml:"fireAt,omitempty"`
	Position int           `json:"position,omitempty" yaml:"position,omitempty"`
}

func (l Line) String() string {
	switch l.Kind {
	case LinePress, LineRelease:
		return fmt.Sprintf("%8s  %-8s %3d  %s", l.At, l.Kind, l.NoteID, l.Key)
	}
	s := fmt.Sprintf("%8s  %-8s %3d  %s", l.At, l.Kind, l.NoteID, l.Outcome)
	if l.Position > 0 {
		s += fmt.Sprintf(" #%d at %s", l.Position, l.FireAt)
	}
	return s
}

type nopActuator struct{}

func (nopActuator) Press(string)   {}
func (nopActuator) Release(string) {}

// Run feeds the script to a fresh Machine. With until > 0 the clock stops
// there; otherwise it runs until no timer is left.
func Run(log *zap.Logger, cfg scheduler.Config, keys scheduler.Keymap, script Script, until time.Duration) ([]Line, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	epoch := time.Unix(0, 0)
	var lines []Line
	m := scheduler.NewMachine(log, cfg, keys, nopActuator{})
	m.Observe(func(a scheduler.Actuation) {
		kind := LinePress
		if a.Kind == scheduler.Release {
			kind = LineRelease
		}
		lines = append(lines, Line{At: a.At.Sub(epoch), Kind: kind, NoteID: a.NoteID, Key: a.Key})
	})

	var prev time.Duration
	for i, step := range script.Steps {
		at := time.Duration(step.At)
		if at < prev {
			return nil, fmt.Errorf("step %d at %s is earlier than the previous step at %s", i+1, at, prev)
		}
		if until > 0 && at > until {
			break
		}
		prev = at
		now := epoch.Add(at)

		event := scheduler.NoteEvent{Kind: scheduler.NoteOn, NoteID: step.NoteID}
		kind := LineNoteOn
		if step.Kind == "off" {
			event.Kind = scheduler.NoteOff
			kind = LineNoteOff
		}
		// timers due before the event go first in the timeline
		m.Advance(now)
		idx := len(lines)
		lines = append(lines, Line{At: at, Kind: kind, NoteID: step.NoteID})
		d := m.Handle(event, now)
		lines[idx].Outcome = d.Outcome.String()
		if d.Outcome == scheduler.OutcomeQueued || d.Outcome == scheduler.OutcomeCoalesced {
			lines[idx].FireAt = d.FireAt.Sub(epoch)
			lines[idx].Position = d.Position
		}
	}

	if until > 0 {
		m.Advance(epoch.Add(until))
		return lines, nil
	}
	for {
		deadline, ok := m.NextDeadline()
		if !ok {
			return lines, nil
		}
		m.Advance(deadline)
	}
}
