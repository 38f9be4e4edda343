// Package scheduler turns note-on/note-off events into key press and release
// commands, serializing note-ons that collide within a fixed window.
package scheduler

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

type Kind uint8

const (
	NoteOn Kind = iota
	NoteOff
)

func (k Kind) String() string {
	switch k {
	case NoteOn:
		return "on"
	case NoteOff:
		return "off"
	}
	return "unknown"
}

// NoteEvent carries a note id relative to the keymap base note.
type NoteEvent struct {
	Kind   Kind
	NoteID int
}

// Keymap resolves a note id to the key symbol it actuates.
type Keymap interface {
	Key(noteID int) (string, bool)
}

// Actuator performs the key side effects. Calls are fire-and-forget;
// implementations deal with their own failures.
type Actuator interface {
	Press(key string)
	Release(key string)
}

type ActuationKind uint8

const (
	Press ActuationKind = iota
	Release
)

func (k ActuationKind) String() string {
	if k == Press {
		return "press"
	}
	return "release"
}

// Actuation is reported to the observer for every actuator call.
type Actuation struct {
	Kind   ActuationKind
	NoteID int
	Key    string
	At     time.Time
}

type Outcome uint8

const (
	OutcomeIgnored Outcome = iota
	OutcomePressed
	OutcomeQueued
	OutcomeCoalesced
	OutcomeDropped
	OutcomeReleased
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomePressed:
		return "pressed"
	case OutcomeQueued:
		return "queued"
	case OutcomeCoalesced:
		return "coalesced"
	case OutcomeDropped:
		return "dropped"
	case OutcomeReleased:
		return "released"
	}
	return "unknown"
}

// Decision describes what Handle did with an event. FireAt and Position are
// set for queued notes: FireAt is lastActuation + window * queue length at
// insertion time, Position is the 1-based slot in the sorted queue.
type Decision struct {
	Outcome  Outcome
	FireAt   time.Time
	Position int
}

// ActiveNote is the single note currently considered held.
type ActiveNote struct {
	NoteID    int
	Key       string
	PressedAt time.Time
}

type heldNote struct {
	ActiveNote
	release *timer
}

// Machine is the collision scheduler state. It is driven entirely by the
// timestamps passed in and is not safe for concurrent use; Scheduler owns
// one from a single goroutine.
type Machine struct {
	log      *zap.Logger
	cfg      Config
	keys     Keymap
	actuator Actuator
	observer func(Actuation)

	queue  []int
	held   map[int]*heldNote
	active *heldNote

	lastActuation time.Time
	hasActuated   bool
	lastSeen      time.Time

	timers timerQueue
	drain  *timer
	seq    uint64
}

func NewMachine(log *zap.Logger, cfg Config, keys Keymap, actuator Actuator) *Machine {
	return &Machine{
		log:      log,
		cfg:      cfg,
		keys:     keys,
		actuator: actuator,
		held:     make(map[int]*heldNote),
	}
}

// Observe registers fn to be called after every actuator call.
func (m *Machine) Observe(fn func(Actuation)) {
	m.observer = fn
}

func (m *Machine) Config() Config {
	return m.cfg
}

// Handle fires every timer due at or before now, then applies the event.
// now is clamped so it never goes backwards.
func (m *Machine) Handle(event NoteEvent, now time.Time) Decision {
	now = m.clamp(now)
	m.Advance(now)

	key, ok := m.keys.Key(event.NoteID)
	if !ok {
		return Decision{Outcome: OutcomeIgnored}
	}
	switch event.Kind {
	case NoteOn:
		return m.noteOn(event.NoteID, key, now)
	case NoteOff:
		return m.noteOff(event.NoteID, key, now)
	}
	return Decision{Outcome: OutcomeIgnored}
}

// Advance fires all timers due at or before now, in fire-time order. Each
// timer acts at its own scheduled time, not at now.
func (m *Machine) Advance(now time.Time) int {
	now = m.clamp(now)
	fired := 0
	for {
		t, ok := m.timers.popDue(now)
		if !ok {
			return fired
		}
		fired++
		m.fire(t)
	}
}

// NextDeadline returns the fire time of the earliest pending timer.
func (m *Machine) NextDeadline() (time.Time, bool) {
	t, ok := m.timers.peek()
	if !ok {
		return time.Time{}, false
	}
	return t.at, true
}

// Pending returns a copy of the queue in drain order.
func (m *Machine) Pending() []int {
	out := make([]int, len(m.queue))
	copy(out, m.queue)
	return out
}

func (m *Machine) Active() (ActiveNote, bool) {
	if m.active == nil {
		return ActiveNote{}, false
	}
	return m.active.ActiveNote, true
}

// PendingTimers is the number of outstanding timers.
func (m *Machine) PendingTimers() int {
	return m.timers.Len()
}

// Reconfigure swaps the config and, when keys is non-nil, the keymap. Queued
// notes survive unless the new keymap no longer maps them; held notes are
// released before a keymap swap so their keys cannot get stuck.
func (m *Machine) Reconfigure(cfg Config, keys Keymap, now time.Time) {
	now = m.clamp(now)
	m.Advance(now)
	if keys != nil {
		m.releaseAll(now)
		m.keys = keys
		kept := m.queue[:0]
		for _, id := range m.queue {
			if _, ok := keys.Key(id); ok {
				kept = append(kept, id)
			}
		}
		m.queue = kept
	}
	m.cfg = cfg
	if cfg.Mode == ModeDirect {
		if len(m.queue) > 0 {
			m.log.Warn("dropping pending notes on switch to direct mode", zap.Ints("pending", m.queue))
		}
		m.queue = nil
		m.timers.cancel(m.drain)
		m.drain = nil
		return
	}
	if len(m.queue) > 0 {
		m.scheduleDrain(m.drainAt())
	} else {
		m.timers.cancel(m.drain)
		m.drain = nil
	}
}

// Reset releases every held key, cancels all timers and empties the queue.
func (m *Machine) Reset(now time.Time) {
	now = m.clamp(now)
	if len(m.queue) > 0 {
		m.log.Debug("discarding pending notes", zap.Ints("pending", m.queue))
	}
	m.releaseAll(now)
	m.queue = nil
	m.timers = nil
	m.drain = nil
}

func (m *Machine) clamp(now time.Time) time.Time {
	if now.Before(m.lastSeen) {
		return m.lastSeen
	}
	m.lastSeen = now
	return now
}

func (m *Machine) window() time.Duration {
	return m.cfg.WindowDuration()
}

func (m *Machine) drainAt() time.Time {
	return m.lastActuation.Add(m.window())
}

func (m *Machine) noteOn(id int, key string, now time.Time) Decision {
	if m.cfg.Mode == ModeDirect {
		m.press(id, key, now, false)
		return Decision{Outcome: OutcomePressed}
	}
	if len(m.queue) == 0 && (!m.hasActuated || !now.Before(m.drainAt())) {
		m.press(id, key, now, m.cfg.AutoRelease)
		return Decision{Outcome: OutcomePressed}
	}

	if m.cfg.CoalesceDuplicates {
		i := sort.SearchInts(m.queue, id)
		if i < len(m.queue) && m.queue[i] == id {
			m.log.Debug("note already queued", zap.Int("note", id))
			return Decision{Outcome: OutcomeCoalesced, FireAt: m.lastActuation.Add(m.window() * time.Duration(i+1)), Position: i + 1}
		}
	}

	// Insert after any equal ids so duplicates keep arrival order.
	pos := sort.SearchInts(m.queue, id+1)
	m.queue = append(m.queue, 0)
	copy(m.queue[pos+1:], m.queue[pos:])
	m.queue[pos] = id

	if m.cfg.MaxQueue > 0 && len(m.queue) > m.cfg.MaxQueue {
		dropped := m.queue[len(m.queue)-1]
		m.queue = m.queue[:len(m.queue)-1]
		m.log.Warn("pending queue full, dropping note",
			zap.Int("note", dropped),
			zap.Int("maxQueue", m.cfg.MaxQueue),
		)
		if dropped == id && pos == len(m.queue) {
			m.scheduleDrain(m.drainAt())
			return Decision{Outcome: OutcomeDropped}
		}
	}

	fireAt := m.lastActuation.Add(m.window() * time.Duration(len(m.queue)))
	m.scheduleDrain(m.drainAt())
	m.log.Debug("note queued",
		zap.Int("note", id),
		zap.Int("position", pos+1),
		zap.Ints("pending", m.queue),
		zap.Time("fireAt", fireAt),
	)
	return Decision{Outcome: OutcomeQueued, FireAt: fireAt, Position: pos + 1}
}

func (m *Machine) noteOff(id int, key string, now time.Time) Decision {
	if held, ok := m.held[id]; ok {
		m.release(held, now)
		return Decision{Outcome: OutcomeReleased}
	}
	if m.cfg.StrictRelease {
		m.log.Debug("note-off for note that is not held", zap.Int("note", id))
		return Decision{Outcome: OutcomeIgnored}
	}
	m.actuator.Release(key)
	m.notify(Actuation{Kind: Release, NoteID: id, Key: key, At: now})
	return Decision{Outcome: OutcomeReleased}
}

func (m *Machine) press(id int, key string, at time.Time, autoRelease bool) {
	if m.cfg.Mode == ModeQueued && m.active != nil {
		m.log.Debug("releasing active note before next press",
			zap.Int("note", m.active.NoteID),
			zap.Int("next", id),
		)
		m.release(m.active, at)
	}
	if prev, ok := m.held[id]; ok {
		m.timers.cancel(prev.release)
	}

	m.actuator.Press(key)
	m.notify(Actuation{Kind: Press, NoteID: id, Key: key, At: at})

	held := &heldNote{ActiveNote: ActiveNote{NoteID: id, Key: key, PressedAt: at}}
	if autoRelease {
		held.release = m.schedule(at.Add(m.window()), actionRelease, id)
	}
	m.held[id] = held
	m.active = held
	m.lastActuation = at
	m.hasActuated = true
}

func (m *Machine) release(held *heldNote, at time.Time) {
	m.timers.cancel(held.release)
	held.release = nil
	if m.held[held.NoteID] == held {
		delete(m.held, held.NoteID)
	}
	if m.active == held {
		m.active = nil
	}
	m.actuator.Release(held.Key)
	m.notify(Actuation{Kind: Release, NoteID: held.NoteID, Key: held.Key, At: at})
}

func (m *Machine) releaseAll(at time.Time) {
	ids := make([]int, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		m.release(m.held[id], at)
	}
}

func (m *Machine) fire(t *timer) {
	switch t.action {
	case actionRelease:
		held, ok := m.held[t.noteID]
		if !ok || held.release != t {
			return
		}
		held.release = nil
		m.release(held, t.at)
	case actionDrain:
		if m.drain == t {
			m.drain = nil
		}
		m.drainNext(t.at)
	}
}

func (m *Machine) drainNext(at time.Time) {
	if len(m.queue) == 0 {
		return
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	key, ok := m.keys.Key(id)
	if ok {
		m.press(id, key, at, true)
	}
	if len(m.queue) > 0 {
		m.scheduleDrain(at.Add(m.window()))
	}
}

// scheduleDrain cancels the outstanding drain timer and replaces it.
func (m *Machine) scheduleDrain(at time.Time) {
	if m.timers.cancel(m.drain) {
		m.log.Debug("drain timer superseded", zap.Time("at", at))
	}
	m.drain = m.schedule(at, actionDrain, 0)
}

func (m *Machine) schedule(at time.Time, action timerAction, noteID int) *timer {
	m.seq++
	t := &timer{at: at, action: action, noteID: noteID, seq: m.seq}
	m.timers.schedule(t)
	return t
}

func (m *Machine) notify(a Actuation) {
	if m.observer != nil {
		m.observer(a)
	}
}
