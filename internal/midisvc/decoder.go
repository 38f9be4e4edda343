package midisvc

import (
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// Note is a decoded note-on or note-off. A note-on with velocity 0 is
// reported as a note-off.
type Note struct {
	On       bool      `json:"on"`
	Channel  uint8     `json:"channel"`
	Key      uint8     `json:"key"`
	Velocity uint8     `json:"velocity"`
	At       time.Time `json:"at"`
}

// Decoder stamps messages with an arrival time built from the wall clock at
// the start of listening plus the driver's millisecond offset. Stamps never
// go backwards. When the driver offset falls more than maxSkew behind the
// wall clock the base is moved forward, so a driver that reports no timing
// degrades to wall-clock stamping.
type Decoder struct {
	now     func() time.Time
	maxSkew time.Duration

	base time.Time
	last time.Time
}

func NewDecoder(now func() time.Time, maxSkew time.Duration) *Decoder {
	base := now()
	return &Decoder{
		now:     now,
		maxSkew: maxSkew,
		base:    base,
		last:    base,
	}
}

func (d *Decoder) Decode(msg midi.Message, timestampms int32) (Note, bool) {
	var note Note
	switch {
	case msg.GetNoteStart(&note.Channel, &note.Key, &note.Velocity):
		note.On = true
	case msg.GetNoteEnd(&note.Channel, &note.Key):
	default:
		return Note{}, false
	}
	note.At = d.stamp(timestampms)
	return note, true
}

func (d *Decoder) stamp(timestampms int32) time.Time {
	offset := time.Duration(timestampms) * time.Millisecond
	at := d.base.Add(offset)
	if d.maxSkew > 0 {
		wall := d.now()
		if wall.Sub(at) > d.maxSkew {
			d.base = wall.Add(-offset)
			at = wall
		}
	}
	if at.Before(d.last) {
		at = d.last
	}
	d.last = at
	return at
}
