package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Mode string

const (
	// ModeQueued serializes colliding note-ons through the pending queue.
	ModeQueued Mode = "queued"
	// ModeDirect presses on note-on and releases on note-off with no queue.
	ModeDirect Mode = "direct"
)

const DefaultWindow = 100 * time.Millisecond

type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}

type Config struct {
	Mode   Mode     `json:"mode"`
	Window Duration `json:"window"`
	// AutoRelease schedules a release one window after immediate presses too.
	// Drained presses are always released by a timer.
	AutoRelease bool `json:"autoRelease"`
	// CoalesceDuplicates keeps a single queue slot per note id.
	CoalesceDuplicates bool `json:"coalesceDuplicates"`
	// StrictRelease drops note-offs for notes that are not currently held.
	StrictRelease bool `json:"strictRelease"`
	// MaxQueue bounds the pending queue; 0 means unbounded.
	MaxQueue int `json:"maxQueue"`
}

func DefaultConfig() Config {
	return Config{
		Mode:   ModeQueued,
		Window: Duration(DefaultWindow),
	}
}

func (c Config) WindowDuration() time.Duration {
	return time.Duration(c.Window)
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeQueued, ModeDirect:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", time.Duration(c.Window))
	}
	if c.MaxQueue < 0 {
		return fmt.Errorf("maxQueue must not be negative, got %d", c.MaxQueue)
	}
	return nil
}
