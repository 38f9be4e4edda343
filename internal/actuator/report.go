package actuator

import (
	"github.com/neuroplastio/neio-midi/pkg/hidkeys"
)

const maxRollover = 6

// bootKeyboardDescriptor is the HID 1.11 Appendix B boot keyboard: one
// modifier byte, one reserved byte, five LED bits and six key slots.
var bootKeyboardDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0xE0, //   Usage Minimum (Left Control)
	0x29, 0xE7, //   Usage Maximum (Right GUI)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant)
	0x95, 0x05, //   Report Count (5)
	0x75, 0x01, //   Report Size (1)
	0x05, 0x08, //   Usage Page (LEDs)
	0x19, 0x01, //   Usage Minimum (Num Lock)
	0x29, 0x05, //   Usage Maximum (Kana)
	0x91, 0x02, //   Output (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x03, //   Report Size (3)
	0x91, 0x01, //   Output (Constant)
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0x65, //   Usage Maximum (101)
	0x81, 0x00, //   Input (Data, Array)
	0xC0, // End Collection
}

// keyboardState tracks pressed usages in press order. Shifted symbols hold
// Left Shift for as long as any of them is down.
type keyboardState struct {
	keys    []uint8
	shifted map[uint8]bool
}

func newKeyboardState() *keyboardState {
	return &keyboardState{
		shifted: make(map[uint8]bool),
	}
}

// press reports whether the report changed. A seventh key is refused.
func (s *keyboardState) press(u hidkeys.Usage) (changed bool, full bool) {
	for _, k := range s.keys {
		if k == u.Code {
			return false, false
		}
	}
	if len(s.keys) >= maxRollover {
		return false, true
	}
	s.keys = append(s.keys, u.Code)
	if u.Shift {
		s.shifted[u.Code] = true
	}
	return true, false
}

func (s *keyboardState) release(u hidkeys.Usage) bool {
	for i, k := range s.keys {
		if k == u.Code {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			delete(s.shifted, u.Code)
			return true
		}
	}
	return false
}

func (s *keyboardState) isDown(code uint8) bool {
	for _, k := range s.keys {
		if k == code {
			return true
		}
	}
	return false
}

func (s *keyboardState) reset() {
	s.keys = s.keys[:0]
	for k := range s.shifted {
		delete(s.shifted, k)
	}
}

func (s *keyboardState) pressed() int {
	return len(s.keys)
}

func (s *keyboardState) report() []byte {
	r := make([]byte, 8)
	if len(s.shifted) > 0 {
		r[0] = hidkeys.ModLeftShift
	}
	copy(r[2:], s.keys)
	return r
}
