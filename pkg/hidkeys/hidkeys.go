// Package hidkeys resolves key symbols and key names to HID Keyboard/Keypad
// page usages for a US layout.
package hidkeys

import (
	"fmt"
	"unicode/utf8"

	"github.com/iancoleman/strcase"
)

// Usage is a Keyboard/Keypad page usage id. Shift is set for symbols that
// need Left Shift held on a US layout.
type Usage struct {
	Code  uint8
	Shift bool
}

const (
	ModLeftCtrl   uint8 = 0x01
	ModLeftShift  uint8 = 0x02
	ModLeftAlt    uint8 = 0x04
	ModLeftGUI    uint8 = 0x08
	ModRightCtrl  uint8 = 0x10
	ModRightShift uint8 = 0x20
	ModRightAlt   uint8 = 0x40
	ModRightGUI   uint8 = 0x80
)

var symbols = map[rune]Usage{}

var names = map[string]uint8{
	"Enter":      0x28,
	"Escape":     0x29,
	"Esc":        0x29,
	"Backspace":  0x2A,
	"Tab":        0x2B,
	"Space":      0x2C,
	"CapsLock":   0x39,
	"F1":         0x3A,
	"F2":         0x3B,
	"F3":         0x3C,
	"F4":         0x3D,
	"F5":         0x3E,
	"F6":         0x3F,
	"F7":         0x40,
	"F8":         0x41,
	"F9":         0x42,
	"F10":        0x43,
	"F11":        0x44,
	"F12":        0x45,
	"Insert":     0x49,
	"Home":       0x4A,
	"PageUp":     0x4B,
	"Delete":     0x4C,
	"End":        0x4D,
	"PageDown":   0x4E,
	"RightArrow": 0x4F,
	"LeftArrow":  0x50,
	"DownArrow":  0x51,
	"UpArrow":    0x52,
}

var codeNames = map[uint8]string{}

func init() {
	for i := 0; i < 26; i++ {
		symbols[rune('a'+i)] = Usage{Code: uint8(0x04 + i)}
		symbols[rune('A'+i)] = Usage{Code: uint8(0x04 + i), Shift: true}
	}
	for i, r := range "1234567890" {
		symbols[r] = Usage{Code: uint8(0x1E + i)}
	}
	for i, r := range "!@#$%^&*()" {
		symbols[r] = Usage{Code: uint8(0x1E + i), Shift: true}
	}
	pairs := []struct {
		plain, shifted rune
		code           uint8
	}{
		{'-', '_', 0x2D},
		{'=', '+', 0x2E},
		{'[', '{', 0x2F},
		{']', '}', 0x30},
		{'\\', '|', 0x31},
		{';', ':', 0x33},
		{'\'', '"', 0x34},
		{'`', '~', 0x35},
		{',', '<', 0x36},
		{'.', '>', 0x37},
		{'/', '?', 0x38},
	}
	for _, p := range pairs {
		symbols[p.plain] = Usage{Code: p.code}
		symbols[p.shifted] = Usage{Code: p.code, Shift: true}
	}
	symbols[' '] = Usage{Code: names["Space"]}
	symbols['\t'] = Usage{Code: names["Tab"]}
	symbols['\n'] = Usage{Code: names["Enter"]}

	for name, code := range names {
		if name == "Esc" {
			continue
		}
		codeNames[code] = name
	}
	for r, u := range symbols {
		if _, ok := codeNames[u.Code]; !ok && !u.Shift {
			codeNames[u.Code] = string(r)
		}
	}
}

// Lookup accepts a single character or a key name. Names are matched in
// CamelCase, so "page_up", "page-up" and "PageUp" are the same key.
func Lookup(key string) (Usage, error) {
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		if u, ok := symbols[r]; ok {
			return u, nil
		}
	}
	if code, ok := names[strcase.ToCamel(key)]; ok {
		return Usage{Code: code}, nil
	}
	return Usage{}, fmt.Errorf("no HID usage for key %q", key)
}

func Name(code uint8) string {
	name, ok := codeNames[code]
	if !ok {
		return fmt.Sprintf("0x%02x", code)
	}
	return name
}
