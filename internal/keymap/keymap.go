// Package keymap maps relative note ids to key symbols.
package keymap

import (
	"errors"
	"fmt"
)

const (
	// DefaultKeys is one printable symbol per note id, lowest first.
	DefaultKeys = `aksldf;g'h[jq2w3er5t6y7ui]z\xc,v.b/nm`
	// DefaultBaseNote is C4 in the octave numbering where MIDI note 0 is C0.
	DefaultBaseNote = 48
)

var ErrUnknownKey = errors.New("unknown key")

type Config struct {
	BaseNote int    `json:"baseNote"`
	Keys     string `json:"keys"`
	// Names are appended after Keys and take the following note ids.
	Names []string `json:"names,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		BaseNote: DefaultBaseNote,
		Keys:     DefaultKeys,
	}
}

// Symbols splits Keys into one symbol per rune and appends Names.
func (c Config) Symbols() []string {
	symbols := make([]string, 0, len(c.Keys)+len(c.Names))
	for _, r := range c.Keys {
		symbols = append(symbols, string(r))
	}
	return append(symbols, c.Names...)
}

type Entry struct {
	NoteID int    `json:"noteId" yaml:"noteId"`
	Note   int    `json:"note" yaml:"note"`
	Key    string `json:"key" yaml:"key"`
}

// Keymap is immutable once built and safe for concurrent use.
type Keymap struct {
	base    int
	symbols []string
	reverse map[string]int
}

func New(base int, symbols []string) (*Keymap, error) {
	if base < 0 || base > 127 {
		return nil, fmt.Errorf("base note out of range: %d", base)
	}
	if len(symbols) == 0 {
		return nil, errors.New("keymap has no keys")
	}
	reverse := make(map[string]int, len(symbols))
	for i, s := range symbols {
		if s == "" {
			return nil, fmt.Errorf("empty key at note id %d", i)
		}
		if prev, ok := reverse[s]; ok {
			return nil, fmt.Errorf("key %q mapped twice (note ids %d and %d)", s, prev, i)
		}
		reverse[s] = i
	}
	out := make([]string, len(symbols))
	copy(out, symbols)
	return &Keymap{
		base:    base,
		symbols: out,
		reverse: reverse,
	}, nil
}

func FromConfig(cfg Config) (*Keymap, error) {
	return New(cfg.BaseNote, cfg.Symbols())
}

// NoteID converts a raw MIDI note number to a note id. The result may be out
// of range; Key reports that.
func (k *Keymap) NoteID(note int) int {
	return note - k.base
}

func (k *Keymap) Key(noteID int) (string, bool) {
	if noteID < 0 || noteID >= len(k.symbols) {
		return "", false
	}
	return k.symbols[noteID], true
}

func (k *Keymap) NoteForKey(key string) (int, error) {
	id, ok := k.reverse[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return id, nil
}

func (k *Keymap) Len() int {
	return len(k.symbols)
}

func (k *Keymap) BaseNote() int {
	return k.base
}

func (k *Keymap) Entries() []Entry {
	entries := make([]Entry, len(k.symbols))
	for i, s := range k.symbols {
		entries[i] = Entry{NoteID: i, Note: k.base + i, Key: s}
	}
	return entries
}
