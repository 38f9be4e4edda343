package midisvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
)

var ErrPortNotFound = errors.New("midi port not found")

// Port is what is remembered about an input port across runs.
type Port struct {
	Name        string    `json:"name"`
	Connections int       `json:"connections"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

const portPrefix = "midi/ports/"

func portKey(name string) []byte {
	return []byte(portPrefix + name)
}

// PortRegistry stores Port records in badger.
type PortRegistry struct {
	db  *badger.DB
	now func() time.Time
}

func NewPortRegistry(db *badger.DB, now func() time.Time) *PortRegistry {
	return &PortRegistry{db: db, now: now}
}

// Seen upserts the port and bumps LastSeenAt. connected also counts a
// new connection.
func (r *PortRegistry) Seen(name string, connected bool) (Port, error) {
	var port Port
	now := r.now()
	err := r.db.Update(func(txn *badger.Txn) error {
		key := portKey(name)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			port = Port{Name: name}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &port)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal port: %w", err)
			}
		}
		if port.FirstSeenAt.IsZero() {
			port.FirstSeenAt = now
		}
		port.LastSeenAt = now
		if connected {
			port.Connections++
		}
		b, err := json.Marshal(port)
		if err != nil {
			return fmt.Errorf("failed to marshal port: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return Port{}, fmt.Errorf("failed to update port %s: %w", name, err)
	}
	return port, nil
}

func (r *PortRegistry) Get(name string) (Port, error) {
	var port Port
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(portKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &port)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return Port{}, fmt.Errorf("%w: %s", ErrPortNotFound, name)
	case err != nil:
		return Port{}, fmt.Errorf("failed to get port: %w", err)
	}
	return port, nil
}

// List returns every known port ordered by name.
func (r *PortRegistry) List() ([]Port, error) {
	var ports []Port
	err := r.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte(portPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var port Port
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &port)
			})
			if err != nil {
				return err
			}
			ports = append(ports, port)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	return ports, nil
}
