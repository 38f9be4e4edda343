// Package actuator performs key presses and releases on behalf of the scheduler.
package actuator

import (
	"encoding/json"

	"github.com/neuroplastio/neio-midi/internal/scheduler"
	"github.com/neuroplastio/neio-midi/pkg/registry"
	"go.uber.org/zap"
)

// Actuator is a scheduler.Actuator that owns a resource. Press and Release
// never fail from the caller's point of view; backends log their own errors.
type Actuator interface {
	scheduler.Actuator
	// SetKeys replaces the symbols the backend must be able to type. On
	// error the previous set stays in effect.
	SetKeys(keys []string) error
	Close() error
}

// Provider is handed to every backend constructor.
type Provider struct {
	Log *zap.Logger
	// Keys lists every symbol the keymap can produce, so backends can
	// reject unusable keymaps up front.
	Keys []string
}

type Registry = registry.Registry[Actuator, Provider]

// NewRegistry returns a registry with every backend available on this
// platform.
func NewRegistry(provider Provider) *Registry {
	r := registry.NewRegistry[Actuator, Provider](provider)
	r.MustRegister("log", func(_ json.RawMessage, p Provider) (Actuator, error) {
		return NewLog(p.Log), nil
	})
	r.MustRegister("uhid", newUhidFromConfig)
	return r
}

func newUhidFromConfig(config json.RawMessage, p Provider) (Actuator, error) {
	cfg := DefaultUhidConfig()
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, err
		}
	}
	u, err := NewUhid(p.Log, cfg, p.Keys)
	if err != nil {
		return nil, err
	}
	return u, nil
}
