// Package registry holds named component constructors that are configured from JSON.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("component not found")

type ComponentCreator[C any, P any] func(config json.RawMessage, provider P) (C, error)

type Registry[C any, P any] struct {
	components map[string]ComponentCreator[C, P]
	provider   P
}

func NewRegistry[C any, P any](provider P) *Registry[C, P] {
	return &Registry[C, P]{
		provider:   provider,
		components: make(map[string]ComponentCreator[C, P]),
	}
}

func (r *Registry[C, P]) Register(id string, creator ComponentCreator[C, P]) error {
	if _, ok := r.components[id]; ok {
		return fmt.Errorf("component already registered: %s", id)
	}
	r.components[id] = creator
	return nil
}

func (r *Registry[C, P]) MustRegister(id string, creator ComponentCreator[C, P]) {
	if err := r.Register(id, creator); err != nil {
		panic(err)
	}
}

func (r *Registry[C, P]) Has(id string) bool {
	_, ok := r.components[id]
	return ok
}

func (r *Registry[C, P]) Names() []string {
	names := make([]string, 0, len(r.components))
	for id := range r.components {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

func (r *Registry[C, P]) New(id string, config json.RawMessage) (C, error) {
	creator, ok := r.components[id]
	if !ok {
		var component C
		return component, fmt.Errorf("%w: %s (known: %s)", ErrNotFound, id, strings.Join(r.Names(), ", "))
	}
	return creator(config, r.provider)
}

// NewFromJSON accepts either a bare name ("log") or a single-key object
// ({"uhid": {...}}) whose value is passed to the creator as its config.
func (r *Registry[C, P]) NewFromJSON(data json.RawMessage) (C, error) {
	id, config, err := ParseRef(data)
	if err != nil {
		var component C
		return component, err
	}
	return r.New(id, config)
}

func ParseRef(data json.RawMessage) (string, json.RawMessage, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, fmt.Errorf("component must be a name or a single-key object: %w", err)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("component object must have exactly one key, got %d", len(obj))
	}
	for id, config := range obj {
		return id, config, nil
	}
	return "", nil, nil
}
