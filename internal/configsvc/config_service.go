// Package configsvc watches YAML configuration files and notifies clients of changes.
package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
	"go.uber.org/zap"
)

var defaultOptions = serviceOptions{
	debounce: 100 * time.Millisecond,
}

type serviceOptions struct {
	debounce time.Duration
}

type Option func(*serviceOptions)

// WithDebounce coalesces bursts of writes to one reload.
func WithDebounce(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.debounce = d
	}
}

type subscriber func(event fsnotify.Event)

type Service struct {
	log     *zap.Logger
	options serviceOptions

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	subscribers []subscriber
	ready       chan struct{}
}

func New(log *zap.Logger, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:     log,
		options: options,
		ready:   make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	s.watcher = watcher
	defer s.watcher.Close()
	close(s.ready)
	s.log.Info("Config service started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.mu.Lock()
			subs := s.subscribers
			s.mu.Unlock()
			for _, sub := range subs {
				sub(event)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Watcher error", zap.Error(err))
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Register reads the configuration file at path on top of def, then watches
// it and calls fn with every changed version. fn is not called when a write
// leaves the contents unchanged. Register must be called after Ready.
// Service instance is used as a parameter instead of the method receiver to enable generic types.
func Register[T any](s *Service, path string, def T, fn func(config T, err error)) (T, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return def, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	config, sum, err := readConfig(absPath, def)
	if err != nil {
		return def, fmt.Errorf("failed to read config: %w", err)
	}
	if err := watch(s, absPath, def, sum, fn); err != nil {
		return def, err
	}
	return config, nil
}

// RegisterWriteable is Register that writes def to path first when the file
// does not exist yet.
func RegisterWriteable[T any](s *Service, path string, def T, fn func(config T, err error)) (T, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return def, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	if err := EnsureExists(absPath, def); err != nil {
		return def, err
	}
	return Register(s, absPath, def, fn)
}

// EnsureExists writes def to path unless the file is already there.
func EnsureExists[T any](path string, def T) error {
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := writeConfig(path, def); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to stat config: %w", err)
	}
	return nil
}

// Load reads path once without watching it.
func Load[T any](path string, def T) (T, error) {
	config, _, err := readConfig(path, def)
	return config, err
}

func watch[T any](s *Service, path string, def T, sum uint64, fn func(config T, err error)) error {
	if err := s.watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to add path to watcher %s: %w", path, err)
	}
	debounced := debounce.New(s.options.debounce)
	var mu sync.Mutex
	last := sum
	reload := func() {
		config, newSum, err := readConfig(path, def)
		mu.Lock()
		if err == nil && newSum == last {
			mu.Unlock()
			s.log.Debug("config unchanged", zap.String("path", path))
			return
		}
		if err == nil {
			last = newSum
		}
		mu.Unlock()
		fn(config, err)
	}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, func(event fsnotify.Event) {
		if event.Name == path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
			debounced(reload)
		}
	})
	s.mu.Unlock()
	return nil
}

func writeConfig[T any](path string, config T) error {
	jsonB, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	yamlB, err := yaml.JSONToYAML(jsonB)
	if err != nil {
		return fmt.Errorf("failed to convert json to yaml: %w", err)
	}

	err = os.WriteFile(path, yamlB, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// readConfig decodes path on top of def and returns the xxhash of the raw
// file contents.
func readConfig[T any](path string, def T) (T, uint64, error) {
	yamlB, err := os.ReadFile(path)
	if err != nil {
		return def, 0, fmt.Errorf("failed to read config file: %w", err)
	}
	sum := xxhash.Sum64(yamlB)

	jsonB, err := yaml.YAMLToJSON(yamlB)
	if err != nil {
		return def, sum, fmt.Errorf("failed to convert yaml to json: %w", err)
	}
	// decode into a copy so slices in def are never written through
	var config T
	defB, err := json.Marshal(def)
	if err != nil {
		return def, sum, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	if err := json.Unmarshal(defB, &config); err != nil {
		return def, sum, fmt.Errorf("failed to copy defaults: %w", err)
	}
	err = json.Unmarshal(jsonB, &config)
	if err != nil {
		return def, sum, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return config, sum, nil
}
