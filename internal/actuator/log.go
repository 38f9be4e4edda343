package actuator

import (
	"sync"

	"go.uber.org/zap"
)

// Log only records what would have been typed.
type Log struct {
	log *zap.Logger

	mu   sync.Mutex
	down map[string]struct{}
}

var _ Actuator = (*Log)(nil)

func NewLog(log *zap.Logger) *Log {
	return &Log{
		log:  log,
		down: make(map[string]struct{}),
	}
}

func (l *Log) Press(key string) {
	l.mu.Lock()
	l.down[key] = struct{}{}
	held := len(l.down)
	l.mu.Unlock()
	l.log.Info("press", zap.String("key", key), zap.Int("held", held))
}

func (l *Log) Release(key string) {
	l.mu.Lock()
	_, wasDown := l.down[key]
	delete(l.down, key)
	held := len(l.down)
	l.mu.Unlock()
	l.log.Info("release", zap.String("key", key), zap.Bool("wasDown", wasDown), zap.Int("held", held))
}

// SetKeys accepts any symbol.
func (l *Log) SetKeys(keys []string) error {
	l.log.Debug("keys updated", zap.Int("keys", len(keys)))
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.down) > 0 {
		keys := make([]string, 0, len(l.down))
		for k := range l.down {
			keys = append(keys, k)
		}
		l.log.Warn("closing with keys still down", zap.Strings("keys", keys))
	}
	return nil
}
