// Package bus is a small keyed publish/subscribe hub.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type Message[K comparable, M any] struct {
	Key     K
	Message M
}

type Publisher[M any] func(ctx context.Context, msg M)

var defaultOptions = busOptions{
	intakeSize: 64,
	bufferSize: 64,
}

type busOptions struct {
	intakeSize int
	bufferSize int
}

type Option func(*busOptions)

// WithIntakeSize sets how many published messages may wait for delivery.
func WithIntakeSize(n int) Option {
	return func(o *busOptions) {
		o.intakeSize = n
	}
}

// WithBufferSize sets the per-subscriber channel capacity. A subscriber
// whose buffer is full holds delivery back until it reads again.
func WithBufferSize(n int) Option {
	return func(o *busOptions) {
		o.bufferSize = n
	}
}

type subscription[K comparable, M any] struct {
	ch   chan Message[K, M]
	keys map[K]struct{}
	done <-chan struct{}

	mu     sync.Mutex
	closed bool
}

// send blocks until the subscriber takes msg, unsubscribes or the bus stops.
// It reports false when the bus stopped first.
func (s *subscription[K, M]) send(ctx context.Context, msg Message[K, M]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.done:
		return true
	case s.ch <- msg:
		return true
	}
}

func (s *subscription[K, M]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.ch)
}

func (s *subscription[K, M]) wants(key K) bool {
	if len(s.keys) == 0 {
		return true
	}
	_, ok := s.keys[key]
	return ok
}

type Bus[K comparable, M any] struct {
	log     *zap.Logger
	options busOptions
	ready   chan struct{}

	ch   chan Message[K, M]
	subs *xsync.MapOf[*subscription[K, M], struct{}]
}

func NewBus[K comparable, M any](log *zap.Logger, opts ...Option) *Bus[K, M] {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Bus[K, M]{
		log:     log,
		options: options,
		ready:   make(chan struct{}),
		ch:      make(chan Message[K, M], options.intakeSize),
		subs:    xsync.NewMapOf[*subscription[K, M], struct{}](),
	}
}

// Start delivers messages until ctx is cancelled.
func (b *Bus[K, M]) Start(ctx context.Context) error {
	if b.options.bufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}
	close(b.ready)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-b.ch:
			b.deliver(ctx, msg)
		}
	}
}

func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bus[K, M]) deliver(ctx context.Context, msg Message[K, M]) {
	b.subs.Range(func(sub *subscription[K, M], _ struct{}) bool {
		if !sub.wants(msg.Key) {
			return true
		}
		return sub.send(ctx, msg)
	})
}

func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
	case b.ch <- Message[K, M]{Key: key, Message: msg}:
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

// Subscribe returns a channel receiving messages for the given keys, or
// for every key when none are given. The channel is closed when ctx is done.
func (b *Bus[K, M]) Subscribe(ctx context.Context, keys ...K) <-chan Message[K, M] {
	sub := &subscription[K, M]{
		ch:   make(chan Message[K, M], b.options.bufferSize),
		keys: make(map[K]struct{}, len(keys)),
		done: ctx.Done(),
	}
	for _, k := range keys {
		sub.keys[k] = struct{}{}
	}
	b.subs.Store(sub, struct{}{})
	go func() {
		<-ctx.Done()
		b.subs.Delete(sub)
		sub.close()
	}()
	return sub.ch
}
