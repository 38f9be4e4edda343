// Package midisvc watches MIDI inputs, keeps one of them connected and
// publishes its decoded notes.
package midisvc

import (
	"context"
	"fmt"
	"time"

	"github.com/neuroplastio/neio-midi/pkg/bus"
	"github.com/puzpuzpuz/xsync/v3"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

// Event is published on the bus keyed by port name. Exactly one field is set.
type Event struct {
	Note         *Note
	Connected    bool
	Disconnected bool
}

type (
	EventBus     = bus.Bus[string, Event]
	EventMessage = bus.Message[string, Event]
)

var defaultOptions = serviceOptions{
	rescanInterval: time.Second,
	maxSkew:        250 * time.Millisecond,
	preferred:      DefaultPreferred,
	excluded:       DefaultExcluded,
}

type serviceOptions struct {
	port           string
	preferred      []string
	excluded       []string
	rescanInterval time.Duration
	maxSkew        time.Duration
}

type Option func(*serviceOptions)

// WithPort selects an input by number or name fragment instead of the
// preferred patterns.
func WithPort(port string) Option {
	return func(o *serviceOptions) {
		o.port = port
	}
}

func WithPreferred(patterns ...string) Option {
	return func(o *serviceOptions) {
		o.preferred = patterns
	}
}

func WithExcluded(patterns ...string) Option {
	return func(o *serviceOptions) {
		o.excluded = patterns
	}
}

func WithRescanInterval(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.rescanInterval = d
	}
}

// WithMaxSkew bounds how far driver timestamps may lag the wall clock.
func WithMaxSkew(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.maxSkew = d
	}
}

type connection struct {
	info PortInfo
	in   drivers.In
	stop func()
}

type Service struct {
	log      *zap.Logger
	drv      drivers.Driver
	registry *PortRegistry
	now      func() time.Time
	options  serviceOptions
	selector selector
	ready    chan struct{}

	bus       *EventBus
	connected *xsync.MapOf[string, *connection]
	lost      chan string
	lastErr   string
}

func New(log *zap.Logger, drv drivers.Driver, registry *PortRegistry, now func() time.Time, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:      log,
		drv:      drv,
		registry: registry,
		now:      now,
		options:  options,
		selector: selector{
			port:      options.port,
			preferred: options.preferred,
			excluded:  options.excluded,
		},
		ready:     make(chan struct{}),
		bus:       bus.NewBus[string, Event](log.Named("bus")),
		connected: xsync.NewMapOf[string, *connection](),
		lost:      make(chan string, 1),
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start scans for inputs until ctx is cancelled. A lost input is
// reported with a Disconnected event and replaced on the next scan.
func (s *Service) Start(ctx context.Context) error {
	busErr := make(chan error, 1)
	go func() {
		busErr <- s.bus.Start(ctx)
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-busErr:
		return fmt.Errorf("failed to start midi bus: %w", err)
	case <-s.bus.Ready():
	}

	s.scan(ctx)
	close(s.ready)
	s.log.Info("MIDI service started", zap.String("driver", s.drv.String()))

	ticker := time.NewTicker(s.options.rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.connected.Range(func(name string, _ *connection) bool {
				s.disconnect(ctx, name, "shutdown")
				return true
			})
			return nil
		case <-ticker.C:
			s.scan(ctx)
		case name := <-s.lost:
			s.disconnect(ctx, name, "listener error")
			s.scan(ctx)
		}
	}
}

// Subscribe returns decoded notes and connection changes from every port.
func (s *Service) Subscribe(ctx context.Context) <-chan EventMessage {
	return s.bus.Subscribe(ctx)
}

// Connected returns the name of the connected input, if any.
func (s *Service) Connected() (string, bool) {
	var name string
	s.connected.Range(func(n string, _ *connection) bool {
		name = n
		return false
	})
	return name, name != ""
}

func (s *Service) ListPorts() ([]PortInfo, error) {
	ins, err := s.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to list midi inputs: %w", err)
	}
	ports := make([]PortInfo, 0, len(ins))
	for _, in := range ins {
		ports = append(ports, PortInfo{
			Number:   in.Number(),
			Name:     in.String(),
			Excluded: s.selector.isExcluded(in.String()),
		})
	}
	return ports, nil
}

// KnownPorts lists every input ever seen, connected or not.
func (s *Service) KnownPorts() ([]Port, error) {
	if s.registry == nil {
		return nil, nil
	}
	return s.registry.List()
}

func (s *Service) scan(ctx context.Context) {
	ports, err := s.ListPorts()
	if err != nil {
		s.log.Error("failed to scan midi inputs", zap.Error(err))
		return
	}
	if name, ok := s.Connected(); ok {
		for _, p := range ports {
			if p.Name == name {
				return
			}
		}
		s.disconnect(ctx, name, "port disappeared")
	}

	info, err := s.selector.pick(ports)
	if err != nil {
		if err.Error() != s.lastErr {
			s.log.Warn("no midi input to connect", zap.Error(err))
			s.lastErr = err.Error()
		}
		return
	}
	s.lastErr = ""
	if err := s.connect(ctx, info); err != nil {
		s.log.Error("failed to connect midi input", zap.String("port", info.Name), zap.Error(err))
	}
}

func (s *Service) connect(ctx context.Context, info PortInfo) error {
	ins, err := s.drv.Ins()
	if err != nil {
		return err
	}
	var found drivers.In
	for _, in := range ins {
		if in.Number() == info.Number && in.String() == info.Name {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("%w: %q", ErrPortNotFound, info.Name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("failed to open %q: %w", info.Name, err)
	}

	name := info.Name
	stop, err := midi.ListenTo(found, s.listener(ctx, name, NewDecoder(s.now, s.options.maxSkew)), midi.HandleError(func(err error) {
		s.log.Warn("midi listener error", zap.String("port", name), zap.Error(err))
		select {
		case s.lost <- name:
		default:
		}
	}))
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("failed to listen to %q: %w", name, err)
	}
	s.connected.Store(name, &connection{info: info, in: found, stop: stop})

	port := Port{Name: name, Connections: 1, FirstSeenAt: s.now()}
	if s.registry != nil {
		port, err = s.registry.Seen(name, true)
		if err != nil {
			s.log.Error("failed to record port", zap.Error(err))
		}
	}
	s.log.Info("MIDI input connected",
		zap.String("port", name),
		zap.Int("number", info.Number),
		zap.Int("connections", port.Connections),
		zap.Time("firstSeenAt", port.FirstSeenAt),
	)
	s.bus.Publish(ctx, name, Event{Connected: true})
	return nil
}

// listener runs on the driver's goroutine.
func (s *Service) listener(ctx context.Context, name string, decoder *Decoder) func(midi.Message, int32) {
	publish := s.bus.CreatePublisher(name)
	return func(msg midi.Message, timestampms int32) {
		note, ok := decoder.Decode(msg, timestampms)
		if !ok {
			s.log.Debug("ignored midi message", zap.String("port", name), zap.Stringer("msg", msg))
			return
		}
		s.log.Debug("note",
			zap.String("port", name),
			zap.Bool("on", note.On),
			zap.Uint8("key", note.Key),
			zap.Uint8("velocity", note.Velocity),
		)
		publish(ctx, Event{Note: &note})
	}
}

func (s *Service) disconnect(ctx context.Context, name string, reason string) {
	conn, ok := s.connected.LoadAndDelete(name)
	if !ok {
		return
	}
	conn.stop()
	if err := conn.in.Close(); err != nil {
		s.log.Debug("failed to close midi input", zap.String("port", name), zap.Error(err))
	}
	s.log.Warn("MIDI input disconnected", zap.String("port", name), zap.String("reason", reason))
	if ctx.Err() == nil {
		s.bus.Publish(ctx, name, Event{Disconnected: true})
	}
}
