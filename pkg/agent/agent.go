package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/neuroplastio/neio-midi/internal/actuator"
	"github.com/neuroplastio/neio-midi/internal/configsvc"
	"github.com/neuroplastio/neio-midi/internal/keymap"
	"github.com/neuroplastio/neio-midi/internal/midisvc"
	"github.com/neuroplastio/neio-midi/internal/scheduler"
	"github.com/neuroplastio/neio-midi/internal/simulate"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

type Agent struct {
	config Config
	log    *zap.Logger

	dbOnce sync.Once
	db     *badger.DB
	dbErr  error

	configSvc *configsvc.Service
	keys      atomic.Pointer[keymap.Keymap]
}

func NewAgent(config Config) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !config.Debug {
		loggerConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &Agent{
		config:    config,
		log:       logger,
		configSvc: configsvc.New(logger.Named("config")),
	}, nil
}

// database opens badger on first use so commands that never touch the port
// registry do not take the directory lock.
func (a *Agent) database() (*badger.DB, error) {
	a.dbOnce.Do(func() {
		dbOptions := badger.DefaultOptions(filepath.Join(a.config.DataDir, "db"))
		dbOptions.Logger = &badgerLogger{l: a.log.Named("badger")}
		db, err := badger.Open(dbOptions)
		if err != nil {
			a.dbErr = fmt.Errorf("failed to open badger db: %w", err)
			return
		}
		a.db = db
	})
	return a.db, a.dbErr
}

func (a *Agent) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
	}
	_ = a.log.Sync()
	return err
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the agent and blocks until the context is cancelled.
// Agent startup will fail if the configuration is not valid.
// In case configuration becomes invalid after the startup, it will remain running with the last valid configuration.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := a.database()
	if err != nil {
		return err
	}
	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("failed to initialize midi driver: %w", err)
	}
	defer drv.Close()

	var opts []midisvc.Option
	if a.config.Port != "" {
		opts = append(opts, midisvc.WithPort(a.config.Port))
	}
	midiSvc := midisvc.New(a.log.Named("midi"), drv, midisvc.NewPortRegistry(db, time.Now), time.Now, opts...)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	select {
	case <-groupCtx.Done():
		return group.Wait()
	case <-a.configSvc.Ready():
	}

	reloads := make(chan UserConfig, 1)
	userConfig, err := configsvc.RegisterWriteable(a.configSvc, a.config.ConfigPath, DefaultUserConfig(), func(cfg UserConfig, err error) {
		if err != nil {
			a.log.Error("failed to reload config, keeping the previous one", zap.Error(err))
			return
		}
		// only the latest pending reload matters
		select {
		case <-reloads:
		default:
		}
		reloads <- cfg
	})
	if err != nil {
		cancel()
		_ = group.Wait()
		return fmt.Errorf("failed to load config: %w", err)
	}

	km, err := keymap.FromConfig(userConfig.Config)
	if err != nil {
		cancel()
		_ = group.Wait()
		return fmt.Errorf("invalid keymap: %w", err)
	}
	a.keys.Store(km)

	act, err := a.newActuator(userConfig, km)
	if err != nil {
		cancel()
		_ = group.Wait()
		return fmt.Errorf("failed to create actuator: %w", err)
	}
	defer act.Close()

	sched, err := scheduler.New(a.log.Named("scheduler"), userConfig.Scheduler, km, act)
	if err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	events := midiSvc.Subscribe(groupCtx)
	r := &router{
		log:     a.log.Named("router"),
		sink:    sched,
		keyset:  act,
		keys:    &a.keys,
		current: userConfig,
		events:  events,
		reloads: reloads,
	}
	group.Go(func() error {
		return midiSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return sched.Start(groupCtx)
	})
	group.Go(func() error {
		return r.run(groupCtx)
	})

	a.log.Info("Agent started",
		zap.String("config", a.config.ConfigPath),
		zap.Int("keys", km.Len()),
		zap.Int("baseNote", km.BaseNote()),
	)
	err = group.Wait()
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) newActuator(cfg UserConfig, km *keymap.Keymap) (actuator.Actuator, error) {
	registry := actuator.NewRegistry(actuator.Provider{
		Log:  a.log.Named("actuator"),
		Keys: keySymbols(km),
	})
	return registry.NewFromJSON(cfg.Actuator)
}

// Keymap is the keymap in effect, nil before Run has loaded the config.
func (a *Agent) Keymap() *keymap.Keymap {
	return a.keys.Load()
}

// LoadUserConfig reads the user config without watching it. A missing file
// yields the defaults.
func (a *Agent) LoadUserConfig() (UserConfig, error) {
	cfg, err := configsvc.Load(a.config.ConfigPath, DefaultUserConfig())
	if errors.Is(err, os.ErrNotExist) {
		return DefaultUserConfig(), nil
	}
	return cfg, err
}

func (a *Agent) ListPorts() ([]midisvc.PortInfo, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize midi driver: %w", err)
	}
	defer drv.Close()
	return midisvc.New(a.log.Named("midi"), drv, nil, time.Now).ListPorts()
}

func (a *Agent) ListKnownPorts() ([]midisvc.Port, error) {
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	return midisvc.NewPortRegistry(db, time.Now).List()
}

// Simulate replays script against the user config, with overrides applied
// to its scheduler section.
func (a *Agent) Simulate(script string, override func(*scheduler.Config), until time.Duration) ([]simulate.Line, error) {
	cfg, err := a.LoadUserConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if override != nil {
		override(&cfg.Scheduler)
	}
	km, err := keymap.FromConfig(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("invalid keymap: %w", err)
	}
	parsed, err := simulate.Parse(script)
	if err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	return simulate.Run(a.log.Named("simulate"), cfg.Scheduler, km, parsed, until)
}
