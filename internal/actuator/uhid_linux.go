//go:build linux

package actuator

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/neuroplastio/neio-midi/pkg/hidkeys"
	"github.com/psanford/uhid"
	"go.uber.org/zap"
)

type uhidReportType uint8

const (
	uhidReportTypeFeature uhidReportType = 0
	uhidReportTypeOutput  uhidReportType = 1
	uhidReportTypeInput   uhidReportType = 2
)

const uhidReportSize = 4096

type getReportRequest struct {
	RequestID  uint32
	ReportID   uint8
	ReportType uhidReportType
}

type getReportReply struct {
	EventType uhid.EventType
	RequestID uint32
	Error     uint16
	Size      uint16
	Data      [uhidReportSize]byte
}

type setReportRequest struct {
	RequestID  uint32
	ReportID   uint8
	ReportType uhidReportType
	Size       uint16
	Data       [uhidReportSize]byte
}

type setReportReply struct {
	EventType uhid.EventType
	RequestID uint32
	Error     uint16
}

// Uhid is a virtual boot keyboard created through /dev/uhid.
type Uhid struct {
	log    *zap.Logger
	dev    *uhid.Device
	events chan uhid.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	usages map[string]hidkeys.Usage

	mu    sync.Mutex
	state *keyboardState
	leds  byte
}

var _ Actuator = (*Uhid)(nil)

func NewUhid(log *zap.Logger, cfg UhidConfig, keys []string) (*Uhid, error) {
	usages, err := resolveKeys(keys)
	if err != nil {
		return nil, err
	}
	dev, err := uhid.NewDevice(cfg.Name, bootKeyboardDescriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to create uhid device: %w", err)
	}
	dev.Data.Bus = 0x03
	dev.Data.VendorID = cfg.VendorID
	dev.Data.ProductID = cfg.ProductID

	ctx, cancel := context.WithCancel(context.Background())
	events, err := dev.Open(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open uhid device: %w", err)
	}
	u := &Uhid{
		log:    log,
		dev:    dev,
		events: events,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		usages: usages,
		state:  newKeyboardState(),
	}
	go u.run()
	log.Info("Virtual keyboard created",
		zap.String("name", cfg.Name),
		zap.String("vendorId", fmt.Sprintf("%04x", cfg.VendorID)),
		zap.String("productId", fmt.Sprintf("%04x", cfg.ProductID)),
	)
	return u, nil
}

func (u *Uhid) Press(key string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	usage, ok := u.usages[key]
	if !ok {
		u.log.Error("press of unmapped key", zap.String("key", key))
		return
	}
	changed, full := u.state.press(usage)
	if full {
		u.log.Warn("rollover limit reached, press dropped", zap.String("key", key))
		return
	}
	if changed {
		u.inject()
	}
}

func (u *Uhid) Release(key string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	usage, ok := u.usages[key]
	if !ok {
		u.log.Error("release of unmapped key", zap.String("key", key))
		return
	}
	if u.state.release(usage) {
		u.inject()
	}
}

func (u *Uhid) SetKeys(keys []string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	usages, err := mergeKeys(u.usages, keys, u.state)
	if err != nil {
		return err
	}
	u.usages = usages
	u.log.Info("Virtual keyboard keys updated", zap.Int("keys", len(keys)))
	return nil
}

// Close sends an empty report before destroying the device.
func (u *Uhid) Close() error {
	u.mu.Lock()
	if u.state.pressed() > 0 {
		u.state.reset()
		u.inject()
	}
	u.mu.Unlock()
	u.cancel()
	<-u.done
	return u.dev.Close()
}

// inject must be called with mu held.
func (u *Uhid) inject() {
	report := u.state.report()
	if err := u.dev.InjectEvent(report); err != nil {
		u.log.Error("failed to inject keyboard report", zap.Error(err))
		return
	}
	u.log.Debug("report injected", zap.Binary("report", report))
}

func (u *Uhid) run() {
	defer close(u.done)
	for {
		select {
		case <-u.ctx.Done():
			return
		case event, ok := <-u.events:
			if !ok {
				return
			}
			switch event.Type {
			case uhid.Output:
				u.onOutput(event.Data)
			case uhid.GetReport:
				u.onGetReport(event.Data)
			case uhid.SetReport:
				u.onSetReport(event.Data)
			}
		}
	}
}

func (u *Uhid) onOutput(data []byte) {
	if len(data) == 0 {
		return
	}
	u.mu.Lock()
	u.leds = data[len(data)-1]
	u.mu.Unlock()
	u.log.Debug("LED state", zap.Uint8("leds", data[len(data)-1]))
}

func (u *Uhid) onGetReport(data []byte) {
	req := getReportRequest{}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &req); err != nil {
		u.log.Error("failed to read GetReport request", zap.Error(err))
		return
	}
	reply := getReportReply{
		EventType: uhid.GetReportReply,
		RequestID: req.RequestID,
	}
	u.mu.Lock()
	switch req.ReportType {
	case uhidReportTypeInput:
		report := u.state.report()
		reply.Size = uint16(len(report))
		copy(reply.Data[:], report)
	case uhidReportTypeOutput:
		reply.Size = 1
		reply.Data[0] = u.leds
	default:
		reply.Error = 1
	}
	u.mu.Unlock()
	if err := u.dev.WriteEvent(reply); err != nil {
		u.log.Error("failed to write GetReport reply", zap.Error(err))
	}
}

func (u *Uhid) onSetReport(data []byte) {
	req := setReportRequest{}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &req); err != nil {
		u.log.Error("failed to read SetReport request", zap.Error(err))
		return
	}
	reply := setReportReply{
		EventType: uhid.SetReportReply,
		RequestID: req.RequestID,
	}
	if req.ReportType == uhidReportTypeOutput && req.Size > 0 && int(req.Size) <= len(req.Data) {
		u.mu.Lock()
		u.leds = req.Data[req.Size-1]
		u.mu.Unlock()
	} else {
		reply.Error = 1
	}
	if err := u.dev.WriteEvent(reply); err != nil {
		u.log.Error("failed to write SetReport reply", zap.Error(err))
	}
}
