// Package handset talks to the radio handset over the CRSF serial line.
package handset

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/crsflink/pkg/crsf"
	fx "github.com/robotalks/crsflink/pkg/framework"
	"github.com/robotalks/crsflink/pkg/telemetry"
)

// Defaults.
const (
	DefaultName              = "CyberBrick TX"
	DefaultVersion           = "1.0.0"
	DefaultInterval          = 20 * time.Millisecond
	DefaultWatchdogInterval  = time.Second
	DefaultLinkTimeout       = 1500 * time.Millisecond
	DefaultSyncInterval      = 200 * time.Millisecond
	DefaultLinkStatsInterval = 500 * time.Millisecond
)

// DefaultBaudRates is the autobaud search order.
var DefaultBaudRates = []int{400000, 115200, 5250000, 3750000, 1870000, 921600, 2250000}

// Config configures a Handset.
type Config struct {
	// Name and Version are reported in device information.
	Name    string
	Version string
	// Interval is the RC frame period expected from the handset.
	Interval time.Duration
	// BaudRates are tried in order when no valid frames arrive.
	BaudRates []int
	// Baud is the rate the port is opened with. Zero means BaudRates[0].
	Baud int
	// WatchdogInterval is the window for judging frame quality.
	WatchdogInterval time.Duration
	// LinkTimeout is how long without a valid frame before the link is
	// declared lost. It must be longer than WatchdogInterval.
	LinkTimeout time.Duration
	// SyncInterval is the period of mixer timing frames.
	SyncInterval time.Duration
	// LinkStatsInterval is the period of link statistics frames.
	LinkStatsInterval time.Duration
	// QueueSize is the capacity of the outbound queue.
	QueueSize int
	// Model is the model id used until the handset selects one.
	Model uint8
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Name:              DefaultName,
		Version:           DefaultVersion,
		Interval:          DefaultInterval,
		BaudRates:         DefaultBaudRates,
		WatchdogInterval:  DefaultWatchdogInterval,
		LinkTimeout:       DefaultLinkTimeout,
		SyncInterval:      DefaultSyncInterval,
		LinkStatsInterval: DefaultLinkStatsInterval,
		QueueSize:         telemetry.DefaultQueueSize,
	}
}

// Handset processes the serial line to the handset: it extracts RC channels,
// answers device pings, tracks model selection, detects the baud rate and
// sends queued frames back within the line budget.
//
// HandleInput must be called from a single goroutine. Channels, ModelID,
// Connected, Baud, Stats and Enqueue may be called from any goroutine.
type Handset struct {
	Port       Port
	Duplex     Duplex
	Listener   Listener
	Sync       Synchronizer
	LinkStats  LinkStatsSource
	Parameters ParameterHandler
	Clock      fx.TimeSource

	cfg     Config
	framer  Framer
	queue   *telemetry.Queue
	rbuf    [crsf.MaxPacketLen]byte
	baudIdx int

	windowGood uint32
	windowBad  uint32

	channels  atomic.Pointer[crsf.ChannelData]
	model     atomic.Uint32
	connected atomic.Bool
	baud      atomic.Int64

	lastChecked   time.Time
	lastGood      time.Time
	lastSyncSent  time.Time
	lastStatsSent time.Time

	statsLock sync.Mutex
	stats     Stats
}

// New creates a Handset on port.
func New(port Port, cfg Config) *Handset {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if len(cfg.BaudRates) == 0 {
		cfg.BaudRates = def.BaudRates
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = def.WatchdogInterval
	}
	if cfg.LinkTimeout <= 0 {
		cfg.LinkTimeout = def.LinkTimeout
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.LinkStatsInterval <= 0 {
		cfg.LinkStatsInterval = def.LinkStatsInterval
	}
	h := &Handset{
		Port:  port,
		cfg:   cfg,
		queue: telemetry.NewQueue(cfg.QueueSize),
	}
	baud := cfg.BaudRates[0]
	for n, rate := range cfg.BaudRates {
		if rate == cfg.Baud {
			h.baudIdx, baud = n, rate
			break
		}
	}
	h.baud.Store(int64(baud))
	h.model.Store(uint32(cfg.Model))
	ch := crsf.ChannelData{}
	h.channels.Store(&ch)
	return h
}

// Config returns the effective configuration.
func (h *Handset) Config() Config {
	return h.cfg
}

// Channels returns the latest RC channels.
func (h *Handset) Channels() crsf.ChannelData {
	return *h.channels.Load()
}

// ModelID returns the model selected by the handset.
func (h *Handset) ModelID() uint8 {
	return uint8(h.model.Load())
}

// SetModelID overrides the model id until the handset selects another one.
func (h *Handset) SetModelID(id uint8) {
	h.model.Store(uint32(id))
}

// Connected tells if valid frames are arriving.
func (h *Handset) Connected() bool {
	return h.connected.Load()
}

// Baud returns the current baud rate.
func (h *Handset) Baud() int {
	return int(h.baud.Load())
}

// Stats returns a copy of the counters.
func (h *Handset) Stats() Stats {
	h.statsLock.Lock()
	defer h.statsLock.Unlock()
	s := h.stats
	s.Baud = h.Baud()
	s.Connected = h.Connected()
	s.QueueDropped = h.queue.Dropped()
	return s
}

// Enqueue queues a frame for the handset.
func (h *Handset) Enqueue(frame crsf.Frame) {
	h.queue.Enqueue(frame)
}

// Queue returns the outbound queue.
func (h *Handset) Queue() *telemetry.Queue {
	return h.queue
}

// MaxPeriodBytes is the number of bytes the line can carry back to the
// handset in one RC period, keeping 20% of the line idle.
func (h *Handset) MaxPeriodBytes() int {
	return int(int64(h.Baud()) / 10 * int64(h.cfg.Interval) / int64(time.Second) * 80 / 100)
}

// MaxPacketBytes is the size limit of a single outbound frame.
func (h *Handset) MaxPacketBytes() int {
	return min(h.MaxPeriodBytes(), crsf.MaxPacketLen)
}

// HandleInput reads everything available from the port, dispatches complete
// frames and runs the watchdog.
func (h *Handset) HandleInput() error {
	for {
		n, err := h.Port.Read(h.rbuf[:])
		for _, b := range h.rbuf[:n] {
			h.framer.Push(b)
			h.ProcessPacket()
		}
		if err != nil {
			if os.IsTimeout(err) {
				break
			}
			return err
		}
		if n < len(h.rbuf) {
			break
		}
	}
	h.watchdog(h.now())
	return nil
}

// ProcessPacket dispatches all complete frames in the buffer. It returns
// true if any frame was valid.
func (h *Handset) ProcessPacket() bool {
	var good bool
	for {
		frame, res := h.framer.Next()
		switch res {
		case NeedMore:
			return good
		case BadFrame:
			h.statsLock.Lock()
			h.stats.TotalBad++
			h.statsLock.Unlock()
		case GoodFrame:
			good = true
			now := h.now()
			h.lastGood = now
			h.statsLock.Lock()
			h.stats.TotalGood++
			h.statsLock.Unlock()
			h.handleFrame(frame, now)
			h.handleOutput(len(frame), now)
		}
	}
}

func (h *Handset) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Time()
	}
	return time.Now()
}

func (h *Handset) handleFrame(frame crsf.Frame, now time.Time) {
	if !h.connected.Load() {
		h.connected.Store(true)
		glog.Infof("handset connected at %d baud", h.Baud())
		if h.Listener != nil {
			h.Listener.LinkUp()
		}
	}
	switch {
	case frame.Type() == crsf.TypeRCChannels:
		h.handleChannels(frame, now)
	case frame.IsExtended():
		h.handleExtended(frame)
	default:
		glog.V(3).Infof("ignore frame type %#x", frame.Type())
	}
}

func (h *Handset) handleChannels(frame crsf.Frame, now time.Time) {
	payload := frame.Payload()
	if len(payload) != crsf.ChannelsPayloadLen {
		glog.V(2).Infof("bad channels frame: %d bytes payload", len(payload))
		return
	}
	ch := crsf.UnpackChannels(payload)
	h.channels.Store(&ch)
	h.statsLock.Lock()
	h.stats.LastRC = now
	h.statsLock.Unlock()
	if h.Sync != nil {
		h.Sync.RecordArrival(now)
	}
}

func (h *Handset) handleExtended(frame crsf.Frame) {
	hdr := frame.ExtHeader()
	if hdr.Dest != crsf.AddrModule && hdr.Dest != crsf.AddrBroadcast {
		return
	}
	switch frame.Type() {
	case crsf.TypeDevicePing:
		var count byte
		if h.Parameters != nil {
			count = h.Parameters.ParameterCount()
		}
		h.queue.Enqueue(crsf.BuildDeviceInfoFrame(h.cfg.Name, h.cfg.Version, count))
	case crsf.TypeParameterRead, crsf.TypeParameterWrite:
		if h.Parameters != nil && hdr.Dest == crsf.AddrModule {
			h.Parameters.HandleParameter(frame)
		}
	case crsf.TypeCommand:
		h.handleCommand(frame.ExtPayload())
	}
}

func (h *Handset) handleCommand(p []byte) {
	if len(p) < 2 || p[0] != crsf.CommandSubcmdRX {
		return
	}
	switch p[1] {
	case crsf.CommandRXBind:
		glog.Info("bind requested")
		if h.Listener != nil {
			h.Listener.BindRequested()
		}
	case crsf.CommandModelSelectID:
		if len(p) < 3 {
			return
		}
		id := p[2]
		h.model.Store(uint32(id))
		glog.Infof("model %d selected", id)
		if h.Listener != nil {
			h.Listener.ModelSelected(id)
		}
	}
}
