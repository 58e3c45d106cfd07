// Package bridge forwards RC channels from the handset to the selected
// model over the wireless transport.
package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/crsflink/pkg/crsf"
	"github.com/robotalks/crsflink/pkg/handset"
	"github.com/robotalks/crsflink/pkg/link"
	"github.com/robotalks/crsflink/pkg/phase"
	"github.com/robotalks/crsflink/pkg/telemetry"
	"github.com/robotalks/crsflink/pkg/timer"
	"github.com/robotalks/crsflink/pkg/transport"
)

// PollInterval is the pause between two polls of the serial port.
const PollInterval = time.Millisecond

// Config configures a Bridge.
type Config struct {
	Handset       handset.Config
	Phase         phase.Config
	QualityWindow int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Handset:       handset.DefaultConfig(),
		Phase:         phase.DefaultConfig(),
		QualityWindow: telemetry.DefaultQualityWindow,
	}
}

// SendStats counts channel sends.
type SendStats struct {
	// Sent datagrams accepted by the transport.
	Sent uint64
	// Rejected by the transport.
	Rejected uint64
	// NoPeer means the model id had no peer.
	NoPeer uint64
	// Skipped while waiting for the model id.
	Skipped   uint64
	Delivered uint64
	Failed    uint64
}

// Snapshot is the bridge state at a point in time.
type Snapshot struct {
	Time        time.Time
	State       link.State
	Model       uint8
	Peer        transport.Peer
	Channels    crsf.ChannelData
	Handset     handset.Stats
	Phase       phase.Stats
	Sends       SendStats
	LinkQuality byte
	Parameters  uint64
}

// Bridge owns the handset link, the connection state machine, the phase
// synchronizer and the send timer.
//
// The polling goroutine (Run or Poll) processes serial input; the timer
// goroutine sends channels; transport goroutines report completions.
type Bridge struct {
	handset   *handset.Handset
	machine   *link.Machine
	sync      *phase.Synchronizer
	timer     *timer.Timer
	quality   *telemetry.LinkQuality
	transport transport.Transport
	peers     *transport.PeerTable

	sent, rejected, noPeer, skipped atomic.Uint64
	delivered, failed               atomic.Uint64
	params                          atomic.Uint64
	lastPoll                        atomic.Int64
}

// New creates a Bridge. The port must deliver the handset serial stream.
func New(port handset.Port, tr transport.Transport, peers *transport.PeerTable, cfg Config) (*Bridge, error) {
	b := &Bridge{
		transport: tr,
		peers:     peers,
		quality:   telemetry.NewLinkQuality(cfg.QualityWindow),
	}
	if cfg.Phase.Interval <= 0 {
		cfg.Phase = phase.DefaultConfig()
	}
	cfg.Handset.Interval = cfg.Phase.Interval
	b.timer = timer.New(func() { b.SendChannels() })
	if err := b.timer.SetInterval(cfg.Phase.Interval); err != nil {
		return nil, err
	}
	b.sync = phase.New(cfg.Phase, b.timer)
	b.machine = link.NewMachine(b.timer)
	b.handset = handset.New(port, cfg.Handset)
	b.handset.Sync = b.sync
	b.handset.LinkStats = b.quality
	b.handset.Listener = b
	b.handset.Parameters = b
	tr.OnSendComplete(b)
	return b, nil
}

// Handset returns the handset link.
func (b *Bridge) Handset() *handset.Handset {
	return b.handset
}

// Machine returns the connection state machine.
func (b *Bridge) Machine() *link.Machine {
	return b.machine
}

// Peers returns the peer table.
func (b *Bridge) Peers() *transport.PeerTable {
	return b.peers
}

// Run polls the serial port until ctx is done or reading fails. The send
// timer is stopped on return.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.timer.Stop()
	for {
		if err := b.Poll(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// Poll processes pending serial input once.
func (b *Bridge) Poll() error {
	err := b.handset.HandleInput()
	b.lastPoll.Store(time.Now().UnixNano())
	return err
}

// Alive tells if the port was polled within maxAge.
func (b *Bridge) Alive(maxAge time.Duration) bool {
	last := b.lastPoll.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < maxAge
}

// SendChannels sends the latest channels to the peer of the selected
// model. It runs on every timer tick and returns true if the transport
// accepted the datagram.
func (b *Bridge) SendChannels() bool {
	if !b.machine.CanSend() {
		b.skipped.Add(1)
		return false
	}
	model := b.handset.ModelID()
	peer, ok := b.peers.Lookup(int(model))
	if !ok {
		if b.noPeer.Add(1) == 1 {
			glog.Warningf("no peer for model %d", model)
		}
		return false
	}
	ch := b.handset.Channels()
	if err := b.transport.Send(peer, ch.Bytes()); err != nil {
		b.rejected.Add(1)
		b.quality.Record(false)
		glog.V(2).Infof("send to %s: %v", peer, err)
		return false
	}
	b.sent.Add(1)
	return true
}

// SetModel selects the model without a command from the handset.
func (b *Bridge) SetModel(id uint8) {
	b.handset.SetModelID(id)
	b.machine.ModelSelected()
}

// SendCompleted implements transport.CompletionHandler.
func (b *Bridge) SendCompleted(c transport.Completion) {
	b.quality.Record(c.OK())
	if !c.OK() {
		b.failed.Add(1)
		return
	}
	b.delivered.Add(1)
	b.sync.RecordSent(c.At)
}

// LinkUp implements handset.Listener.
func (b *Bridge) LinkUp() {
	b.machine.LinkUp()
}

// LinkDown implements handset.Listener.
func (b *Bridge) LinkDown() {
	b.machine.LinkDown()
	b.sync.Reset()
	b.quality.Reset()
}

// ModelSelected implements handset.Listener.
func (b *Bridge) ModelSelected(uint8) {
	b.machine.ModelSelected()
}

// BindRequested implements handset.Listener.
func (b *Bridge) BindRequested() {
	glog.Info("bind is not supported by the wireless transport")
}

// ParameterCount implements handset.ParameterHandler. The bridge exposes
// no parameters to the handset menu.
func (b *Bridge) ParameterCount() byte {
	return 0
}

// HandleParameter implements handset.ParameterHandler. Frames are counted
// and dropped.
func (b *Bridge) HandleParameter(frame crsf.Frame) {
	b.params.Add(1)
	if glog.V(2) {
		glog.Infof("parameter frame 0x%02x from 0x%02x: % x", byte(frame.Type()), byte(frame.ExtHeader().Orig), frame.ExtPayload())
	}
}

// Sends returns the send counters.
func (b *Bridge) Sends() SendStats {
	return SendStats{
		Sent:      b.sent.Load(),
		Rejected:  b.rejected.Load(),
		NoPeer:    b.noPeer.Load(),
		Skipped:   b.skipped.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// Snapshot captures the current state.
func (b *Bridge) Snapshot() Snapshot {
	s := Snapshot{
		Time:        time.Now(),
		State:       b.machine.State(),
		Model:       b.handset.ModelID(),
		Channels:    b.handset.Channels(),
		Handset:     b.handset.Stats(),
		Phase:       b.sync.Stats(),
		Sends:       b.Sends(),
		LinkQuality: b.quality.Percent(),
		Parameters:  b.params.Load(),
	}
	s.Peer, _ = b.peers.Lookup(int(s.Model))
	return s
}

// Close stops the send timer and closes the transport.
func (b *Bridge) Close() error {
	b.timer.Stop()
	return b.transport.Close()
}
