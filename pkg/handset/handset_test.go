package handset

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/crsflink/pkg/crsf"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Time() time.Time {
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type testPort struct {
	lock    sync.Mutex
	input   bytes.Buffer
	output  []crsf.Frame
	bauds   []int
	flushes int
	log     *[]string
}

func (p *testPort) Read(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.input.Len() == 0 {
		return 0, nil
	}
	return p.input.Read(b)
}

func (p *testPort) Write(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	n := len(b)
	for len(b) > 0 {
		f := crsf.Frame(b[:int(b[1])+crsf.NotCountedBytes])
		p.output = append(p.output, append(crsf.Frame(nil), f...))
		b = b[len(f):]
	}
	if p.log != nil {
		*p.log = append(*p.log, "write")
	}
	return n, nil
}

func (p *testPort) SetBaudRate(baud int) error {
	p.bauds = append(p.bauds, baud)
	return nil
}

func (p *testPort) Flush() error {
	p.flushes++
	p.input.Reset()
	return nil
}

func (p *testPort) feed(frames ...[]byte) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, f := range frames {
		p.input.Write(f)
	}
}

type testListener struct {
	ups, downs, binds int
	models            []uint8
}

func (l *testListener) LinkUp() {
	l.ups++
}

func (l *testListener) LinkDown() {
	l.downs++
}

func (l *testListener) ModelSelected(id uint8) {
	l.models = append(l.models, id)
}

func (l *testListener) BindRequested() {
	l.binds++
}

type testEnv struct {
	t        *testing.T
	port     *testPort
	clock    *testClock
	listener *testListener
	handset  *Handset
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	env := &testEnv{
		t:        t,
		port:     &testPort{},
		clock:    &testClock{now: time.Unix(100, 0)},
		listener: &testListener{},
	}
	env.handset = New(env.port, cfg)
	env.handset.Clock = env.clock
	env.handset.Listener = env.listener
	return env
}

func (e *testEnv) input(frames ...[]byte) {
	e.port.feed(frames...)
	require.NoError(e.t, e.handset.HandleInput())
}

func rcFrame(ch crsf.ChannelData) crsf.Frame {
	return ch.Frame()
}

func midFrame() crsf.Frame {
	ch := crsf.MidChannels()
	return ch.Frame()
}

func TestFramerResync(t *testing.T) {
	good := midFrame()
	var stream []byte
	stream = append(stream, 0x00, 0x12, 0x55)
	// sync byte with an impossible size
	stream = append(stream, 0xc8, 0x40)
	// well formed frame with wrong crc
	stream = append(stream, 0xee, 0x04, 0x21, 0x01, 0x02, 0x00)
	stream = append(stream, good...)
	stream = append(stream, 0xc8)

	var f Framer
	var frames []crsf.Frame
	var bad int
	for _, b := range stream {
		f.Push(b)
		for {
			frame, res := f.Next()
			if res == NeedMore {
				break
			}
			if res == BadFrame {
				bad++
				continue
			}
			frames = append(frames, frame)
		}
	}
	require.Equal(t, 2, bad)
	require.Len(t, frames, 1)
	require.Equal(t, good, frames[0])
	require.Equal(t, 1, f.Buffered())
	require.Equal(t, ReadingLength, f.State())
}

// validBefore tells if a candidate frame starting before off passes
// validation.
func validBefore(stream []byte, off int) bool {
	for i := 0; i < off && i+1 < len(stream); i++ {
		if !crsf.IsSync(stream[i]) {
			continue
		}
		end := i + int(stream[i+1]) + crsf.NotCountedBytes
		if end <= len(stream) && crsf.Frame(stream[i:end]).Validate() == nil {
			return true
		}
	}
	return false
}

func TestFramerResyncRandom(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		var ch crsf.ChannelData
		for i := range ch {
			ch[i] = uint16(r.Intn(crsf.ChannelValueMax + 1))
		}
		good := rcFrame(ch)
		var stream []byte
		var off int
		for {
			off = r.Intn(128)
			stream = make([]byte, off+len(good)+crsf.MaxPacketLen)
			r.Read(stream)
			copy(stream[off:], good)
			if !validBefore(stream, off) {
				break
			}
		}

		var f Framer
		var found int
		for _, b := range stream {
			f.Push(b)
			for {
				frame, res := f.Next()
				if res == NeedMore {
					break
				}
				if res == GoodFrame && bytes.Equal(frame, good) {
					found++
				}
			}
		}
		require.Equal(t, 1, found, "offset %d", off)
	}
}

func TestFramerStates(t *testing.T) {
	good := midFrame()
	var f Framer
	require.Equal(t, SeekingSync, f.State())
	f.Push(0x42)
	_, res := f.Next()
	require.Equal(t, NeedMore, res)
	require.Equal(t, SeekingSync, f.State())
	f.Push(good[0])
	require.Equal(t, ReadingLength, f.State())
	for _, b := range good[1:10] {
		f.Push(b)
	}
	require.Equal(t, AccumulatingPayload, f.State())
	for _, b := range good[10:] {
		f.Push(b)
	}
	require.Equal(t, FrameComplete, f.State())
	frame, res := f.Next()
	require.Equal(t, GoodFrame, res)
	require.Equal(t, good, frame)
	require.Equal(t, SeekingSync, f.State())
}

func TestFramerOverflow(t *testing.T) {
	var f Framer
	f.Push(0xc8)
	f.Push(byte(crsf.MaxFrameSize))
	for i := 0; i < 200; i++ {
		f.Push(0x11)
		f.Next()
	}
	require.True(t, f.Buffered() <= crsf.MaxPacketLen)
	good := midFrame()
	var frames int
	for _, b := range good {
		f.Push(b)
		if _, res := f.Next(); res == GoodFrame {
			frames++
		}
	}
	require.Equal(t, 1, frames)
}

func TestHandsetMidChannels(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.input(midFrame())
	ch := env.handset.Channels()
	for n := range ch {
		require.Equal(t, uint16(crsf.ChannelValueMid), ch[n])
	}
	require.True(t, env.handset.Connected())
	require.Equal(t, 1, env.listener.ups)
	stats := env.handset.Stats()
	require.Equal(t, uint64(1), stats.TotalGood)
	require.Equal(t, env.clock.now, stats.LastRC)

	env.input(midFrame(), midFrame())
	require.Equal(t, 1, env.listener.ups)
	require.Equal(t, uint64(3), env.handset.Stats().TotalGood)
}

func TestHandsetCorruptedFrame(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	var ch crsf.ChannelData
	for n := range ch {
		ch[n] = crsf.ChannelValueMax
	}
	env.input(rcFrame(ch))
	require.Equal(t, ch, env.handset.Channels())
	require.Equal(t, uint64(1), env.handset.Stats().TotalGood)
	require.Equal(t, uint64(0), env.handset.Stats().TotalBad)

	testCases := []struct {
		name    string
		corrupt func(crsf.Frame)
	}{
		{"payload", func(f crsf.Frame) { f[5] ^= 0x01 }},
		{"crc", func(f crsf.Frame) { f[len(f)-1] ^= 0x80 }},
		{"oversized", func(f crsf.Frame) { f[1] = 0x40 }},
		{"undersized", func(f crsf.Frame) { f[1] = 0x01 }},
	}
	for n, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame := rcFrame(ch)
			tc.corrupt(frame)
			env.input(frame)
			require.Equal(t, ch, env.handset.Channels())
			stats := env.handset.Stats()
			require.Equal(t, uint64(1), stats.TotalGood)
			require.Equal(t, uint64(n+1), stats.TotalBad)
		})
	}
	require.True(t, env.handset.Connected())
	require.Equal(t, 1, env.listener.ups)
}

func TestHandsetAutobaud(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	require.Equal(t, 400000, env.handset.Baud())
	env.input()

	env.clock.advance(999 * time.Millisecond)
	env.input()
	require.Empty(t, env.port.bauds)

	env.clock.advance(time.Millisecond)
	env.input()
	require.Equal(t, []int{115200}, env.port.bauds)
	require.Equal(t, 1, env.port.flushes)
	require.Equal(t, 115200, env.handset.Baud())

	// the next check comes after a quarter of the window
	env.clock.advance(249 * time.Millisecond)
	env.input()
	require.Len(t, env.port.bauds, 1)
	env.clock.advance(time.Millisecond)
	env.input()
	require.Equal(t, []int{115200, 5250000}, env.port.bauds)

	for i := 0; i < len(DefaultBaudRates); i++ {
		env.clock.advance(250 * time.Millisecond)
		env.input()
	}
	require.Len(t, env.port.bauds, 2+len(DefaultBaudRates))
	require.Equal(t, 5250000, env.handset.Baud())
	require.Equal(t, uint64(len(env.port.bauds)), env.handset.Stats().BaudSwitches)
}

func TestHandsetAutobaudNoisyLine(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.input(midFrame())
	bad := midFrame()
	bad[len(bad)-1]++
	env.clock.advance(500 * time.Millisecond)
	env.input(bad, bad)
	env.clock.advance(500 * time.Millisecond)
	env.input()
	require.Equal(t, []int{115200}, env.port.bauds)
	stats := env.handset.Stats()
	require.Equal(t, uint32(1), stats.Good)
	require.Equal(t, uint32(2), stats.Bad)
}

func TestHandsetHealthyLineKeepsBaud(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	for i := 0; i < 100; i++ {
		env.input(midFrame())
		env.clock.advance(20 * time.Millisecond)
	}
	env.input(midFrame())
	require.Empty(t, env.port.bauds)
	require.Equal(t, uint32(50), env.handset.Stats().Good)
}

func TestHandsetLinkLoss(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.input(midFrame())
	require.True(t, env.handset.Connected())

	env.clock.advance(time.Second)
	env.input()
	require.True(t, env.handset.Connected())
	require.Empty(t, env.port.bauds)

	env.clock.advance(499 * time.Millisecond)
	env.input()
	require.True(t, env.handset.Connected())

	env.clock.advance(time.Millisecond)
	env.input()
	require.False(t, env.handset.Connected())
	require.Equal(t, 1, env.listener.downs)
	env.input()
	require.Equal(t, 1, env.listener.downs)

	env.clock.advance(500 * time.Millisecond)
	env.input()
	require.Equal(t, []int{115200}, env.port.bauds)

	env.input(midFrame())
	require.True(t, env.handset.Connected())
	require.Equal(t, 2, env.listener.ups)
}

func TestHandsetPingReply(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ping, err := crsf.BuildExtendedFrame(crsf.TypeDevicePing, crsf.AddrBroadcast, crsf.AddrHandset, nil)
	require.NoError(t, err)
	env.input(ping)
	require.Len(t, env.port.output, 1)
	info, ok := crsf.ParseDeviceInfo(env.port.output[0])
	require.True(t, ok)
	require.Equal(t, DefaultName, info.Name)
	require.Equal(t, crsf.DeviceSerial, info.Serial)
	require.Equal(t, uint32(0x00010000), info.SoftwareVersion)
	hdr := env.port.output[0].ExtHeader()
	require.Equal(t, crsf.AddrHandset, hdr.Dest)
	require.Equal(t, crsf.AddrModule, hdr.Orig)
}

func TestHandsetIgnoresOtherDestinations(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ping, err := crsf.BuildExtendedFrame(crsf.TypeDevicePing, crsf.AddrReceiver, crsf.AddrHandset, nil)
	require.NoError(t, err)
	env.input(ping)
	require.Empty(t, env.port.output)
}

type testParams struct {
	frames []crsf.Frame
}

func (p *testParams) ParameterCount() byte {
	return 3
}

func (p *testParams) HandleParameter(f crsf.Frame) {
	p.frames = append(p.frames, f)
}

func TestHandsetParameterPassthrough(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	params := &testParams{}
	env.handset.Parameters = params

	read, err := crsf.BuildExtendedFrame(crsf.TypeParameterRead, crsf.AddrModule, crsf.AddrHandset, []byte{1, 0})
	require.NoError(t, err)
	broadcast, err := crsf.BuildExtendedFrame(crsf.TypeParameterWrite, crsf.AddrBroadcast, crsf.AddrHandset, []byte{1, 5})
	require.NoError(t, err)
	ping, err := crsf.BuildExtendedFrame(crsf.TypeDevicePing, crsf.AddrModule, crsf.AddrHandset, nil)
	require.NoError(t, err)
	env.input(read, broadcast, ping)

	require.Len(t, params.frames, 1)
	require.Equal(t, read, params.frames[0])
	require.Len(t, env.port.output, 1)
	info, ok := crsf.ParseDeviceInfo(env.port.output[0])
	require.True(t, ok)
	require.Equal(t, byte(3), info.ParameterCount)
}

func TestHandsetModelSelect(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	require.Equal(t, uint8(0), env.handset.ModelID())
	cmd, err := crsf.BuildCommandFrame(crsf.AddrModule, crsf.AddrHandset,
		crsf.CommandSubcmdRX, crsf.CommandModelSelectID, 7)
	require.NoError(t, err)
	env.input(cmd)
	require.Equal(t, uint8(7), env.handset.ModelID())
	require.Equal(t, []uint8{7}, env.listener.models)

	bind, err := crsf.BuildCommandFrame(crsf.AddrModule, crsf.AddrHandset,
		crsf.CommandSubcmdRX, crsf.CommandRXBind)
	require.NoError(t, err)
	env.input(bind)
	require.Equal(t, 1, env.listener.binds)
}

type testDuplex struct {
	log *[]string
}

func (d *testDuplex) SetTX() error {
	*d.log = append(*d.log, "tx")
	return nil
}

func (d *testDuplex) SetRX() error {
	*d.log = append(*d.log, "rx")
	return nil
}

func TestHandsetHalfDuplex(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	var log []string
	env.port.log = &log
	env.handset.Duplex = &testDuplex{log: &log}
	env.input(midFrame())
	require.Empty(t, log)

	ping, err := crsf.BuildExtendedFrame(crsf.TypeDevicePing, crsf.AddrModule, crsf.AddrHandset, nil)
	require.NoError(t, err)
	env.input(ping)
	require.Equal(t, []string{"tx", "write", "rx"}, log)
}

func TestHandsetOutputBudget(t *testing.T) {
	testCases := []struct {
		name   string
		baud   int
		period int
		sent   int
		queued int
	}{
		{name: "fits", baud: 400000, period: 640, sent: 1},
		{name: "no room after rc frame", baud: 9600, period: 15, queued: 1},
		{name: "oversized dropped", baud: 19200, period: 30},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BaudRates = []int{tc.baud}
			env := newTestEnv(t, cfg)
			require.Equal(t, tc.period, env.handset.MaxPeriodBytes())
			env.handset.Enqueue(crsf.BuildDeviceInfoFrame(DefaultName, DefaultVersion, 0))
			env.input(midFrame())
			require.Len(t, env.port.output, tc.sent)
			require.Equal(t, tc.queued, env.handset.Queue().Len())
		})
	}
}

type testSync struct {
	arrivals []time.Time
}

func (s *testSync) RecordArrival(t time.Time) time.Duration {
	s.arrivals = append(s.arrivals, t)
	return 0
}

func (s *testSync) HandsetSync() (int32, int32) {
	return 200000, 20000
}

type testStats struct{}

func (testStats) LinkStatistics() crsf.LinkStatistics {
	return crsf.LinkStatistics{UplinkLQ: 100}
}

func TestHandsetSyncAndLinkStats(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	syncer := &testSync{}
	env.handset.Sync = syncer
	env.handset.LinkStats = testStats{}

	env.input(midFrame())
	require.Equal(t, []time.Time{env.clock.now}, syncer.arrivals)
	require.Len(t, env.port.output, 2)
	rate, offset, ok := crsf.ParseSyncFrame(env.port.output[0])
	require.True(t, ok)
	require.Equal(t, int32(200000), rate)
	require.Equal(t, int32(20000), offset)
	require.Equal(t, crsf.TypeLinkStatistics, env.port.output[1].Type())

	env.clock.advance(20 * time.Millisecond)
	env.input(midFrame())
	require.Len(t, env.port.output, 2)

	env.clock.advance(DefaultSyncInterval)
	env.input(midFrame())
	require.Len(t, env.port.output, 3)
	require.Equal(t, crsf.TypeRadioID, env.port.output[2].Type())
}
