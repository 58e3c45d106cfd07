package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/crsflink/pkg/bridge"
	"github.com/robotalks/crsflink/pkg/crsf"
	"github.com/robotalks/crsflink/pkg/link"
	"github.com/robotalks/crsflink/pkg/transport"
)

type testController struct {
	lock  sync.Mutex
	snap  bridge.Snapshot
	peers *transport.PeerTable
	model []uint8
}

func newTestController(t *testing.T) *testController {
	peers, err := transport.NewPeerTable("car0", "car1")
	require.NoError(t, err)
	c := &testController{peers: peers}
	c.snap.Time = time.Unix(100, 0)
	c.snap.State = link.Connected
	c.snap.Model = 1
	c.snap.Peer = "car1"
	c.snap.Channels = crsf.MidChannels()
	c.snap.Handset.Baud = 400000
	c.snap.Handset.Connected = true
	c.snap.Handset.TotalGood = 10
	c.snap.Phase.Error = 250 * time.Microsecond
	c.snap.Sends.Sent = 5
	c.snap.LinkQuality = 100
	return c
}

func (c *testController) Snapshot() bridge.Snapshot {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.snap
}

func (c *testController) Peers() *transport.PeerTable {
	return c.peers
}

func (c *testController) SetModel(id uint8) {
	c.lock.Lock()
	c.model = append(c.model, id)
	c.lock.Unlock()
}

type testPublisher struct {
	lock   sync.Mutex
	topics []string
	msgs   [][]byte
}

func (p *testPublisher) Pub(topic string, payload []byte) paho.Token {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, payload)
	return &paho.DummyToken{}
}

func TestEncodeDecode(t *testing.T) {
	ctl := newTestController(t)
	data, err := Encode(NewLinkStatus("b1", ctl.Snapshot()))
	require.NoError(t, err)
	msg, err := Decode(data)
	require.NoError(t, err)
	st, ok := msg.(*LinkStatus)
	require.True(t, ok)
	require.Equal(t, "b1", st.BridgeId)
	require.Equal(t, "connected", st.State)
	require.Equal(t, uint32(1), st.Model)
	require.Equal(t, "car1", st.Peer)
	require.Equal(t, uint32(400000), st.Baud)
	require.Equal(t, int64(250), st.PhaseErrorUs)
	require.Equal(t, int64(100000), st.TimestampMs)

	data, err = proto.Marshal(&Typed{TypeId: TypeIDKindEvent | 0x7fff})
	require.NoError(t, err)
	_, err = Decode(data)
	require.Error(t, err)
	_, ok = err.(*UnknownTypeError)
	require.True(t, ok)
}

func TestChannelsEvent(t *testing.T) {
	ev := NewChannelsEvent("b1", newTestController(t).Snapshot())
	require.Len(t, ev.Channels, crsf.NumChannels)
	for _, v := range ev.Channels {
		require.Equal(t, uint32(1500), v)
	}
}

func TestReporter(t *testing.T) {
	pub := &testPublisher{}
	r := NewReporter("b1", newTestController(t), pub)
	r.Report()
	require.Equal(t, []string{"bridge/b1/status"}, pub.topics)

	r.Channels = true
	r.Report()
	require.Equal(t, []string{"bridge/b1/status", "bridge/b1/status", "bridge/b1/channels"}, pub.topics)
	msg, err := Decode(pub.msgs[2])
	require.NoError(t, err)
	require.Equal(t, ChannelsEventTypeID, msg.TypeID())

	r.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	require.Equal(t, context.DeadlineExceeded, r.Run(ctx))
	pub.lock.Lock()
	defer pub.lock.Unlock()
	require.True(t, len(pub.topics) > 3)
}

func TestServer(t *testing.T) {
	ctl := newTestController(t)
	srv := httptest.NewServer(NewServer("b1", "", ctl).Handler())
	defer srv.Close()

	testCases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/status", http.StatusOK},
		{http.MethodGet, "/channels", http.StatusOK},
		{http.MethodGet, "/peers", http.StatusOK},
		{http.MethodPut, "/model/1", http.StatusOK},
		{http.MethodPut, "/model/2", http.StatusNotFound},
		{http.MethodPut, "/model/x", http.StatusBadRequest},
		{http.MethodPut, "/model/256", http.StatusBadRequest},
		{http.MethodPost, "/status", http.StatusMethodNotAllowed},
	}
	for _, tc := range testCases {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
	require.Equal(t, []uint8{1}, ctl.model)

	resp, err := http.Get(srv.URL + "/peers")
	require.NoError(t, err)
	defer resp.Body.Close()
	var peers []PeerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&peers))
	require.Equal(t, []PeerInfo{{0, "car0"}, {1, "car1"}}, peers)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st LinkStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, "connected", st.State)
	require.Equal(t, uint32(100), st.LinkQuality)
}

type testLiveness bool

func (l testLiveness) Alive(time.Duration) bool {
	return bool(l)
}

func TestNotifierWithoutSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := &Notifier{}
	require.NoError(t, n.Run(context.Background()))
}

func TestNotifierWatchdog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", path)
	t.Setenv("WATCHDOG_USEC", "40000")
	t.Setenv("WATCHDOG_PID", "")

	recv := func() string {
		buf := make([]byte, 64)
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		return string(buf[:n])
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- (&Notifier{Liveness: testLiveness(true)}).Run(ctx)
	}()
	require.Equal(t, daemon.SdNotifyReady, recv())
	require.Equal(t, daemon.SdNotifyWatchdog, recv())
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
	for {
		msg := recv()
		if msg != daemon.SdNotifyWatchdog {
			require.Equal(t, daemon.SdNotifyStopping, msg)
			break
		}
	}
}

func TestNotifierStalled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", path)
	t.Setenv("WATCHDOG_USEC", "20000")
	t.Setenv("WATCHDOG_PID", "")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.Equal(t, context.DeadlineExceeded, (&Notifier{Liveness: testLiveness(false)}).Run(ctx))

	var msgs []string
	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		msgs = append(msgs, string(buf[:n]))
	}
	require.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, msgs)
}
