// Package websocket sends channel payloads as binary websocket messages,
// one connection per peer.
package websocket

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/crsflink/pkg/transport"
)

// Defaults.
const (
	DefaultOrigin    = "http://localhost/"
	DefaultQueueSize = 2
)

// Transport implements transport.Transport over websockets. Peers are
// ws:// or wss:// URLs, dialed on first send and redialed after a failure.
type Transport struct {
	transport.Completer

	Origin    string
	QueueSize int

	lock   sync.Mutex
	peers  map[transport.Peer]*peerConn
	closed bool
	wg     sync.WaitGroup
}

type peerConn struct {
	peer   transport.Peer
	origin string
	ch     chan []byte
	conn   *websocket.Conn
}

// New creates a Transport.
func New() *Transport {
	return &Transport{
		Origin:    DefaultOrigin,
		QueueSize: DefaultQueueSize,
		peers:     make(map[transport.Peer]*peerConn),
	}
}

// Send implements transport.Transport.
func (t *Transport) Send(peer transport.Peer, payload []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	pc := t.peers[peer]
	if pc == nil {
		if !strings.HasPrefix(string(peer), "ws://") && !strings.HasPrefix(string(peer), "wss://") {
			return fmt.Errorf("%w: %s is not a websocket url", transport.ErrInvalidPeer, peer)
		}
		size := t.QueueSize
		if size <= 0 {
			size = DefaultQueueSize
		}
		pc = &peerConn{peer: peer, origin: t.Origin, ch: make(chan []byte, size)}
		t.peers[peer] = pc
		t.wg.Add(1)
		go t.run(pc)
	}
	select {
	case pc.ch <- append([]byte(nil), payload...):
		return nil
	default:
		return transport.ErrRejected
	}
}

func (t *Transport) run(pc *peerConn) {
	defer t.wg.Done()
	for payload := range pc.ch {
		err := pc.send(payload)
		if err != nil {
			glog.V(2).Infof("send to %s: %v", pc.peer, err)
		}
		t.Complete(pc.peer, err)
	}
	if pc.conn != nil {
		pc.conn.Close()
	}
}

func (pc *peerConn) send(payload []byte) error {
	if pc.conn == nil {
		conn, err := websocket.Dial(string(pc.peer), "", pc.origin)
		if err != nil {
			return err
		}
		glog.Infof("connected to %s", pc.peer)
		pc.conn = conn
	}
	if err := websocket.Message.Send(pc.conn, payload); err != nil {
		pc.conn.Close()
		pc.conn = nil
		return err
	}
	return nil
}

// Close implements transport.Transport. Queued payloads are still sent.
func (t *Transport) Close() error {
	t.lock.Lock()
	if !t.closed {
		t.closed = true
		for _, pc := range t.peers {
			close(pc.ch)
		}
	}
	t.lock.Unlock()
	t.wg.Wait()
	return nil
}
