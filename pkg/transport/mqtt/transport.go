package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/crsflink/pkg/transport"
)

// Defaults of Transport.
const (
	DefaultMaxInflight = 4
	DefaultSendTimeout = 100 * time.Millisecond
)

// ChannelsTopic is the topic a peer receives channel payloads on.
func ChannelsTopic(peer transport.Peer) string {
	return peer.TopicName() + "/channels"
}

// Transport publishes channel payloads through a Broker. A send is
// rejected while the broker is disconnected or too many publishes are
// pending. Closing the Transport leaves the Broker open.
type Transport struct {
	transport.Completer

	Broker  *Broker
	QoS     byte
	Timeout time.Duration

	inflight chan struct{}
	lock     sync.Mutex
	wg       sync.WaitGroup
	closed   bool
}

// NewTransport creates a Transport allowing maxInflight pending publishes.
func NewTransport(b *Broker, maxInflight int) *Transport {
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	return &Transport{
		Broker:   b,
		Timeout:  DefaultSendTimeout,
		inflight: make(chan struct{}, maxInflight),
	}
}

// Send implements transport.Transport.
func (t *Transport) Send(peer transport.Peer, payload []byte) error {
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return transport.ErrClosed
	}
	t.wg.Add(1)
	t.lock.Unlock()

	if !t.Broker.Client.IsConnected() {
		t.wg.Done()
		return transport.ErrRejected
	}
	select {
	case t.inflight <- struct{}{}:
	default:
		t.wg.Done()
		return transport.ErrRejected
	}
	token := t.Broker.PubWith(ChannelsTopic(peer), payload, t.QoS, false)
	go t.await(peer, token)
	return nil
}

func (t *Transport) await(peer transport.Peer, token paho.Token) {
	defer t.wg.Done()
	err := ErrTimeout
	if token.WaitTimeout(t.Timeout) {
		err = token.Error()
	}
	<-t.inflight
	if err != nil {
		glog.V(2).Infof("publish to %s: %v", peer, err)
	}
	t.Complete(peer, err)
}

// Close implements transport.Transport. It waits for pending publishes.
func (t *Transport) Close() error {
	t.lock.Lock()
	t.closed = true
	t.lock.Unlock()
	t.wg.Wait()
	return nil
}
