package transport

import (
	"sync"
)

// Datagram is a payload sent to a peer.
type Datagram struct {
	Peer    Peer
	Payload []byte
}

// Loopback is an in-process Transport delivering datagrams to a channel.
// A send is rejected when the channel is full.
type Loopback struct {
	Completer

	lock   sync.Mutex
	ch     chan Datagram
	closed bool
}

// NewLoopback creates a Loopback buffering size datagrams.
func NewLoopback(size int) *Loopback {
	return &Loopback{ch: make(chan Datagram, size)}
}

// Datagrams returns the channel receiving sent datagrams.
func (l *Loopback) Datagrams() <-chan Datagram {
	return l.ch
}

// Send implements Transport.
func (l *Loopback) Send(peer Peer, payload []byte) error {
	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return ErrClosed
	}
	select {
	case l.ch <- Datagram{Peer: peer, Payload: append([]byte(nil), payload...)}:
	default:
		l.lock.Unlock()
		return ErrRejected
	}
	l.lock.Unlock()
	l.Complete(peer, nil)
	return nil
}

// Close implements Transport.
func (l *Loopback) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	return nil
}
