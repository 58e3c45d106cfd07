// Package transport defines the wireless datagram link carrying channel
// payloads from the bridge to the model receivers.
package transport

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoPeer indicates the model id has no registered peer.
	ErrNoPeer = errors.New("no peer for model")
	// ErrRejected indicates the transport could not accept the datagram.
	ErrRejected = errors.New("send rejected")
	// ErrClosed indicates the transport is closed.
	ErrClosed = errors.New("transport closed")
)

// Completion reports the outcome of an accepted send.
type Completion struct {
	Peer Peer
	Err  error
	At   time.Time
}

// OK tells if the datagram was delivered.
func (c Completion) OK() bool {
	return c.Err == nil
}

// CompletionHandler is notified when an accepted send completes. It may be
// invoked from any goroutine.
type CompletionHandler interface {
	SendCompleted(Completion)
}

// SendCompletedFunc is the func form of CompletionHandler.
type SendCompletedFunc func(Completion)

// SendCompleted implements CompletionHandler.
func (f SendCompletedFunc) SendCompleted(c Completion) {
	f(c)
}

// Transport sends datagrams to peers.
//
// Send does not block on delivery: it returns nil once the datagram is
// accepted, and the outcome is reported to the CompletionHandler later.
type Transport interface {
	Send(peer Peer, payload []byte) error
	OnSendComplete(CompletionHandler)
	Close() error
}

// Completer dispatches completions to the registered handler. Transport
// implementations embed it.
type Completer struct {
	lock    sync.RWMutex
	handler CompletionHandler
}

// OnSendComplete implements Transport.
func (c *Completer) OnSendComplete(h CompletionHandler) {
	c.lock.Lock()
	c.handler = h
	c.lock.Unlock()
}

// Complete reports the outcome of a send.
func (c *Completer) Complete(peer Peer, err error) {
	c.lock.RLock()
	h := c.handler
	c.lock.RUnlock()
	if h == nil {
		return
	}
	h.SendCompleted(Completion{Peer: peer, Err: err, At: time.Now()})
}
