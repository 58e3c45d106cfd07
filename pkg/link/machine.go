// Package link tracks the connection state of the handset link.
package link

import (
	"sync"

	"github.com/golang/glog"
)

// State is the connection state.
type State int

// States.
const (
	AwaitingFirstPacket State = iota
	AwaitingModelID
	Connected
	Disconnected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case AwaitingFirstPacket:
		return "awaiting-first-packet"
	case AwaitingModelID:
		return "awaiting-model-id"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Trigger is the periodic send trigger started and stopped by transitions.
type Trigger interface {
	Start()
	Stop()
}

// Transition is a state change.
type Transition struct {
	From State
	To   State
}

// Listener is notified about state changes.
type Listener interface {
	StateChanged(Transition)
}

// StateChangedFunc is func type of Listener.
type StateChangedFunc func(Transition)

// StateChanged implements Listener.
func (f StateChangedFunc) StateChanged(tr Transition) {
	f(tr)
}

// Machine is the connection state machine.
//
// Trigger and listeners are invoked outside of the internal lock, so they
// may query the Machine.
type Machine struct {
	trigger Trigger

	lock      sync.Mutex
	state     State
	listeners []Listener
	subs      []chan Transition
}

// NewMachine creates a Machine in AwaitingFirstPacket.
func NewMachine(trigger Trigger) *Machine {
	return &Machine{trigger: trigger, state: AwaitingFirstPacket}
}

// State returns the current state.
func (m *Machine) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

// CanSend tells if wireless sends are allowed in the current state.
func (m *Machine) CanSend() bool {
	return m.State() != AwaitingModelID
}

// AddListener registers a listener.
func (m *Machine) AddListener(l Listener) {
	m.lock.Lock()
	m.listeners = append(m.listeners, l)
	m.lock.Unlock()
}

// Subscribe returns a channel receiving transitions. Transitions are
// dropped when the channel is full.
func (m *Machine) Subscribe(size int) <-chan Transition {
	ch := make(chan Transition, size)
	m.lock.Lock()
	m.subs = append(m.subs, ch)
	m.lock.Unlock()
	return ch
}

// LinkUp handles link activity: the first valid frame, or frames resuming
// after a loss. The trigger is always (re)started.
func (m *Machine) LinkUp() {
	m.transit(func(s State) State {
		switch s {
		case AwaitingFirstPacket:
			// a model select usually follows right after connecting
			return AwaitingModelID
		case Disconnected:
			return Connected
		}
		return s
	})
	m.trigger.Start()
}

// LinkDown handles link loss in any state.
func (m *Machine) LinkDown() {
	m.trigger.Stop()
	m.transit(func(State) State { return Disconnected })
}

// ModelSelected handles a model select command.
func (m *Machine) ModelSelected() {
	m.transit(func(s State) State {
		if s == AwaitingModelID {
			return Connected
		}
		return s
	})
}

func (m *Machine) transit(next func(State) State) {
	m.lock.Lock()
	tr := Transition{From: m.state, To: next(m.state)}
	if tr.From == tr.To {
		m.lock.Unlock()
		return
	}
	m.state = tr.To
	listeners := m.listeners
	subs := m.subs
	m.lock.Unlock()

	glog.Infof("link %s -> %s", tr.From, tr.To)
	for _, l := range listeners {
		l.StateChanged(tr)
	}
	for _, ch := range subs {
		select {
		case ch <- tr:
		default:
		}
	}
}
