// Package timer provides the periodic trigger driving wireless sends.
package timer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the 50Hz RC frame period.
const DefaultInterval = 20 * time.Millisecond

// ErrRunning indicates the interval can't be changed while running.
var ErrRunning = errors.New("timer is running")

// Timer invokes a callback periodically from its own goroutine.
//
// The first firing happens immediately on Start. Stop returns only after an
// in-flight callback finished, and no callback runs after Stop returns. The
// callback must not call Stop.
type Timer struct {
	callback func()

	ctl      sync.Mutex
	lock     sync.Mutex
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	nudge   atomic.Int64
	nudgeCh chan struct{}
	fired   atomic.Uint64
}

// New creates a stopped Timer with DefaultInterval.
func New(callback func()) *Timer {
	return &Timer{callback: callback, interval: DefaultInterval, nudgeCh: make(chan struct{}, 1)}
}

// Interval returns the firing period.
func (t *Timer) Interval() time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.interval
}

// SetInterval changes the firing period; only allowed when stopped.
func (t *Timer) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("invalid interval")
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.stopCh != nil {
		return ErrRunning
	}
	t.interval = d
	return nil
}

// Running tells if the timer is started.
func (t *Timer) Running() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.stopCh != nil
}

// Fired returns the number of callbacks invoked so far.
func (t *Timer) Fired() uint64 {
	return t.fired.Load()
}

// Start starts firing. It's a no-op if already running.
func (t *Timer) Start() {
	t.ctl.Lock()
	defer t.ctl.Unlock()
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.stopCh != nil {
		return
	}
	t.stopCh, t.doneCh = make(chan struct{}), make(chan struct{})
	t.nudge.Store(0)
	go t.run(t.interval, t.stopCh, t.doneCh)
}

// Stop stops firing and waits for an in-flight callback.
func (t *Timer) Stop() {
	t.ctl.Lock()
	defer t.ctl.Unlock()
	t.lock.Lock()
	stopCh, doneCh := t.stopCh, t.doneCh
	t.stopCh, t.doneCh = nil, nil
	t.lock.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// Nudge shifts the next pending firing by d, later if positive, earlier if
// negative. Multiple nudges before the next firing accumulate. A firing
// moved into the past happens immediately.
func (t *Timer) Nudge(d time.Duration) {
	t.nudge.Add(int64(d))
	select {
	case t.nudgeCh <- struct{}{}:
	default:
	}
}

func (t *Timer) run(interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	next := time.Now()
	tm := time.NewTimer(0)
	defer tm.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-t.nudgeCh:
			if d := time.Duration(t.nudge.Swap(0)); d != 0 {
				next = next.Add(d)
				if !tm.Stop() {
					select {
					case <-tm.C:
					default:
					}
				}
				tm.Reset(time.Until(next))
			}
			continue
		case <-tm.C:
		}
		select {
		case <-stopCh:
			return
		default:
		}
		t.fired.Add(1)
		t.callback()

		next = next.Add(interval + time.Duration(t.nudge.Swap(0)))
		wait := time.Until(next)
		if wait < 0 {
			// fell behind, skip missed periods
			wait = 0
			next = time.Now()
		}
		tm.Reset(wait)
	}
}
