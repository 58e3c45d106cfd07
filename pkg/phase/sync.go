// Package phase aligns the wireless send timer to the handset frame cadence.
package phase

import (
	"sync"
	"time"
)

// Nudger shifts the next firing of the send timer.
type Nudger interface {
	Nudge(time.Duration)
}

// Config tunes the Synchronizer.
type Config struct {
	// Interval is the period of both handset frames and wireless sends.
	Interval time.Duration
	// Target is the desired delay from a frame arrival to the next send.
	Target time.Duration
	// MinStep is the smallest correction cap reached in fine lock.
	MinStep time.Duration
	// LockThreshold is the error below which the phase is reported locked.
	LockThreshold time.Duration
}

// DefaultConfig returns the tuning for 50Hz links.
func DefaultConfig() Config {
	return Config{
		Interval:      20 * time.Millisecond,
		Target:        time.Millisecond,
		MinStep:       50 * time.Microsecond,
		LockThreshold: 500 * time.Microsecond,
	}
}

// Stats is a snapshot of the synchronizer.
type Stats struct {
	Error         time.Duration
	Step          time.Duration
	HandsetOffset time.Duration
	Locked        bool
	Resets        uint64
}

// Synchronizer runs a bounded proportional corrector: every frame arrival
// measures the error between the wait until the next send and Target, and
// nudges the timer by half of it, capped by a step that halves while the
// error stays within it and doubles while the error outgrows it.
//
// RecordSent and RecordArrival may be called from different goroutines.
type Synchronizer struct {
	cfg    Config
	nudger Nudger

	lock        sync.Mutex
	lastSent    time.Time
	lastArrival time.Time
	err         time.Duration
	step        time.Duration
	resets      uint64

	// running average of send delay after arrival, reported to the handset
	offset     time.Duration
	window     int
	windowSize int
}

// New creates a Synchronizer; nudger may be nil until SetNudger.
func New(cfg Config, nudger Nudger) *Synchronizer {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MinStep <= 0 {
		cfg.MinStep = def.MinStep
	}
	if cfg.LockThreshold <= 0 {
		cfg.LockThreshold = def.LockThreshold
	}
	s := &Synchronizer{cfg: cfg, nudger: nudger}
	s.step = s.coarseStep()
	s.windowSize = int(time.Second / cfg.Interval)
	if s.windowSize < 1 {
		s.windowSize = 1
	}
	return s
}

// SetNudger sets the timer to correct.
func (s *Synchronizer) SetNudger(nudger Nudger) {
	s.lock.Lock()
	s.nudger = nudger
	s.lock.Unlock()
}

// Interval returns the configured period.
func (s *Synchronizer) Interval() time.Duration {
	return s.cfg.Interval
}

func (s *Synchronizer) coarseStep() time.Duration {
	return s.cfg.Interval / 2
}

// Reset forgets all timing, e.g. when the link is lost.
func (s *Synchronizer) Reset() {
	s.lock.Lock()
	s.lastSent, s.lastArrival = time.Time{}, time.Time{}
	s.err, s.step = 0, s.coarseStep()
	s.offset, s.window = 0, 0
	s.lock.Unlock()
}

// RecordSent records a confirmed wireless send.
func (s *Synchronizer) RecordSent(t time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.lastSent = t
	if s.lastArrival.IsZero() {
		return
	}
	delay := t.Sub(s.lastArrival)
	if delay < 0 || delay >= s.cfg.Interval {
		// late or missing frame
		s.offset, s.window = 0, 0
		return
	}
	s.offset = (s.offset*time.Duration(s.window) + delay) / time.Duration(s.window+1)
	if s.window < s.windowSize {
		s.window++
	}
}

// RecordArrival records an RC frame arrival and applies the correction to
// the timer. It returns the shift applied to the next send.
func (s *Synchronizer) RecordArrival(t time.Time) time.Duration {
	s.lock.Lock()
	prev := s.lastArrival
	s.lastArrival = t
	if s.lastSent.IsZero() {
		s.lock.Unlock()
		return 0
	}

	period := s.cfg.Interval
	if !prev.IsZero() && t.Sub(prev) >= period+period/2 {
		s.resetStep()
	}
	sinceSent := t.Sub(s.lastSent)
	if sinceSent < 0 {
		sinceSent = 0
	}
	if sinceSent >= period {
		// no send confirmed within the last period
		sinceSent %= period
		s.resetStep()
	}

	err := period - sinceSent - s.cfg.Target
	if err > period/2 {
		err -= period
	} else if err <= -period/2 {
		err += period
	}
	s.err = err

	corr := err / 2
	if corr > s.step {
		corr = s.step
	} else if corr < -s.step {
		corr = -s.step
	}

	mag := abs(err)
	if mag <= s.step {
		if s.step /= 2; s.step < s.cfg.MinStep {
			s.step = s.cfg.MinStep
		}
	} else if mag > 2*s.step {
		if s.step *= 2; s.step > s.coarseStep() {
			s.step = s.coarseStep()
		}
	}
	nudger := s.nudger
	s.lock.Unlock()

	shift := -corr
	if nudger != nil && shift != 0 {
		nudger.Nudge(shift)
	}
	return shift
}

func (s *Synchronizer) resetStep() {
	s.step = s.coarseStep()
	s.resets++
}

// Error returns the phase error measured at the latest arrival.
func (s *Synchronizer) Error() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

// Stats returns a snapshot.
func (s *Synchronizer) Stats() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()
	return Stats{
		Error:         s.err,
		Step:          s.step,
		HandsetOffset: s.offset,
		Locked:        !s.lastSent.IsZero() && !s.lastArrival.IsZero() && abs(s.err) <= s.cfg.LockThreshold,
		Resets:        s.resets,
	}
}

// HandsetSync returns the frame rate and offset reported to the handset for
// mixer synchronization, both in units of 0.1 microseconds.
func (s *Synchronizer) HandsetSync() (rate, offset int32) {
	s.lock.Lock()
	defer s.lock.Unlock()
	const unit = 100 * time.Nanosecond
	rate = int32(s.cfg.Interval / unit)
	offset = int32((s.offset - s.cfg.Target) / unit)
	return
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
