package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/crsflink/pkg/phase"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartFiresImmediately(t *testing.T) {
	tm := New(func() {})
	require.NoError(t, tm.SetInterval(time.Hour))
	tm.Start()
	defer tm.Stop()
	waitFor(t, time.Second, func() bool { return tm.Fired() == 1 })
	require.True(t, tm.Running())
}

func TestStartIdempotent(t *testing.T) {
	var count atomic.Int32
	tm := New(func() { count.Add(1) })
	require.NoError(t, tm.SetInterval(time.Hour))
	tm.Start()
	tm.Start()
	waitFor(t, time.Second, func() bool { return count.Load() >= 1 })
	time.Sleep(10 * time.Millisecond)
	tm.Stop()
	require.Equal(t, int32(1), count.Load())
}

func TestStopWaitsForCallback(t *testing.T) {
	var inCallback, finished atomic.Bool
	tm := New(func() {
		inCallback.Store(true)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})
	tm.Start()
	waitFor(t, time.Second, inCallback.Load)
	tm.Stop()
	require.True(t, finished.Load())
	fired := tm.Fired()
	time.Sleep(3 * DefaultInterval)
	require.Equal(t, fired, tm.Fired())
	require.False(t, tm.Running())
	tm.Stop()
}

func TestSetIntervalWhileRunning(t *testing.T) {
	tm := New(func() {})
	require.Equal(t, DefaultInterval, tm.Interval())
	require.NoError(t, tm.SetInterval(5*time.Millisecond))
	tm.Start()
	require.Equal(t, ErrRunning, tm.SetInterval(10*time.Millisecond))
	tm.Stop()
	require.NoError(t, tm.SetInterval(10*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, tm.Interval())
	require.Error(t, tm.SetInterval(0))
}

func TestPeriodicFiring(t *testing.T) {
	tm := New(func() {})
	require.NoError(t, tm.SetInterval(5*time.Millisecond))
	tm.Start()
	time.Sleep(52 * time.Millisecond)
	tm.Stop()
	fired := tm.Fired()
	require.True(t, fired >= 5 && fired <= 12, "fired %d", fired)
}

func TestNudge(t *testing.T) {
	stamps := make(chan time.Time, 4)
	var tm *Timer
	tm = New(func() {
		if tm.Fired() == 1 {
			tm.Nudge(40 * time.Millisecond)
		}
		select {
		case stamps <- time.Now():
		default:
		}
	})
	require.NoError(t, tm.SetInterval(20*time.Millisecond))
	tm.Start()
	first := <-stamps
	second := <-stamps
	tm.Stop()
	require.True(t, second.Sub(first) >= 55*time.Millisecond, "gap %v", second.Sub(first))
}

func TestRestart(t *testing.T) {
	tm := New(func() {})
	require.NoError(t, tm.SetInterval(time.Hour))
	tm.Start()
	waitFor(t, time.Second, func() bool { return tm.Fired() == 1 })
	tm.Stop()
	tm.Start()
	waitFor(t, time.Second, func() bool { return tm.Fired() == 2 })
	tm.Stop()
}

func TestNudgeBetweenFirings(t *testing.T) {
	stamps := make(chan time.Time, 4)
	tm := New(func() {
		select {
		case stamps <- time.Now():
		default:
		}
	})
	require.NoError(t, tm.SetInterval(40*time.Millisecond))
	tm.Start()
	defer tm.Stop()

	first := <-stamps
	time.Sleep(5 * time.Millisecond)
	tm.Nudge(20 * time.Millisecond)
	second := <-stamps
	require.True(t, second.Sub(first) >= 55*time.Millisecond, "gap %v", second.Sub(first))

	time.Sleep(5 * time.Millisecond)
	tm.Nudge(-20 * time.Millisecond)
	third := <-stamps
	gap := third.Sub(second)
	require.True(t, gap >= 15*time.Millisecond && gap < 32*time.Millisecond, "gap %v", gap)
}

func TestNudgeIntoPast(t *testing.T) {
	stamps := make(chan time.Time, 4)
	tm := New(func() {
		select {
		case stamps <- time.Now():
		default:
		}
	})
	require.NoError(t, tm.SetInterval(100*time.Millisecond))
	tm.Start()
	defer tm.Stop()

	first := <-stamps
	tm.Nudge(-time.Second)
	second := <-stamps
	require.True(t, second.Sub(first) < 50*time.Millisecond, "gap %v", second.Sub(first))
}

func TestPhaseLock(t *testing.T) {
	cfg := phase.DefaultConfig()
	syncer := phase.New(cfg, nil)
	tm := New(func() { syncer.RecordSent(time.Now()) })
	require.NoError(t, tm.SetInterval(cfg.Interval))
	syncer.SetNudger(tm)
	tm.Start()
	defer tm.Stop()

	// handset frames arrive 8ms after the first send
	time.Sleep(8 * time.Millisecond)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	var errs []time.Duration
	for len(errs) < 40 {
		<-ticker.C
		syncer.RecordArrival(time.Now())
		errs = append(errs, syncer.Error())
	}
	for _, err := range errs[len(errs)-10:] {
		require.True(t, err < 2*time.Millisecond && err > -2*time.Millisecond, "error %v", err)
	}
}
