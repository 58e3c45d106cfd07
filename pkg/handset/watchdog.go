package handset

import (
	"time"

	"github.com/golang/glog"
)

// watchdog checks link health once per window. When bad frames dominate, or
// nothing valid arrived, the next baud rate is tried and the following
// check is brought forward so the search cycles quickly.
func (h *Handset) watchdog(now time.Time) {
	if h.lastChecked.IsZero() {
		h.lastChecked, h.lastGood = now, now
		return
	}
	if h.connected.Load() && now.Sub(h.lastGood) >= h.cfg.LinkTimeout {
		h.linkLost(now.Sub(h.lastGood))
	}
	if now.Sub(h.lastChecked) < h.cfg.WatchdogInterval {
		return
	}

	good, bad := h.windowGood, h.windowBad
	h.windowGood, h.windowBad = 0, 0
	h.lastChecked = now
	h.statsLock.Lock()
	h.stats.Good, h.stats.Bad = good, bad
	h.statsLock.Unlock()

	if bad < good && h.connected.Load() {
		return
	}
	glog.V(2).Infof("watchdog: good %d bad %d", good, bad)
	if h.nextBaud() {
		h.lastChecked = now.Add(-h.cfg.WatchdogInterval * 3 / 4)
	}
}

func (h *Handset) nextBaud() bool {
	setter, ok := h.Port.(BaudSetter)
	if !ok || len(h.cfg.BaudRates) < 2 {
		return false
	}
	idx := (h.baudIdx + 1) % len(h.cfg.BaudRates)
	baud := h.cfg.BaudRates[idx]
	if err := setter.SetBaudRate(baud); err != nil {
		glog.Warningf("set baud %d: %v", baud, err)
		return false
	}
	h.baudIdx = idx
	h.baud.Store(int64(baud))
	if flusher, ok := h.Port.(Flusher); ok {
		if err := flusher.Flush(); err != nil {
			glog.Warningf("flush: %v", err)
		}
	}
	h.framer.Reset()
	h.statsLock.Lock()
	h.stats.BaudSwitches++
	h.statsLock.Unlock()
	glog.Infof("trying %d baud", baud)
	return true
}

func (h *Handset) linkLost(silence time.Duration) {
	h.connected.Store(false)
	h.queue.Reset()
	glog.Warningf("handset link lost, no valid frame for %v", silence)
	if h.Listener != nil {
		h.Listener.LinkDown()
	}
}
