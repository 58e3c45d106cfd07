package handset

import (
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/crsflink/pkg/crsf"
)

// handleOutput runs after each valid frame, in the gap before the handset
// sends the next one. The sync frame and link statistics are queued when
// due, then queued frames are sent as long as they fit in what remains of
// the period.
func (h *Handset) handleOutput(received int, now time.Time) {
	if h.Sync != nil && now.Sub(h.lastSyncSent) >= h.cfg.SyncInterval {
		h.lastSyncSent = now
		rate, offset := h.Sync.HandsetSync()
		h.queue.Enqueue(crsf.BuildSyncFrame(rate, offset))
	}
	if h.LinkStats != nil && now.Sub(h.lastStatsSent) >= h.cfg.LinkStatsInterval {
		h.lastStatsSent = now
		stats := h.LinkStats.LinkStatistics()
		h.queue.Enqueue(stats.Frame())
	}

	limit := h.MaxPacketBytes()
	budget := h.MaxPeriodBytes() - received
	var out []byte
	for budget > 0 {
		frame := h.queue.Pop(min(budget, limit), limit)
		if frame == nil {
			break
		}
		out = append(out, frame...)
		budget -= len(frame)
	}
	if len(out) == 0 {
		return
	}
	if err := h.transmit(out); err != nil {
		glog.Warningf("write to handset: %v", err)
	}
}

// transmit writes p, switching a half-duplex line to transmit for the
// duration of the write.
func (h *Handset) transmit(p []byte) (err error) {
	if h.Duplex != nil {
		if err = h.Duplex.SetTX(); err != nil {
			return err
		}
		defer func() {
			if e := h.Duplex.SetRX(); err == nil {
				err = e
			}
		}()
	}
	_, err = h.Port.Write(p)
	return err
}
