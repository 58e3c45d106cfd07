package status

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/golang/glog"
)

// Liveness tells if the serial loop polled within maxAge.
type Liveness interface {
	Alive(maxAge time.Duration) bool
}

// Notifier reports readiness to systemd and keeps the watchdog alive while
// the serial loop is polling.
type Notifier struct {
	Liveness Liveness
	// Interval overrides the keep-alive interval derived from WATCHDOG_USEC.
	Interval time.Duration
}

// Run implements framework.Runnable. It returns immediately when not
// started by systemd.
func (n *Notifier) Run(ctx context.Context) error {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return err
	}
	if !sent {
		glog.V(1).Info("systemd notification not supported")
		return nil
	}
	defer daemon.SdNotify(false, daemon.SdNotifyStopping)

	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return err
	}
	interval := n.Interval
	if interval <= 0 {
		interval = timeout / 2
	}
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	glog.Infof("systemd watchdog every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n.Liveness != nil && !n.Liveness.Alive(interval) {
				glog.Warning("serial loop stalled, watchdog not fed")
				continue
			}
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
