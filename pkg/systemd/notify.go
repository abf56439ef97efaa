// Package systemd speaks the sd_notify protocol so nftwatch can run as a
// Type=notify unit with WatchdogSec set. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "nftwatch/pkg/logx"
)

type Notifier struct {
	log logx.Logger
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log}
}

// Ready reports READY=1 with a human readable status line.
func (n *Notifier) Ready(status string) { n.notify(daemon.SdNotifyReady + "\nSTATUS=" + status) }

func (n *Notifier) Reloading() { n.notify(daemon.SdNotifyReloading) }

func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

func (n *Notifier) Status(status string) { n.notify("STATUS=" + status) }

func (n *Notifier) notify(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.Err(err))
	}
	return sent
}

// RunWatchdog pings WATCHDOG=1 at half the unit's WatchdogSec until ctx ends.
// healthy gates each ping; a nil func always pings. It returns at once when
// the watchdog is not enabled for this process.
func (n *Notifier) RunWatchdog(ctx context.Context, healthy func() bool) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	every /= 2
	n.log.Info("systemd watchdog enabled", logx.Duration("ping_every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("skipping systemd watchdog ping: unhealthy")
				continue
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
