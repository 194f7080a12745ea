// Package systemd integrates the process with the service manager via the
// sd_notify protocol. Outside systemd every call is a cheap no-op.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "steamnewsbot/pkg/logx"
)

// NotifyReady tells systemd the service finished starting up.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd a shutdown is in progress.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyStatus publishes a one-line status visible in systemctl status.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}

// WatchdogLoop pings the systemd watchdog at half the configured interval
// until ctx is canceled. Returns immediately when no watchdog is configured
// (WatchdogSec absent from the unit, or not running under systemd).
func WatchdogLoop(ctx context.Context, log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog detection failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	tick := interval / 2
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// NotifyStatusf is NotifyStatus with formatting.
func NotifyStatusf(format string, args ...any) {
	NotifyStatus(fmt.Sprintf(format, args...))
}
