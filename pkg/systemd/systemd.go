// Package systemd talks to the service manager over sd_notify. Every call is
// a no-op outside a Type=notify unit (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready reports READY=1. sent is false when not running under systemd.
func Ready() (sent bool, err error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping reports STOPPING=1.
func Stopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Reloading reports RELOADING=1; call Ready once the reload is applied.
func Reloading() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) {
	return daemon.SdNotify(false, "STATUS="+msg)
}

// Watchdog pings WATCHDOG=1 at half the unit's WatchdogSec until ctx is
// done. It returns immediately when the watchdog is not enabled.
func Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
