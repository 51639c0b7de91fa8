// Package systemd reports service state to the service manager over the
// sd_notify protocol. Every call is a no-op outside a systemd unit.
package systemd

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state updates. The zero value talks to $NOTIFY_SOCKET.
type Notifier struct {
	// UnsetEnv clears NOTIFY_SOCKET after the first send so child processes
	// do not inherit it.
	UnsetEnv bool
}

// Ready reports READY=1 with an optional status line.
func (n Notifier) Ready(status string) (bool, error) {
	return n.send(daemon.SdNotifyReady, statusLine(status))
}

// Status updates the free-form status line shown by systemctl.
func (n Notifier) Status(status string) (bool, error) {
	return n.send(statusLine(status))
}

func (n Notifier) Stopping(status string) (bool, error) {
	return n.send(daemon.SdNotifyStopping, statusLine(status))
}

// WatchdogInterval returns the configured watchdog period, or 0 when the
// unit has no WatchdogSec.
func (n Notifier) WatchdogInterval() (time.Duration, error) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0, errors.Wrap(err, "watchdog")
	}
	return d, nil
}

// Watchdog pings WATCHDOG=1 at half the configured period until ctx is done.
// healthy gates each ping; a nil func always pings.
func (n Notifier) Watchdog(ctx context.Context, healthy func() bool) error {
	d, err := n.WatchdogInterval()
	if err != nil || d <= 0 {
		return err
	}
	t := time.NewTicker(d / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if healthy != nil && !healthy() {
				continue
			}
			if _, err := n.send(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}

func (n Notifier) send(lines ...string) (bool, error) {
	msg := strings.Join(slices.DeleteFunc(lines, func(l string) bool { return l == "" }), "\n")
	if msg == "" {
		return false, nil
	}
	ok, err := daemon.SdNotify(n.UnsetEnv, msg)
	if err != nil {
		return false, errors.Wrap(err, "sd_notify")
	}
	return ok, nil
}

func statusLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return "STATUS=" + strings.ReplaceAll(s, "\n", " ")
}
