package app

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notifier speaks the sd_notify protocol. Outside systemd (no
// NOTIFY_SOCKET) every call is a no-op.
type notifier interface {
	Ready() error
	Watchdog()
	Stopping() error
}

type systemdNotifier struct{}

func (systemdNotifier) Ready() error    { return notify(daemon.SdNotifyReady) }
func (systemdNotifier) Stopping() error { return notify(daemon.SdNotifyStopping) }

func (systemdNotifier) Watchdog() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
}

func notify(state string) error {
	if _, err := daemon.SdNotify(false, state); err != nil {
		return fmt.Errorf("sd_notify %q: %w", state, err)
	}
	return nil
}
