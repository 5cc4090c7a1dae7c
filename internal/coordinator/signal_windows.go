//go:build windows

package coordinator

import (
	"context"
	"syscall"

	"golang.org/x/sys/windows"
)

// withShutdown derives a context cancelled by a console control event.
// Windows has no SIGINT/SIGTERM; spec.md calls for "the equivalent
// console-break event" to have identical effect, which on this platform
// means registering a console control handler instead of os/signal.
func withShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := registerSignals(cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func registerSignals(cancel func()) func() {
	handler := func(ctrlType uint32) uintptr {
		switch ctrlType {
		case windows.CTRL_C_EVENT, windows.CTRL_BREAK_EVENT,
			windows.CTRL_CLOSE_EVENT, windows.CTRL_LOGOFF_EVENT, windows.CTRL_SHUTDOWN_EVENT:
			cancel()
			return 1
		}
		return 0
	}
	callback := syscall.NewCallback(handler)

	_ = windows.SetConsoleCtrlHandler(callback, true)
	return func() {
		_ = windows.SetConsoleCtrlHandler(callback, false)
	}
}
