package eventloop

import (
	"os"
	"os/signal"
	"syscall"
)

// SetupSignals registers handlers for sigs and returns the channel
// receiving them.
func SetupSignals(sigs ...syscall.Signal) chan os.Signal {
	sigCh := make(chan os.Signal, 8)
	notify := make([]os.Signal, len(sigs))
	for i, s := range sigs {
		notify[i] = s
	}
	signal.Notify(sigCh, notify...)
	return sigCh
}

// StopSignals removes the handlers registered by SetupSignals.
func StopSignals(sigCh chan os.Signal) {
	signal.Stop(sigCh)
}
