// Package eventloop runs a container host until it is told to stop, then
// shuts the container down within a bounded time.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sunlightlinux/svcgraph/pkg/config"
	"github.com/sunlightlinux/svcgraph/pkg/logging"
	"github.com/sunlightlinux/svcgraph/pkg/service"
)

// Default emergency shutdown timeout.
const defaultEmergencyTimeout = 90 * time.Second

// EventLoop waits for a shutdown trigger: context cancellation, one of the
// shutdown signals or InitiateShutdown. SIGHUP logs a status summary.
type EventLoop struct {
	container *service.Container
	logger    *logging.Logger
	signals   []syscall.Signal
	timeout   time.Duration

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	ready        chan struct{}
}

// New creates an event loop for c. A nil settings uses the defaults.
func New(c *service.Container, logger *logging.Logger, settings *config.Settings) (*EventLoop, error) {
	if settings == nil {
		defaults := config.DefaultSettings()
		settings = &defaults
	}
	sigs, err := settings.Signals()
	if err != nil {
		return nil, fmt.Errorf("shutdown signals: %w", err)
	}
	timeout, err := settings.ShutdownTimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("shutdown timeout: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultEmergencyTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &EventLoop{
		container:  c,
		logger:     logger,
		signals:    sigs,
		timeout:    timeout,
		shutdownCh: make(chan struct{}),
		ready:      make(chan struct{}),
	}, nil
}

// Run blocks until a shutdown trigger, then shuts the container down. It
// returns ctx.Err() when the context ended the loop, the shutdown error if
// services did not stop in time, or nil.
func (el *EventLoop) Run(ctx context.Context) error {
	sigCh := SetupSignals(append([]syscall.Signal{syscall.SIGHUP}, el.signals...)...)
	defer StopSignals(sigCh)
	close(el.ready)

	el.logger.Info("svcgraph event loop started (PID %d)", os.Getpid())

	var result error
loop:
	for {
		select {
		case <-ctx.Done():
			el.logger.Info("Context cancelled, shutting down")
			result = ctx.Err()
			break loop

		case <-el.shutdownCh:
			el.logger.Notice("Shutdown requested")
			break loop

		case sig := <-sigCh:
			if el.isShutdownSignal(sig) {
				el.logger.Notice("Received %v, initiating shutdown", sig)
				break loop
			}
			el.logStatus()
		}
	}

	if err := el.shutdown(); err != nil {
		return err
	}
	return result
}

// Ready is closed once signal handlers are installed.
func (el *EventLoop) Ready() <-chan struct{} { return el.ready }

// InitiateShutdown makes Run shut the container down and return.
func (el *EventLoop) InitiateShutdown() {
	el.shutdownOnce.Do(func() { close(el.shutdownCh) })
}

func (el *EventLoop) isShutdownSignal(sig os.Signal) bool {
	for _, s := range el.signals {
		if sig == s {
			return true
		}
	}
	return false
}

func (el *EventLoop) logStatus() {
	stats := el.container.Monitor().Statistics()
	el.logger.Info("Services: %d up, %d failed, %d problem, %d waiting, %d never, %d in transition",
		stats.Started, stats.Failed, stats.Problem, stats.Waiting, stats.Never, stats.Transition)
	for _, st := range el.container.Status() {
		if st.StartError != "" {
			el.logger.Warn("Service '%s' is %s: %s", st.Name, st.Substate, st.StartError)
		}
	}
}

func (el *EventLoop) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), el.timeout)
	defer cancel()

	err := el.container.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		el.logger.Error("Services did not stop within %v, forcing shutdown", el.timeout)
	} else if err != nil {
		el.logger.Error("Shutdown failed: %v", err)
	} else {
		el.logger.Info("All services stopped")
	}
	return err
}

// Run creates an event loop for c from settings and runs it.
func Run(ctx context.Context, c *service.Container, logger *logging.Logger, settings *config.Settings) error {
	el, err := New(c, logger, settings)
	if err != nil {
		return err
	}
	return el.Run(ctx)
}
