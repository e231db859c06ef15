package service

import (
	"context"
	"sync"
)

// StartContext is handed to Service.Start for one start attempt.
type StartContext interface {
	// Asynchronous declares that the attempt completes later through
	// Complete or Failed. Calls after the first have no effect.
	Asynchronous()
	// Complete reports success. It returns ErrIllegalState if the attempt
	// was already completed or failed.
	Complete() error
	// Failed reports failure. It returns ErrIllegalState if the attempt was
	// already completed or failed.
	Failed(cause error) error
	// Context carries the attempt's trace span.
	Context() context.Context
	Controller() *Controller
}

// StopContext is handed to Service.Stop for one stop attempt.
type StopContext interface {
	Asynchronous()
	Complete() error
	Context() context.Context
	Controller() *Controller
}

// attempt tracks the outcome of one start or stop call. The outcome is
// settled exactly once; finish runs when it is settled and the service
// method has returned, whichever happens last.
type attempt struct {
	ctx        context.Context
	controller *Controller
	finish     func(err error)

	mu       sync.Mutex
	async    bool
	returned bool
	settled  bool
	err      error
}

func newAttempt(ctx context.Context, c *Controller, finish func(error)) *attempt {
	return &attempt{ctx: ctx, controller: c, finish: finish}
}

func (a *attempt) Asynchronous() {
	a.mu.Lock()
	if !a.returned {
		a.async = true
	}
	a.mu.Unlock()
}

func (a *attempt) Complete() error { return a.settle(nil) }

func (a *attempt) Failed(cause error) error {
	if cause == nil {
		cause = errUnspecifiedFailure
	}
	return a.settle(cause)
}

func (a *attempt) Context() context.Context { return a.ctx }

func (a *attempt) Controller() *Controller { return a.controller }

func (a *attempt) settle(err error) error {
	a.mu.Lock()
	if a.settled {
		a.mu.Unlock()
		return ErrIllegalState
	}
	a.settled = true
	a.err = err
	fire := a.returned
	a.mu.Unlock()
	if fire {
		a.finish(err)
	}
	return nil
}

// returnedWith records that the service method returned. A non-nil err
// settles a still-open attempt as failed. A nil err settles it as complete
// unless the method went asynchronous.
func (a *attempt) returnedWith(err error) {
	a.mu.Lock()
	a.returned = true
	if !a.settled {
		switch {
		case err != nil:
			a.settled, a.err = true, err
		case !a.async:
			a.settled = true
		default:
			a.mu.Unlock()
			return
		}
	}
	outcome := a.err
	a.mu.Unlock()
	a.finish(outcome)
}

// stopAttempt hides Failed from Stop implementations.
type stopAttempt struct {
	a *attempt
}

func (s stopAttempt) Asynchronous()            { s.a.Asynchronous() }
func (s stopAttempt) Complete() error          { return s.a.Complete() }
func (s stopAttempt) Context() context.Context { return s.a.Context() }
func (s stopAttempt) Controller() *Controller  { return s.a.Controller() }
