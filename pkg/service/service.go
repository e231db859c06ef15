package service

import (
	"fmt"
)

// Service is implemented by anything the container manages.
//
// Start and Stop must not block. Long-running work calls
// ctx.Asynchronous(), hands itself to another goroutine and later reports
// through Complete or Failed. A Start that returns nil without going
// asynchronous is complete; a non-nil error fails the attempt. Stop cannot
// fail: a panic in Stop is logged and reported to listeners, and the
// service still goes down.
type Service interface {
	Start(ctx StartContext) error
	Stop(ctx StopContext)
}

// Valuer is implemented by services that expose a value once up.
type Valuer interface {
	Value() (interface{}, error)
}

// Funcs adapts a pair of functions to Service. Nil functions are no-ops.
type Funcs struct {
	StartFunc func(StartContext) error
	StopFunc  func(StopContext)
}

func (f Funcs) Start(ctx StartContext) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Funcs) Stop(ctx StopContext) {
	if f.StopFunc != nil {
		f.StopFunc(ctx)
	}
}

// ValueOf returns the value of the service installed under c, typed as T.
// It fails with ErrNotUp unless c is UP.
func ValueOf[T any](c *Controller) (T, error) {
	var zero T
	v, err := c.Value()
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("service %s: value is %T, not %T", c.Name(), v, zero)
	}
	return typed, nil
}
