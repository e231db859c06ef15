package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidName is returned for an empty segment sequence or an empty
	// segment.
	ErrInvalidName = errors.New("invalid service name")

	// ErrIllegalState is returned when an operation is not valid in the
	// current state, such as completing a start attempt twice.
	ErrIllegalState = errors.New("illegal state")

	ErrDuplicateService   = errors.New("duplicate service")
	ErrMissingDependency  = errors.New("missing dependency")
	ErrCircularDependency = errors.New("circular dependency")
	ErrContainerShutdown  = errors.New("container is shut down")
	ErrNotUp              = errors.New("service is not up")
	ErrNoValue            = errors.New("service provides no value")
)

// DuplicateServiceError reports a name provided twice, either within one
// batch or by a batch and an installed service.
type DuplicateServiceError struct {
	Name ServiceName
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("duplicate service: %s", e.Name)
}

func (e *DuplicateServiceError) Is(target error) bool { return target == ErrDuplicateService }

// MissingDependencyError reports a dependency that resolves neither to an
// installed service nor to a member of the same batch.
type MissingDependencyError struct {
	Service    ServiceName
	Dependency ServiceName
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("service %s depends on missing service %s", e.Service, e.Dependency)
}

func (e *MissingDependencyError) Is(target error) bool { return target == ErrMissingDependency }

// CircularDependencyError reports a dependency cycle. Path starts and ends
// with the same name.
type CircularDependencyError struct {
	Path []ServiceName
}

func (e *CircularDependencyError) Error() string {
	parts := make([]string, len(e.Path))
	for i, n := range e.Path {
		parts[i] = n.String()
	}
	return "circular dependency: " + strings.Join(parts, " -> ")
}

func (e *CircularDependencyError) Is(target error) bool { return target == ErrCircularDependency }

// StartError is the failure recorded for a service whose start attempt
// failed.
type StartError struct {
	Name  ServiceName
	Cause error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("service %s failed to start: %v", e.Name, e.Cause)
}

func (e *StartError) Unwrap() error { return e.Cause }

// PanicError wraps a value recovered from a panicking Start or Stop.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

var errUnspecifiedFailure = errors.New("start failed")
