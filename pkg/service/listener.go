package service

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventKind tags an Event.
type EventKind uint8

const (
	EventTransition               EventKind = iota // Substate changed; From and To are set
	EventRemoveRequested                           // Mode set to REMOVE
	EventStartFailed                               // A start attempt failed; Err is set
	EventStopFailed                                // Stop returned abnormally; Err is set
	EventDependencyFailed                          // First dependency entered a failed state
	EventDependencyFailureCleared                  // No dependency is failed any more
	EventDependencyUnavailable                     // First dependency became unavailable or missing
	EventDependencyAvailable                       // All dependencies are available again
)

func (k EventKind) String() string {
	switch k {
	case EventTransition:
		return "TRANSITION"
	case EventRemoveRequested:
		return "REMOVE_REQUESTED"
	case EventStartFailed:
		return "START_FAILED"
	case EventStopFailed:
		return "STOP_FAILED"
	case EventDependencyFailed:
		return "DEPENDENCY_FAILED"
	case EventDependencyFailureCleared:
		return "DEPENDENCY_FAILURE_CLEARED"
	case EventDependencyUnavailable:
		return "DEPENDENCY_UNAVAILABLE"
	case EventDependencyAvailable:
		return "DEPENDENCY_AVAILABLE"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// Event is delivered to listeners. Events for one controller arrive in the
// order they happened; events for different controllers may interleave.
type Event struct {
	Kind       EventKind
	Controller *Controller
	Name       ServiceName
	From, To   Substate
	Dependency ServiceName // first dependency that caused a dependency event
	Err        error
	Time       time.Time
}

func (e Event) String() string {
	switch e.Kind {
	case EventTransition:
		return fmt.Sprintf("%s %s -> %s", e.Name, e.From, e.To)
	case EventStartFailed, EventStopFailed:
		return fmt.Sprintf("%s %s: %v", e.Name, e.Kind, e.Err)
	case EventDependencyFailed, EventDependencyUnavailable:
		return fmt.Sprintf("%s %s (%s)", e.Name, e.Kind, e.Dependency)
	default:
		return fmt.Sprintf("%s %s", e.Name, e.Kind)
	}
}

// Listener observes controller events.
//
// Handle runs on a lifecycle worker. It may call back into the container,
// but must not wait for stability.
type Listener interface {
	Handle(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) Handle(e Event) { f(e) }

type listenerEntry struct {
	l       Listener
	removed atomic.Bool
}

// queuedEvent pairs an event with the listeners attached when it happened.
type queuedEvent struct {
	ev        Event
	listeners []*listenerEntry
}
