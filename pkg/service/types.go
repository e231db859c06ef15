// Package service implements the dependency-driven service container: the
// registry of named services, the per-service controller state machine, the
// dependency edges that carry availability between controllers, batch
// installation and the stability monitor.
package service

import (
	"fmt"
	"strings"
)

// State is the coarse lifecycle state of a controller.
type State uint8

const (
	StateDown     State = iota // Not running
	StateStarting              // Start attempt in progress
	StateUp                    // Running
	StateStopping              // Stop attempt in progress
	StateRemoved               // Removed from the container
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "DOWN"
	case StateStarting:
		return "STARTING"
	case StateUp:
		return "UP"
	case StateStopping:
		return "STOPPING"
	case StateRemoved:
		return "REMOVED"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Substate refines State for observation. Every substate maps to exactly one
// coarse State.
type Substate uint8

const (
	SubstateNew            Substate = iota // Installed, not yet evaluated
	SubstateDown                           // Idle, re-evaluating
	SubstateWaiting                        // ON_DEMAND and not demanded
	SubstateWontStart                      // Mode NEVER
	SubstateProblem                        // Wants to start, a dependency failed or is unavailable
	SubstateStartRequested                 // Wants to start, waiting for dependencies
	SubstateStarting                       // Start attempt in flight
	SubstateStartFailed                    // Last start attempt failed
	SubstateUp                             // Running
	SubstateStopRequested                  // Must stop, waiting for running dependents
	SubstateStopping                       // Stop attempt in flight
	SubstateRemoving                       // Unlinking from the registry
	SubstateRemoved                        // Unlinked
	SubstateTerminated                     // Final
)

var substateNames = [...]string{
	SubstateNew:            "NEW",
	SubstateDown:           "DOWN",
	SubstateWaiting:        "WAITING",
	SubstateWontStart:      "WONT_START",
	SubstateProblem:        "PROBLEM",
	SubstateStartRequested: "START_REQUESTED",
	SubstateStarting:       "STARTING",
	SubstateStartFailed:    "START_FAILED",
	SubstateUp:             "UP",
	SubstateStopRequested:  "STOP_REQUESTED",
	SubstateStopping:       "STOPPING",
	SubstateRemoving:       "REMOVING",
	SubstateRemoved:        "REMOVED",
	SubstateTerminated:     "TERMINATED",
}

func (s Substate) String() string {
	if int(s) < len(substateNames) {
		return substateNames[s]
	}
	return fmt.Sprintf("Substate(%d)", s)
}

// State returns the coarse state this substate refines.
func (s Substate) State() State {
	switch s {
	case SubstateStarting:
		return StateStarting
	case SubstateUp, SubstateStopRequested:
		return StateUp
	case SubstateStopping:
		return StateStopping
	case SubstateRemoved, SubstateTerminated:
		return StateRemoved
	default:
		return StateDown
	}
}

// IsRestState reports whether a controller in this substate has nothing left
// to do until an external trigger arrives.
func (s Substate) IsRestState() bool {
	switch s {
	case SubstateWaiting, SubstateWontStart, SubstateProblem, SubstateStartRequested,
		SubstateStartFailed, SubstateUp, SubstateTerminated:
		return true
	}
	return false
}

// Mode is the owner's policy for when a controller should run.
type Mode uint8

const (
	ModeActive   Mode = iota // Start as soon as possible and demand dependencies
	ModePassive              // Start whenever dependencies are up, never demand them
	ModeOnDemand             // Start only while demanded by a dependent
	ModeNever                // Never start
	ModeRemove               // Stop and remove
)

var modeNames = [...]string{
	ModeActive:   "ACTIVE",
	ModePassive:  "PASSIVE",
	ModeOnDemand: "ON_DEMAND",
	ModeNever:    "NEVER",
	ModeRemove:   "REMOVE",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", m)
}

// ParseMode parses a mode name. Matching ignores case; "-" and "_" are
// interchangeable.
func ParseMode(s string) (Mode, error) {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for m, name := range modeNames {
		if name == key {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// availability is what a controller exports through each registration it
// owns, and what each dependency edge mirrors.
type availability struct {
	up          bool
	failed      bool
	unavailable bool
}

var missing = availability{unavailable: true}
