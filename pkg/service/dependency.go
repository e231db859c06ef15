package service

// dependency is a directed edge from a dependent controller (owner) to the
// registration of a required name.
//
// The edge mirrors the registration's published availability. Updates carry
// the registration's version, and an update older than the one already
// applied is ignored, so concurrent publishers cannot reorder the view.
// All fields except name and owner are guarded by owner.mu.
type dependency struct {
	name  ServiceName
	owner *Controller
	reg   *registration

	version uint64
	state   availability
}

func newDependency(owner *Controller, name ServiceName) *dependency {
	return &dependency{name: name, owner: owner}
}

// apply updates the edge and the owner's counters. It reports whether the
// edge changed. Caller holds owner.mu.
func (e *dependency) apply(version uint64, st availability) bool {
	if version <= e.version {
		return false
	}
	e.version = version
	old := e.state
	e.state = st
	if old == st {
		return false
	}

	c := e.owner
	switch {
	case old.up && !st.up:
		c.unsatisfied++
	case !old.up && st.up:
		c.unsatisfied--
	}
	switch {
	case !old.failed && st.failed:
		c.failedDeps++
		if c.failedDeps == 1 {
			c.emit(Event{Kind: EventDependencyFailed, Dependency: e.name})
		}
	case old.failed && !st.failed:
		c.failedDeps--
		if c.failedDeps == 0 {
			c.emit(Event{Kind: EventDependencyFailureCleared, Dependency: e.name})
		}
	}
	switch {
	case !old.unavailable && st.unavailable:
		c.unavailableDeps++
		if c.unavailableDeps == 1 {
			c.emit(Event{Kind: EventDependencyUnavailable, Dependency: e.name})
		}
	case old.unavailable && !st.unavailable:
		c.unavailableDeps--
		if c.unavailableDeps == 0 {
			c.emit(Event{Kind: EventDependencyAvailable, Dependency: e.name})
		}
	}
	if c.substate == SubstateStartFailed && ((!old.up && st.up) || (old.failed && !st.failed)) {
		c.depRecovered = true
	}
	return true
}
