package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Controller drives one installed service through its lifecycle.
//
// All mutable state is guarded by mu. Work that must not run under mu
// (calling the service, publishing to registrations, talking to other
// controllers) is spawned as a task on the container's pool. asyncTasks
// counts the spawned tasks that have not finished, and the transition table
// is only consulted when it is zero, so at most one lifecycle step is in
// flight per controller and triggers arriving meanwhile are coalesced.
type Controller struct {
	container  *Container
	name       ServiceName
	aliases    []ServiceName
	regs       []*registration // primary first, then aliases
	id         uuid.UUID
	service    Service
	injections []Injection
	deps       []*dependency

	mu        sync.Mutex
	installed bool
	substate  Substate
	mode      Mode

	asyncTasks int
	spawned    []func()

	demandedBy        int
	demanding         bool
	runningDependents int
	acquired          bool
	held              []*Controller

	unsatisfied     int
	failedDeps      int
	unavailableDeps int
	published       availability

	startErr     error
	retry        bool
	depRecovered bool

	listeners []*listenerEntry
	events    []queuedEvent
	draining  bool

	busy      bool
	forgotten bool
	monitors  map[*StabilityMonitor]struct{}
}

func newController(container *Container, def *Definition) *Controller {
	c := &Controller{
		container:  container,
		name:       def.Name,
		aliases:    append([]ServiceName(nil), def.Aliases...),
		id:         uuid.New(),
		service:    def.Service,
		injections: append([]Injection(nil), def.Injections...),
		substate:   SubstateNew,
		mode:       def.Mode,
		monitors:   make(map[*StabilityMonitor]struct{}),
	}
	seen := make(map[ServiceName]bool, len(def.Dependencies))
	for _, name := range def.Dependencies {
		if seen[name] {
			continue
		}
		seen[name] = true
		c.deps = append(c.deps, newDependency(c, name))
	}
	c.unsatisfied = len(c.deps)
	return c
}

// Name returns the primary name.
func (c *Controller) Name() ServiceName { return c.name }

// Aliases returns the additional names the controller is installed under.
func (c *Controller) Aliases() []ServiceName {
	return append([]ServiceName(nil), c.aliases...)
}

// InstanceID identifies this installation. A service removed and installed
// again under the same name gets a new ID.
func (c *Controller) InstanceID() string { return c.id.String() }

// Service returns the managed service.
func (c *Controller) Service() Service { return c.service }

// Container returns the owning container.
func (c *Controller) Container() *Container { return c.container }

// Dependencies returns the declared dependency names in declaration order.
func (c *Controller) Dependencies() []ServiceName {
	names := make([]ServiceName, len(c.deps))
	for i, e := range c.deps {
		names[i] = e.name
	}
	return names
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Substate() Substate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.substate
}

func (c *Controller) State() State { return c.Substate().State() }

// StartError returns the cause of the last failed start attempt, or nil.
func (c *Controller) StartError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startErr
}

// SetMode changes the mode. A controller in mode REMOVE cannot leave it.
func (c *Controller) SetMode(m Mode) error {
	c.mu.Lock()
	err := c.setModeLocked(m)
	c.unlockAndSubmit()
	return err
}

// CompareAndSetMode changes the mode only if it currently equals expected.
func (c *Controller) CompareAndSetMode(expected, m Mode) (bool, error) {
	c.mu.Lock()
	if c.mode != expected {
		c.mu.Unlock()
		return false, nil
	}
	err := c.setModeLocked(m)
	c.unlockAndSubmit()
	return err == nil, err
}

func (c *Controller) setModeLocked(m Mode) error {
	if m > ModeRemove {
		return fmt.Errorf("invalid mode %d", m)
	}
	if c.mode == m {
		return nil
	}
	if c.mode == ModeRemove {
		return fmt.Errorf("%w: %s is being removed", ErrIllegalState, c.name)
	}
	c.mode = m
	if m == ModeRemove {
		c.emit(Event{Kind: EventRemoveRequested})
	}
	return nil
}

// Retry requests a new start attempt after a failure. It is only valid in
// START_FAILED.
func (c *Controller) Retry() error {
	c.mu.Lock()
	if c.substate != SubstateStartFailed {
		sub := c.substate
		c.mu.Unlock()
		return fmt.Errorf("%w: retry %s in %s", ErrIllegalState, c.name, sub)
	}
	c.retry = true
	c.unlockAndSubmit()
	return nil
}

// Value returns the service's value. The service must be UP and implement
// Valuer.
func (c *Controller) Value() (interface{}, error) {
	c.mu.Lock()
	sub := c.substate
	c.mu.Unlock()
	if sub != SubstateUp {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotUp, c.name, sub)
	}
	v, ok := c.service.(Valuer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoValue, c.name)
	}
	return v.Value()
}

// AddListener attaches l. It receives only events that happen after the
// call. The returned function detaches it.
func (c *Controller) AddListener(l Listener) (remove func()) {
	entry := &listenerEntry{l: l}
	c.mu.Lock()
	c.listeners = append(append([]*listenerEntry(nil), c.listeners...), entry)
	c.mu.Unlock()
	return func() { c.removeListener(entry) }
}

func (c *Controller) removeListener(entry *listenerEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.removed.Store(true)
	for i, e := range c.listeners {
		if e == entry {
			next := make([]*listenerEntry, 0, len(c.listeners)-1)
			next = append(next, c.listeners[:i]...)
			c.listeners = append(next, c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Controller) String() string {
	return fmt.Sprintf("Controller(%s)", c.name)
}

// --- task plumbing ---

// spawnAsync queues fn on the pool. fn must eventually call done exactly
// once; apply, if not nil, runs under mu before the task is counted as
// finished. Caller holds mu.
func (c *Controller) spawnAsync(fn func(done func(apply func()))) {
	c.asyncTasks++
	c.spawned = append(c.spawned, func() {
		fn(func(apply func()) {
			c.mu.Lock()
			if apply != nil {
				apply()
			}
			c.asyncTasks--
			c.unlockAndSubmit()
		})
	})
}

// spawn queues a task that finishes when fn returns. Caller holds mu.
func (c *Controller) spawn(fn func() (apply func())) {
	c.spawnAsync(func(done func(func())) { done(fn()) })
}

// unlockAndSubmit re-evaluates the controller if it is idle, publishes its
// busy flag to stability monitors, releases mu and submits spawned tasks.
// Every entry point that mutates state under mu leaves through here.
func (c *Controller) unlockAndSubmit() {
	if c.installed && c.asyncTasks == 0 {
		c.reconcile()
	}

	// A terminated controller is dropped before its monitors see it go
	// idle, so waiters never find it listed afterwards.
	forget := c.substate == SubstateTerminated && c.asyncTasks == 0 && !c.draining && !c.forgotten
	if forget {
		c.forgotten = true
		c.container.forget(c)
		for m := range c.monitors {
			m.forget(c)
		}
	}
	c.updateBusy()
	if forget {
		c.monitors = make(map[*StabilityMonitor]struct{})
	}

	tasks := c.spawned
	c.spawned = nil
	c.mu.Unlock()

	for _, t := range tasks {
		c.container.submit(t)
	}
}

func (c *Controller) updateBusy() {
	busy := c.asyncTasks > 0 || c.draining
	if busy == c.busy {
		return
	}
	c.busy = busy
	for m := range c.monitors {
		m.adjust(busy)
	}
}

// --- dependency plumbing ---

// seed applies the initial state of a freshly linked edge. Called with the
// edge's registration locked.
func (c *Controller) seed(e *dependency, version uint64, st availability) {
	c.mu.Lock()
	e.apply(version, st)
	c.unlockAndSubmit()
}

// receive applies a published availability to one of c's edges.
func (c *Controller) receive(e *dependency, version uint64, st availability) {
	c.mu.Lock()
	switch c.substate {
	case SubstateRemoving, SubstateRemoved, SubstateTerminated:
	default:
		e.apply(version, st)
	}
	c.unlockAndSubmit()
}

// release drops one running dependent.
func (c *Controller) release() {
	c.mu.Lock()
	if c.runningDependents <= 0 {
		c.mu.Unlock()
		panic(fmt.Sprintf("service: running dependent count of %s would go negative", c.name))
	}
	c.runningDependents--
	c.unlockAndSubmit()
}

func releaseAll(held []*Controller) {
	for _, dep := range held {
		dep.release()
	}
}

// wantsUp reports whether mode and demand ask for the service to run.
func (c *Controller) wantsUp() bool {
	switch c.mode {
	case ModeActive, ModePassive:
		return true
	case ModeOnDemand:
		return c.demandedBy > 0
	default:
		return false
	}
}

// wantsDemand reports whether c should demand its dependencies.
func (c *Controller) wantsDemand() bool {
	if len(c.deps) == 0 || c.mode == ModePassive {
		return false
	}
	switch c.substate {
	case SubstateRemoving, SubstateRemoved, SubstateTerminated:
		return false
	}
	return c.wantsUp()
}

func (c *Controller) blocked() bool {
	return c.failedDeps > 0 || c.unavailableDeps > 0
}

// export computes what c publishes to its registrations.
func (c *Controller) export() availability {
	return availability{
		up:          c.substate == SubstateUp,
		failed:      c.substate == SubstateStartFailed || c.failedDeps > 0,
		unavailable: c.mode == ModeNever || c.mode == ModeRemove || c.unavailableDeps > 0,
	}
}

// --- events ---

// emit queues an event for the listeners currently attached. Caller holds
// mu.
func (c *Controller) emit(ev Event) {
	if len(c.listeners) == 0 {
		return
	}
	ev.Controller = c
	ev.Name = c.name
	ev.Time = time.Now()
	c.events = append(c.events, queuedEvent{ev: ev, listeners: c.listeners})
	if !c.draining {
		c.draining = true
		c.spawned = append(c.spawned, c.drain)
	}
}

// drain delivers queued events in order. At most one drain runs per
// controller.
func (c *Controller) drain() {
	for {
		c.mu.Lock()
		batch := c.events
		c.events = nil
		if len(batch) == 0 {
			c.draining = false
			c.unlockAndSubmit()
			return
		}
		c.mu.Unlock()

		for _, q := range batch {
			for _, entry := range q.listeners {
				if !entry.removed.Load() {
					c.notify(entry.l, q.ev)
				}
			}
		}
	}
}

func (c *Controller) notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.container.logger.Error("Listener panicked handling %s: %v", ev, r)
		}
	}()
	l.Handle(ev)
}
