package service

import (
	"sort"
	"sync"
)

// registry maps names to registrations. Each container owns one.
//
// Lock order: registry.mu, then registration.mu, then Controller.mu.
type registry struct {
	mu   sync.Mutex
	regs map[ServiceName]*registration
}

func newRegistry() *registry {
	return &registry{regs: make(map[ServiceName]*registration)}
}

// registration is the slot for one name. It holds the installed controller,
// if any, the dependency edges pointing at the name, and the availability
// last published for the name.
type registration struct {
	name ServiceName

	mu         sync.Mutex
	controller *Controller
	claimed    bool // reserved by a batch that has not committed yet
	dependents map[*dependency]struct{}
	demand     int
	state      availability
	version    uint64
}

func (r *registry) getOrCreateLocked(name ServiceName) *registration {
	reg, ok := r.regs[name]
	if !ok {
		reg = &registration{
			name:       name,
			dependents: make(map[*dependency]struct{}),
			state:      missing,
			version:    1,
		}
		r.regs[name] = reg
	}
	return reg
}

// getOrCreate returns the registration for name, creating it if needed.
func (r *registry) getOrCreate(name ServiceName) *registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(name)
}

func (r *registry) lookup(name ServiceName) *registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[name]
}

// controllerOf returns the controller installed under name, or nil.
func (r *registry) controllerOf(name ServiceName) *Controller {
	reg := r.lookup(name)
	if reg == nil {
		return nil
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.controller
}

// claim reserves name for a pending batch. It fails if the name already has
// a controller or another batch holds it.
func (r *registry) claim(name ServiceName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.getOrCreateLocked(name)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.controller != nil || reg.claimed {
		return false
	}
	reg.claimed = true
	return true
}

func (r *registry) unclaim(name ServiceName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.regs[name]
	if reg == nil {
		return
	}
	reg.mu.Lock()
	reg.claimed = false
	unused := reg.unusedLocked()
	reg.mu.Unlock()
	if unused {
		delete(r.regs, name)
	}
}

// addDependent attaches e to the registration for e.name and seeds the edge
// with the registration's current availability.
func (r *registry) addDependent(e *dependency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.getOrCreateLocked(e.name)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.dependents[e] = struct{}{}
	e.reg = reg
	e.owner.seed(e, reg.version, reg.state)
}

// removeDependent detaches e and drops the registration if nothing else
// uses it.
func (r *registry) removeDependent(e *dependency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := e.reg
	reg.mu.Lock()
	delete(reg.dependents, e)
	unused := reg.unusedLocked()
	reg.mu.Unlock()
	if unused && r.regs[reg.name] == reg {
		delete(r.regs, reg.name)
	}
}

// removeIfUnused deletes the registration for name when it has no
// controller, no claim, no dependents and no outstanding demand.
func (r *registry) removeIfUnused(name ServiceName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.regs[name]
	if reg == nil {
		return
	}
	reg.mu.Lock()
	unused := reg.unusedLocked()
	reg.mu.Unlock()
	if unused {
		delete(r.regs, name)
	}
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

// names returns every registered name in order.
func (r *registry) names() []ServiceName {
	r.mu.Lock()
	names := make([]ServiceName, 0, len(r.regs))
	for n := range r.regs {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Slice(names, func(i, j int) bool { return names[i].Compare(names[j]) < 0 })
	return names
}

func (reg *registration) unusedLocked() bool {
	return reg.controller == nil && !reg.claimed && len(reg.dependents) == 0 && reg.demand == 0
}

// publishLocked records a new availability and returns the version together
// with the edges that must be told about it.
func (reg *registration) publishLocked(st availability) (uint64, []*dependency) {
	reg.version++
	reg.state = st
	edges := make([]*dependency, 0, len(reg.dependents))
	for e := range reg.dependents {
		edges = append(edges, e)
	}
	return reg.version, edges
}

// publish records st if c still owns the registration and forwards it to
// every dependent edge. It must be called without locks held.
func (reg *registration) publish(c *Controller, st availability) {
	reg.mu.Lock()
	if reg.controller != c {
		reg.mu.Unlock()
		return
	}
	version, edges := reg.publishLocked(st)
	reg.mu.Unlock()
	deliver(edges, version, st)
}

func deliver(edges []*dependency, version uint64, st availability) {
	for _, e := range edges {
		e.owner.receive(e, version, st)
	}
}

// attach installs c as the registration's controller. c inherits the demand
// already recorded against the name.
func (reg *registration) attach(c *Controller) {
	reg.mu.Lock()
	reg.claimed = false
	reg.controller = c
	c.mu.Lock()
	c.demandedBy += reg.demand
	st := c.export()
	c.published = st
	c.mu.Unlock()
	version, edges := reg.publishLocked(st)
	reg.mu.Unlock()
	deliver(edges, version, st)
}

// detach clears c as the registration's controller and tells dependents the
// name is missing.
func (reg *registration) detach(c *Controller) {
	reg.mu.Lock()
	if reg.controller != c {
		reg.mu.Unlock()
		return
	}
	reg.controller = nil
	version, edges := reg.publishLocked(missing)
	reg.mu.Unlock()
	deliver(edges, version, missing)
}

// addDemand adjusts the demand recorded against the name and forwards it to
// the installed controller, if any.
func (reg *registration) addDemand(delta int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.demand += delta
	if c := reg.controller; c != nil {
		c.mu.Lock()
		c.demandedBy += delta
		c.unlockAndSubmit()
	}
}

// acquire registers one running dependent on the installed controller if
// the name is currently up. On failure it returns the state it observed.
func (reg *registration) acquire() (*Controller, uint64, availability) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	c := reg.controller
	if c == nil || !reg.state.up {
		return nil, reg.version, reg.state
	}
	c.mu.Lock()
	c.runningDependents++
	c.unlockAndSubmit()
	return c, reg.version, reg.state
}

func (reg *registration) currentController() *Controller {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.controller
}
