package service

import (
	"errors"
	"fmt"

	"github.com/sunlightlinux/svcgraph/pkg/resolver"
)

// Definition describes a service to install.
type Definition struct {
	Name         ServiceName
	Aliases      []ServiceName
	Service      Service
	Mode         Mode
	Dependencies []ServiceName
	Injections   []Injection
	Listeners    []Listener
}

// Define starts a definition for svc under name in mode ACTIVE.
func Define(name ServiceName, svc Service) *Definition {
	return &Definition{Name: name, Service: svc}
}

// DependsOn adds dependencies, skipping names already declared.
func (d *Definition) DependsOn(names ...ServiceName) *Definition {
	for _, n := range names {
		dup := false
		for _, existing := range d.Dependencies {
			if existing == n {
				dup = true
				break
			}
		}
		if !dup {
			d.Dependencies = append(d.Dependencies, n)
		}
	}
	return d
}

// Alias adds additional names.
func (d *Definition) Alias(names ...ServiceName) *Definition {
	d.Aliases = append(d.Aliases, names...)
	return d
}

// WithMode sets the initial mode.
func (d *Definition) WithMode(m Mode) *Definition {
	d.Mode = m
	return d
}

// Listen attaches a listener to the controller from installation on.
func (d *Definition) Listen(l Listener) *Definition {
	d.Listeners = append(d.Listeners, l)
	return d
}

func (d *Definition) provides() []ServiceName {
	return append([]ServiceName{d.Name}, d.Aliases...)
}

func (d *Definition) validate() error {
	if d.Name.IsZero() {
		return fmt.Errorf("%w: definition without a name", ErrInvalidName)
	}
	if d.Service == nil {
		return fmt.Errorf("service %s: no Service implementation", d.Name)
	}
	if d.Mode > ModeRemove {
		return fmt.Errorf("service %s: invalid mode %d", d.Name, d.Mode)
	}
	for _, a := range d.Aliases {
		if a.IsZero() {
			return fmt.Errorf("%w: empty alias on %s", ErrInvalidName, d.Name)
		}
	}
	for _, dep := range d.Dependencies {
		if dep.IsZero() {
			return fmt.Errorf("%w: empty dependency on %s", ErrInvalidName, d.Name)
		}
	}
	return nil
}

// Batch collects definitions that are installed all together or not at all.
type Batch struct {
	container    *Container
	defs         []*Definition
	listeners    []Listener
	allowMissing bool
	done         bool
}

// Add queues a definition.
func (b *Batch) Add(def *Definition) *Batch {
	b.defs = append(b.defs, def)
	return b
}

// AddListener attaches l to every controller of the batch.
func (b *Batch) AddListener(l Listener) *Batch {
	b.listeners = append(b.listeners, l)
	return b
}

// AllowMissingDependencies lets the batch depend on names nobody provides
// yet. Dependents of such names wait in PROBLEM until a provider is
// installed.
func (b *Batch) AllowMissingDependencies() *Batch {
	b.allowMissing = true
	return b
}

// Install validates the batch against itself and the installed services
// and, only if everything checks out, links the new controllers into the
// registry and hands them to the scheduler. It returns once the controllers
// are wired, not once they are up. The returned controllers are in
// definition order.
//
// A batch is rejected as a whole, leaving the registry unchanged, when a
// name is provided twice, a dependency cannot be resolved (unless missing
// dependencies are allowed) or the dependencies form a cycle.
func (b *Batch) Install() ([]*Controller, error) {
	if b.done {
		return nil, fmt.Errorf("%w: batch already installed", ErrIllegalState)
	}
	b.done = true
	c := b.container
	if c.IsShutdown() {
		return nil, ErrContainerShutdown
	}

	providers := make(map[ServiceName]*Definition)
	for _, d := range b.defs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		for _, n := range d.provides() {
			if _, dup := providers[n]; dup {
				return nil, &DuplicateServiceError{Name: n}
			}
			providers[n] = d
		}
	}

	var claimed []ServiceName
	rollback := func() {
		for _, n := range claimed {
			c.registry.unclaim(n)
		}
	}
	for _, d := range b.defs {
		for _, n := range d.provides() {
			if !c.registry.claim(n) {
				rollback()
				return nil, &DuplicateServiceError{Name: n}
			}
			claimed = append(claimed, n)
		}
	}

	order, err := b.resolve(providers)
	if err != nil {
		rollback()
		return nil, err
	}

	ctrls := make(map[*Definition]*Controller, len(b.defs))
	for _, d := range b.defs {
		ctrl := newController(c, d)
		for _, n := range d.provides() {
			ctrl.regs = append(ctrl.regs, c.registry.getOrCreate(n))
		}
		ctrl.listeners = b.listenerEntries(d)
		if err := c.register(ctrl); err != nil {
			for _, done := range ctrls {
				c.forget(done)
			}
			rollback()
			return nil, err
		}
		ctrls[d] = ctrl
	}

	// Wiring cannot fail from here on.
	for _, d := range b.defs {
		for _, e := range ctrls[d].deps {
			c.registry.addDependent(e)
		}
	}
	for _, d := range order {
		ctrl := ctrls[d]
		for _, reg := range ctrl.regs {
			reg.attach(ctrl)
		}
		c.monitor.AddController(ctrl)
		ctrl.mu.Lock()
		ctrl.installed = true
		ctrl.unlockAndSubmit()
		c.logger.Debug("Installed service '%s' (%s)", ctrl.name, ctrl.id)
	}

	out := make([]*Controller, len(b.defs))
	for i, d := range b.defs {
		out[i] = ctrls[d]
	}
	return out, nil
}

func (b *Batch) listenerEntries(d *Definition) []*listenerEntry {
	var entries []*listenerEntry
	add := func(ls []Listener) {
		for _, l := range ls {
			entries = append(entries, &listenerEntry{l: l})
		}
	}
	add(b.container.listeners)
	add(b.listeners)
	add(d.Listeners)
	return entries
}

// resolve checks that every dependency resolves and that no cycle runs
// through the batch, and returns the batch in dependency-first order.
// Installed services are walked through their declared dependency names,
// which never change after installation.
func (b *Batch) resolve(providers map[ServiceName]*Definition) ([]*Definition, error) {
	c := b.container
	items := make(map[string]resolver.Item)
	names := make(map[string]ServiceName)
	batchKey := make(map[string]*Definition)
	var pending []*Controller
	visited := make(map[*Controller]bool)

	// key maps a dependency name to the primary name of its provider, if
	// any provider exists.
	key := func(n ServiceName) (string, bool) {
		if d, ok := providers[n]; ok {
			return d.Name.String(), true
		}
		ctrl := c.registry.controllerOf(n)
		if ctrl == nil {
			return "", false
		}
		if !visited[ctrl] {
			visited[ctrl] = true
			pending = append(pending, ctrl)
		}
		return ctrl.name.String(), true
	}

	for _, d := range b.defs {
		k := d.Name.String()
		names[k] = d.Name
		batchKey[k] = d
		item := resolver.Item{Name: k}
		for _, dep := range d.Dependencies {
			dk, ok := key(dep)
			if !ok {
				if !b.allowMissing {
					return nil, &MissingDependencyError{Service: d.Name, Dependency: dep}
				}
				continue
			}
			item.Dependencies = append(item.Dependencies, dk)
		}
		items[k] = item
	}
	for len(pending) > 0 {
		ctrl := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		k := ctrl.name.String()
		names[k] = ctrl.name
		item := resolver.Item{Name: k}
		for _, e := range ctrl.deps {
			if dk, ok := key(e.name); ok {
				item.Dependencies = append(item.Dependencies, dk)
			}
		}
		items[k] = item
	}

	order := make([]*Definition, 0, len(b.defs))
	err := resolver.Resolve(items, func(it resolver.Item) error {
		if d, ok := batchKey[it.Name]; ok {
			order = append(order, d)
		}
		return nil
	})
	var cycle *resolver.CycleError
	if errors.As(err, &cycle) {
		path := make([]ServiceName, len(cycle.Path))
		for i, k := range cycle.Path {
			path[i] = names[k]
		}
		return nil, &CircularDependencyError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}
