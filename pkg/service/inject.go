package service

import (
	"fmt"
)

// Value supplies an injected value at start time.
type Value interface {
	Get() (interface{}, error)
}

// Injector writes a resolved value into its target. Uninject is called once
// the service has stopped or failed to start.
type Injector interface {
	Inject(v interface{}) error
	Uninject()
}

// Injection binds a Value to an Injector.
type Injection struct {
	Value  Value
	Target Injector
}

// Immediate returns a Value that always yields v.
func Immediate(v interface{}) Value { return immediate{v} }

type immediate struct{ v interface{} }

func (i immediate) Get() (interface{}, error) { return i.v, nil }

// ValueFunc adapts a function to Value.
type ValueFunc func() (interface{}, error)

func (f ValueFunc) Get() (interface{}, error) { return f() }

// InjectTo returns an Injector that stores values of type T into dst and
// resets it to the zero value on Uninject.
func InjectTo[T any](dst *T) Injector { return &typedInjector[T]{dst: dst} }

type typedInjector[T any] struct {
	dst *T
}

func (t *typedInjector[T]) Inject(v interface{}) error {
	typed, ok := v.(T)
	if !ok {
		var zero T
		return fmt.Errorf("cannot inject %T into %T", v, zero)
	}
	*t.dst = typed
	return nil
}

func (t *typedInjector[T]) Uninject() {
	var zero T
	*t.dst = zero
}

// dependencyValue resolves to the value of the named dependency. The owning
// controller resolves it at start time, when the dependency is known to be
// up.
type dependencyValue struct {
	name ServiceName
}

func (d dependencyValue) Get() (interface{}, error) {
	return nil, fmt.Errorf("dependency value %s resolved outside a start attempt", d.name)
}

// Inject adds an injection to the definition.
func (d *Definition) Inject(v Value, target Injector) *Definition {
	d.Injections = append(d.Injections, Injection{Value: v, Target: target})
	return d
}

// InjectDependency declares a dependency on name, if not already declared,
// and injects that service's value into target before Start.
func (d *Definition) InjectDependency(name ServiceName, target Injector) *Definition {
	d.DependsOn(name)
	d.Injections = append(d.Injections, Injection{Value: dependencyValue{name: name}, Target: target})
	return d
}

func (c *Controller) resolve(v Value) (interface{}, error) {
	dv, ok := v.(dependencyValue)
	if !ok {
		return v.Get()
	}
	for _, e := range c.deps {
		if e.name == dv.name {
			dep := e.reg.currentController()
			if dep == nil {
				return nil, fmt.Errorf("%w: %s", ErrMissingDependency, dv.name)
			}
			return dep.Value()
		}
	}
	return nil, fmt.Errorf("%s is not a dependency of %s", dv.name, c.name)
}

// inject resolves and applies every injection. On failure the injections
// already applied are undone.
func (c *Controller) inject() error {
	for i, inj := range c.injections {
		v, err := c.resolve(inj.Value)
		if err == nil {
			err = inj.Target.Inject(v)
		}
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				c.injections[j].Target.Uninject()
			}
			return err
		}
	}
	return nil
}

func (c *Controller) uninject() {
	for i := len(c.injections) - 1; i >= 0; i-- {
		c.injections[i].Target.Uninject()
	}
}
