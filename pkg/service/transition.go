package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// action is the side effect attached to a transition rule.
type action uint8

const (
	actNone action = iota
	actAcquire
	actRelease
	actStart
	actStop
	actRemove
	actClearFailure
)

// rule moves a controller from one substate to another when its guard
// holds. Rules for a substate are tried in order; the first match wins.
type rule struct {
	to   Substate
	when func(c *Controller) bool
	do   action
}

func always(*Controller) bool { return true }

func not(f func(*Controller) bool) func(*Controller) bool {
	return func(c *Controller) bool { return !f(c) }
}

func modeIs(modes ...Mode) func(*Controller) bool {
	return func(c *Controller) bool {
		for _, m := range modes {
			if c.mode == m {
				return true
			}
		}
		return false
	}
}

var rules = [...][]rule{
	SubstateNew: {
		{to: SubstateDown, when: always},
	},
	SubstateDown: {
		{to: SubstateRemoving, when: func(c *Controller) bool { return c.mode == ModeRemove && c.runningDependents == 0 }, do: actRemove},
		{to: SubstateWontStart, when: modeIs(ModeNever)},
		{to: SubstateProblem, when: func(c *Controller) bool { return c.wantsUp() && c.blocked() }},
		{to: SubstateStartRequested, when: (*Controller).wantsUp},
		{to: SubstateWaiting, when: not(modeIs(ModeRemove))},
	},
	SubstateWaiting: {
		{to: SubstateDown, when: func(c *Controller) bool { return c.wantsUp() || c.mode == ModeNever || c.mode == ModeRemove }},
	},
	SubstateWontStart: {
		{to: SubstateDown, when: not(modeIs(ModeNever))},
	},
	SubstateProblem: {
		{to: SubstateDown, when: func(c *Controller) bool { return !c.wantsUp() || !c.blocked() }},
	},
	SubstateStartRequested: {
		{to: SubstateDown, when: func(c *Controller) bool { return !c.wantsUp() || c.blocked() }, do: actRelease},
		{to: SubstateStartRequested, when: func(c *Controller) bool { return c.acquired && c.unsatisfied > 0 }, do: actRelease},
		{to: SubstateStartRequested, when: func(c *Controller) bool { return !c.acquired && c.unsatisfied == 0 }, do: actAcquire},
		{to: SubstateStarting, when: func(c *Controller) bool { return c.acquired }, do: actStart},
	},
	SubstateStarting: {
		{to: SubstateStartFailed, when: func(c *Controller) bool { return c.startErr != nil }, do: actRelease},
		{to: SubstateUp, when: always},
	},
	SubstateStartFailed: {
		{to: SubstateDown, when: func(c *Controller) bool {
			return c.retry || c.depRecovered || !c.wantsUp()
		}, do: actClearFailure},
	},
	SubstateUp: {
		{to: SubstateStopRequested, when: func(c *Controller) bool {
			return !c.wantsUp() || c.unsatisfied > 0 || c.blocked()
		}},
	},
	SubstateStopRequested: {
		{to: SubstateUp, when: func(c *Controller) bool {
			return c.wantsUp() && c.unsatisfied == 0 && !c.blocked()
		}},
		{to: SubstateStopping, when: func(c *Controller) bool { return c.runningDependents == 0 }, do: actStop},
	},
	SubstateStopping: {
		{to: SubstateDown, when: always, do: actRelease},
	},
	SubstateRemoving: {
		{to: SubstateRemoved, when: always},
	},
	SubstateRemoved: {
		{to: SubstateTerminated, when: always},
	},
	SubstateTerminated: nil,
}

func (c *Controller) nextRule() *rule {
	for i := range rules[c.substate] {
		r := &rules[c.substate][i]
		if r.when(c) {
			return r
		}
	}
	return nil
}

// reconcile runs transitions until the controller spawns work or comes to
// rest. Publishing a changed availability and adjusting demand on
// dependencies each take a full step so that dependents have seen them
// before the next transition. Caller holds mu with no tasks in flight.
func (c *Controller) reconcile() {
	for c.installed && c.asyncTasks == 0 {
		if st := c.export(); st != c.published {
			c.published = st
			c.spawn(c.publishTask(st))
			return
		}
		if want := c.wantsDemand(); want != c.demanding {
			c.demanding = want
			c.spawn(c.demandTask(want))
			return
		}
		r := c.nextRule()
		if r == nil {
			return
		}
		if r.to != c.substate {
			c.enter(r.to)
		}
		c.perform(r.do)
	}
}

func (c *Controller) enter(to Substate) {
	from := c.substate
	c.substate = to
	c.emit(Event{Kind: EventTransition, From: from, To: to})

	log := c.container.logger
	switch to {
	case SubstateUp:
		log.ServiceStarted(c.name.String())
	case SubstateStartFailed:
		c.depRecovered = false
		log.ServiceFailed(c.name.String(), false)
	case SubstateProblem:
		if c.failedDeps > 0 {
			log.ServiceFailed(c.name.String(), true)
		}
	case SubstateDown:
		if from == SubstateStopping {
			log.ServiceStopped(c.name.String())
		}
	}
}

func (c *Controller) perform(a action) {
	switch a {
	case actNone:
	case actAcquire:
		c.acquire()
	case actRelease:
		c.releaseHeld()
	case actStart:
		c.spawnAsync(c.startTask)
	case actStop:
		c.spawnAsync(c.stopTask)
	case actRemove:
		c.spawn(c.removeTask)
	case actClearFailure:
		c.startErr = nil
		c.retry = false
		c.depRecovered = false
	}
}

// acquire registers c as a running dependent of every dependency, in
// declaration order. Acquisition through a registration only succeeds while
// it publishes up, so a dependency that has already told its dependents it
// is going down can no longer be acquired.
func (c *Controller) acquire() {
	if len(c.deps) == 0 {
		c.acquired = true
		return
	}
	deps := c.deps
	c.spawn(func() func() {
		held := make([]*Controller, 0, len(deps))
		for _, e := range deps {
			dep, version, st := e.reg.acquire()
			if dep == nil {
				releaseAll(held)
				return func() { e.apply(version, st) }
			}
			held = append(held, dep)
		}
		return func() {
			c.held = held
			c.acquired = true
		}
	})
}

func (c *Controller) releaseHeld() {
	if !c.acquired {
		return
	}
	held := c.held
	c.held = nil
	c.acquired = false
	if len(held) > 0 {
		c.spawn(func() func() {
			releaseAll(held)
			return nil
		})
	}
}

func (c *Controller) publishTask(st availability) func() func() {
	return func() func() {
		for _, reg := range c.regs {
			reg.publish(c, st)
		}
		return nil
	}
}

func (c *Controller) demandTask(demand bool) func() func() {
	delta := -1
	if demand {
		delta = 1
	}
	deps := c.deps
	return func() func() {
		for _, e := range deps {
			e.reg.addDemand(delta)
		}
		return nil
	}
}

func (c *Controller) removeTask() func() {
	reg := c.container.registry
	for _, r := range c.regs {
		r.detach(c)
		reg.removeIfUnused(r.name)
	}
	for _, e := range c.deps {
		reg.removeDependent(e)
	}
	return nil
}

func (c *Controller) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return c.container.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("service.name", c.name.String()),
		attribute.String("service.instance_id", c.id.String()),
	))
}

func (c *Controller) startTask(done func(apply func())) {
	ctx, span := c.span(context.Background(), "svcgraph.start")
	a := newAttempt(ctx, c, func(err error) {
		if err != nil {
			c.uninject()
			c.container.logger.Debug("Service '%s' start attempt failed: %v", c.name, err)
			err = &StartError{Name: c.name, Cause: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		done(func() {
			c.startErr = err
			if err != nil {
				c.emit(Event{Kind: EventStartFailed, Err: err})
			}
		})
	})
	if err := c.inject(); err != nil {
		a.returnedWith(err)
		return
	}
	a.returnedWith(c.callStart(a))
}

func (c *Controller) callStart(ctx StartContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return c.service.Start(ctx)
}

func (c *Controller) stopTask(done func(apply func())) {
	ctx, span := c.span(context.Background(), "svcgraph.stop")
	a := newAttempt(ctx, c, func(err error) {
		c.uninject()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.container.logger.Error("Service '%s' stop failed: %v", c.name, err)
		}
		span.End()
		done(func() {
			if err != nil {
				c.emit(Event{Kind: EventStopFailed, Err: err})
			}
		})
	})
	a.returnedWith(c.callStop(stopAttempt{a}))
}

func (c *Controller) callStop(ctx StopContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	c.service.Stop(ctx)
	return nil
}
