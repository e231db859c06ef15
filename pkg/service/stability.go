package service

import (
	"context"
	"sync"
)

// StabilityMonitor waits until a set of controllers has no pending work.
//
// A controller is busy while it has lifecycle tasks in flight or events
// waiting for listeners. Once every watched controller is idle the graph
// has reached a fixpoint for those controllers: a failed start is a rest
// state like any other. Terminated controllers leave the monitor on their
// own.
type StabilityMonitor struct {
	mu          sync.Mutex
	controllers map[*Controller]struct{}
	busy        int
	idle        chan struct{} // closed while busy == 0
}

// NewStabilityMonitor returns an empty monitor.
func NewStabilityMonitor() *StabilityMonitor {
	idle := make(chan struct{})
	close(idle)
	return &StabilityMonitor{
		controllers: make(map[*Controller]struct{}),
		idle:        idle,
	}
}

// AddController starts watching c.
func (m *StabilityMonitor) AddController(c *Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forgotten {
		return
	}
	if _, ok := c.monitors[m]; ok {
		return
	}
	c.monitors[m] = struct{}{}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers[c] = struct{}{}
	if c.busy {
		m.incLocked()
	}
}

// RemoveController stops watching c.
func (m *StabilityMonitor) RemoveController(c *Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.monitors[m]; !ok {
		return
	}
	delete(c.monitors, m)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controllers, c)
	if c.busy {
		m.decLocked()
	}
}

// forget drops a terminated controller. Called with c.mu held.
func (m *StabilityMonitor) forget(c *Controller) {
	m.mu.Lock()
	delete(m.controllers, c)
	m.mu.Unlock()
}

// adjust is called with c.mu held when a watched controller changes between
// busy and idle.
func (m *StabilityMonitor) adjust(busy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if busy {
		m.incLocked()
	} else {
		m.decLocked()
	}
}

func (m *StabilityMonitor) incLocked() {
	m.busy++
	if m.busy == 1 {
		m.idle = make(chan struct{})
	}
}

func (m *StabilityMonitor) decLocked() {
	m.busy--
	if m.busy == 0 {
		close(m.idle)
	}
}

// Await blocks until every watched controller is idle or ctx is done.
func (m *StabilityMonitor) Await(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStable reports whether every watched controller is idle right now.
func (m *StabilityMonitor) IsStable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy == 0
}

// Controllers returns the watched controllers.
func (m *StabilityMonitor) Controllers() []*Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Controller, 0, len(m.controllers))
	for c := range m.controllers {
		out = append(out, c)
	}
	return out
}

// Statistics counts watched controllers by rest state.
type Statistics struct {
	Started    int `json:"started"`     // UP
	Failed     int `json:"failed"`      // START_FAILED
	Problem    int `json:"problem"`     // PROBLEM
	Waiting    int `json:"waiting"`     // WAITING or START_REQUESTED
	Never      int `json:"never"`       // WONT_START
	Removed    int `json:"removed"`     // REMOVED or TERMINATED
	Transition int `json:"transitions"` // any other substate
	Passive    int `json:"passive"`     // mode PASSIVE, counted in addition
	OnDemand   int `json:"on_demand"`   // mode ON_DEMAND, counted in addition
}

// Total returns the number of controllers counted.
func (s Statistics) Total() int {
	return s.Started + s.Failed + s.Problem + s.Waiting + s.Never + s.Removed + s.Transition
}

// Statistics returns counts for the watched controllers. It is meant to be
// read after Await returns; on a moving graph the counts are a best effort
// snapshot.
func (m *StabilityMonitor) Statistics() Statistics {
	var s Statistics
	for _, c := range m.Controllers() {
		c.mu.Lock()
		sub, mode := c.substate, c.mode
		c.mu.Unlock()

		switch sub {
		case SubstateUp:
			s.Started++
		case SubstateStartFailed:
			s.Failed++
		case SubstateProblem:
			s.Problem++
		case SubstateWaiting, SubstateStartRequested:
			s.Waiting++
		case SubstateWontStart:
			s.Never++
		case SubstateRemoved, SubstateTerminated:
			s.Removed++
		default:
			s.Transition++
		}
		switch mode {
		case ModePassive:
			s.Passive++
		case ModeOnDemand:
			s.OnDemand++
		}
	}
	return s
}
