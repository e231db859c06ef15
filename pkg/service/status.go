package service

// Status is a point-in-time snapshot of one controller.
type Status struct {
	Name                string   `json:"name"`
	Aliases             []string `json:"aliases,omitempty"`
	InstanceID          string   `json:"instance_id"`
	State               string   `json:"state"`
	Substate            string   `json:"substate"`
	Mode                string   `json:"mode"`
	Dependencies        []string `json:"dependencies,omitempty"`
	MissingDependencies []string `json:"missing_dependencies,omitempty"`
	RunningDependents   int      `json:"running_dependents"`
	Demand              int      `json:"demand"`
	StartError          string   `json:"start_error,omitempty"`
}

// Status returns a snapshot of the controller. It does not wait for
// in-flight work.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Name:              c.name.String(),
		InstanceID:        c.id.String(),
		State:             c.substate.State().String(),
		Substate:          c.substate.String(),
		Mode:              c.mode.String(),
		RunningDependents: c.runningDependents,
		Demand:            c.demandedBy,
	}
	if c.startErr != nil {
		st.StartError = c.startErr.Error()
	}
	var unavailable []*dependency
	for _, e := range c.deps {
		st.Dependencies = append(st.Dependencies, e.name.String())
		if e.state.unavailable {
			unavailable = append(unavailable, e)
		}
	}
	c.mu.Unlock()

	for _, a := range c.aliases {
		st.Aliases = append(st.Aliases, a.String())
	}
	for _, e := range unavailable {
		if e.reg != nil && e.reg.currentController() == nil {
			st.MissingDependencies = append(st.MissingDependencies, e.name.String())
		}
	}
	return st
}

// Status returns snapshots of every installed controller ordered by name.
func (c *Container) Status() []Status {
	ctrls := c.Controllers()
	out := make([]Status, len(ctrls))
	for i, ctrl := range ctrls {
		out[i] = ctrl.Status()
	}
	return out
}
