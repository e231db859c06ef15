// Package metrics exports controller lifecycle metrics to Prometheus. The
// Collector is a service.Listener; attach it to a container with
// service.WithListener.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunlightlinux/svcgraph/pkg/service"
)

// Collector counts transitions and failures and tracks how many
// controllers are in each coarse state.
type Collector struct {
	transitions   *prometheus.CounterVec
	startFailures *prometheus.CounterVec
	stopFailures  *prometheus.CounterVec
	controllers   *prometheus.GaugeVec
	startDuration prometheus.Histogram

	mu       sync.Mutex
	starting map[*service.Controller]time.Time
}

// NewCollector creates a collector and registers it with reg.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Controller substate transitions",
		}, []string{"from", "to"}),
		startFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_failures_total",
			Help:      "Failed start attempts per service",
		}, []string{"service"}),
		stopFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_failures_total",
			Help:      "Stop attempts that panicked per service",
		}, []string{"service"}),
		controllers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controllers",
			Help:      "Installed controllers by state",
		}, []string{"state"}),
		startDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "start_duration_seconds",
			Help:      "Time from STARTING to UP or START_FAILED",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		starting: make(map[*service.Controller]time.Time),
	}
	for _, col := range []prometheus.Collector{c.transitions, c.startFailures, c.stopFailures, c.controllers, c.startDuration} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register controller metrics: %w", err)
		}
	}
	return c, nil
}

// Handle implements service.Listener.
func (c *Collector) Handle(ev service.Event) {
	switch ev.Kind {
	case service.EventTransition:
		c.transition(ev)
	case service.EventStartFailed:
		c.startFailures.WithLabelValues(ev.Name.String()).Inc()
	case service.EventStopFailed:
		c.stopFailures.WithLabelValues(ev.Name.String()).Inc()
	}
}

func (c *Collector) transition(ev service.Event) {
	c.transitions.WithLabelValues(ev.From.String(), ev.To.String()).Inc()

	from, to := ev.From.State(), ev.To.State()
	switch {
	case ev.From == service.SubstateNew:
		c.controllers.WithLabelValues(to.String()).Inc()
	case ev.To == service.SubstateTerminated:
		c.controllers.WithLabelValues(from.String()).Dec()
	case from != to:
		c.controllers.WithLabelValues(from.String()).Dec()
		c.controllers.WithLabelValues(to.String()).Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case ev.To == service.SubstateStarting:
		c.starting[ev.Controller] = ev.Time
	case ev.From == service.SubstateStarting:
		if began, ok := c.starting[ev.Controller]; ok {
			c.startDuration.Observe(ev.Time.Sub(began).Seconds())
			delete(c.starting, ev.Controller)
		}
	case ev.To == service.SubstateTerminated:
		delete(c.starting, ev.Controller)
	}
}
