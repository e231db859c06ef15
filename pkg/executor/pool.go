// Package executor provides the bounded worker pool that runs lifecycle tasks.
//
// Unlike a request pool, lifecycle work must never be dropped: the queue is an
// unbounded FIFO and Submit never blocks. Parallelism is bounded by the worker
// count. Panics raised by a task are recovered so a misbehaving task cannot
// take a worker down.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultWorkers is used when a non-positive worker count is requested.
const DefaultWorkers = 8

var (
	ErrPoolNotStarted     = errors.New("executor: pool not started")
	ErrPoolAlreadyStarted = errors.New("executor: pool already started")
	ErrPoolStopped        = errors.New("executor: pool stopped")
	ErrStopTimeout        = errors.New("executor: timed out waiting for workers")
)

// Task is a unit of work. The context is cancelled when the pool is stopped
// with a timeout that expires.
type Task func(ctx context.Context)

// PanicHandler receives values recovered from panicking tasks.
type PanicHandler func(recovered interface{})

// Pool runs tasks on a fixed set of goroutines.
type Pool struct {
	workers int
	onPanic PanicHandler

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	started bool
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	submitted int64
	processed int64
	panicked  int64
	active    int64

	registerer prometheus.Registerer
	prefix     string
	metrics    *poolMetrics
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	active         prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	panicked       prometheus.Counter
	processingTime prometheus.Histogram
}

// Option configures a Pool.
type Option func(*Pool)

// WithRegisterer exposes pool metrics under the given name prefix.
func WithRegisterer(reg prometheus.Registerer, prefix string) Option {
	return func(p *Pool) {
		p.registerer = reg
		p.prefix = prefix
	}
}

// WithPanicHandler installs a handler for recovered task panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(p *Pool) {
		p.onPanic = h
	}
}

// NewPool creates a pool with the given number of workers.
func NewPool(workers int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{workers: workers}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	if p.registerer != nil && p.prefix != "" {
		if err := p.initMetrics(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool) initMetrics() error {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_queue_depth",
			Help: "Tasks waiting for a worker",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_active_tasks",
			Help: "Tasks currently executing",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_submitted_total",
			Help: "Total tasks submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_processed_total",
			Help: "Total tasks executed",
		}),
		panicked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_panics_total",
			Help: "Total tasks that panicked",
		}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    p.prefix + "_task_duration_seconds",
			Help:    "Time spent executing tasks",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
	}
	for _, c := range []prometheus.Collector{m.queueDepth, m.active, m.submitted, m.processed, m.panicked, m.processingTime} {
		if err := p.registerer.Register(c); err != nil {
			return fmt.Errorf("register pool metrics: %w", err)
		}
	}
	p.metrics = m
	return nil
}

// Start launches the workers. Tasks receive a context derived from ctx.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.started = true
	return nil
}

// Submit enqueues a task. It never blocks.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	p.queue = append(p.queue, task)
	atomic.AddInt64(&p.submitted, 1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.queue)))
	}
	p.cond.Signal()
	return nil
}

// Stop refuses new tasks, lets workers drain the queue and waits for them.
// If the timeout expires the task context is cancelled and ErrStopTimeout
// is returned.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		p.cancel()
		return ErrStopTimeout
	}
}

// PoolStats is a point-in-time view of pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queue_depth"`
	Active     int64 `json:"active"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Panicked   int64 `json:"panicked"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	depth := len(p.queue)
	p.mu.Unlock()
	return PoolStats{
		Workers:    p.workers,
		QueueDepth: depth,
		Active:     atomic.LoadInt64(&p.active),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Panicked:   atomic.LoadInt64(&p.panicked),
	}
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		if p.stopped {
			return nil, false
		}
		p.cond.Wait()
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if p.metrics != nil {
		p.metrics.queueDepth.Set(float64(len(p.queue)))
	}
	return task, true
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	atomic.AddInt64(&p.active, 1)
	if p.metrics != nil {
		p.metrics.active.Inc()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.panicked, 1)
			if p.metrics != nil {
				p.metrics.panicked.Inc()
			}
			if p.onPanic != nil {
				p.onPanic(r)
			}
		}
		atomic.AddInt64(&p.active, -1)
		atomic.AddInt64(&p.processed, 1)
		if p.metrics != nil {
			p.metrics.active.Dec()
			p.metrics.processed.Inc()
			p.metrics.processingTime.Observe(time.Since(start).Seconds())
		}
	}()
	task(p.ctx)
}
