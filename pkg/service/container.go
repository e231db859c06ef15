package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sunlightlinux/svcgraph/pkg/executor"
	"github.com/sunlightlinux/svcgraph/pkg/logging"
)

// Logger is the interface for logging service events.
type Logger interface {
	ServiceStarted(name string)
	ServiceStopped(name string)
	ServiceFailed(name string, depFailed bool)
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

const tracerName = "github.com/sunlightlinux/svcgraph/pkg/service"

// Container owns a registry of services and the worker pool that drives
// them. Containers are independent of each other.
type Container struct {
	registry  *registry
	pool      *executor.Pool
	logger    Logger
	tracer    trace.Tracer
	monitor   *StabilityMonitor
	listeners []Listener

	mu          sync.Mutex
	controllers map[*Controller]struct{}
	shutdown    bool
}

type containerOptions struct {
	logger     Logger
	workers    int
	registerer prometheus.Registerer
	prefix     string
	tracer     trace.TracerProvider
	listeners  []Listener
}

// Option configures a Container.
type Option func(*containerOptions)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(o *containerOptions) { o.logger = l }
}

// WithWorkers sets the number of lifecycle workers.
func WithWorkers(n int) Option {
	return func(o *containerOptions) { o.workers = n }
}

// WithRegisterer exposes worker pool metrics under prefix.
func WithRegisterer(reg prometheus.Registerer, prefix string) Option {
	return func(o *containerOptions) {
		o.registerer = reg
		o.prefix = prefix
	}
}

// WithTracerProvider traces start and stop attempts.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *containerOptions) { o.tracer = tp }
}

// WithListener attaches l to every controller installed in the container.
func WithListener(l Listener) Option {
	return func(o *containerOptions) { o.listeners = append(o.listeners, l) }
}

// New creates a container and starts its worker pool.
func New(opts ...Option) (*Container, error) {
	o := containerOptions{
		logger:  logging.Nop(),
		workers: executor.DefaultWorkers,
		prefix:  "svcgraph_executor",
		tracer:  noop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{
		registry:    newRegistry(),
		logger:      o.logger,
		tracer:      o.tracer.Tracer(tracerName),
		monitor:     NewStabilityMonitor(),
		listeners:   o.listeners,
		controllers: make(map[*Controller]struct{}),
	}

	poolOpts := []executor.Option{
		executor.WithPanicHandler(func(r interface{}) {
			c.logger.Error("Lifecycle task panicked: %v", r)
		}),
	}
	if o.registerer != nil {
		poolOpts = append(poolOpts, executor.WithRegisterer(o.registerer, o.prefix))
	}
	pool, err := executor.NewPool(o.workers, poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start worker pool: %w", err)
	}
	c.pool = pool
	return c, nil
}

func (c *Container) submit(task func()) {
	if err := c.pool.Submit(func(context.Context) { task() }); err != nil {
		c.logger.Error("Dropping lifecycle task: %v", err)
	}
}

// NewBatch starts a batch of definitions to install together.
func (c *Container) NewBatch() *Batch {
	return &Batch{container: c}
}

// Install installs defs as one batch.
func (c *Container) Install(defs ...*Definition) ([]*Controller, error) {
	b := c.NewBatch()
	for _, d := range defs {
		b.Add(d)
	}
	return b.Install()
}

// Controller returns the controller installed under name, which may be an
// alias, or nil.
func (c *Container) Controller(name ServiceName) *Controller {
	return c.registry.controllerOf(name)
}

// Controllers returns the installed controllers ordered by name.
func (c *Container) Controllers() []*Controller {
	c.mu.Lock()
	out := make([]*Controller, 0, len(c.controllers))
	for ctrl := range c.controllers {
		out = append(out, ctrl)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name.Compare(out[j].name) < 0 })
	return out
}

// RegistrySize returns the number of names in the registry, including names
// that are only depended upon.
func (c *Container) RegistrySize() int { return c.registry.size() }

// RegisteredNames returns every name in the registry in order.
func (c *Container) RegisteredNames() []ServiceName { return c.registry.names() }

// Monitor returns the stability monitor watching every controller.
func (c *Container) Monitor() *StabilityMonitor { return c.monitor }

// AwaitStability blocks until no controller has pending work.
func (c *Container) AwaitStability(ctx context.Context) error {
	return c.monitor.Await(ctx)
}

// Logger returns the container's logger.
func (c *Container) Logger() Logger { return c.logger }

// PoolStats returns worker pool counters.
func (c *Container) PoolStats() executor.PoolStats { return c.pool.Stats() }

func (c *Container) register(ctrl *Controller) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrContainerShutdown
	}
	c.controllers[ctrl] = struct{}{}
	return nil
}

func (c *Container) forget(ctrl *Controller) {
	c.mu.Lock()
	delete(c.controllers, ctrl)
	c.mu.Unlock()
}

// IsShutdown reports whether Shutdown has been called.
func (c *Container) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// Shutdown refuses further installs, sets every controller to REMOVE and
// waits for them to be removed. The worker pool is stopped afterwards. If
// ctx ends first, the context error is returned and the pool is stopped
// with whatever time is left.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	ctrls := c.Controllers()
	c.logger.Info("Shutting down %d services", len(ctrls))
	for _, ctrl := range ctrls {
		if err := ctrl.SetMode(ModeRemove); err != nil && !errors.Is(err, ErrIllegalState) {
			c.logger.Error("Remove %s: %v", ctrl.name, err)
		}
	}

	awaitErr := c.monitor.Await(ctx)

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if awaitErr != nil {
		timeout = 0
	}
	if err := c.pool.Stop(timeout); err != nil && awaitErr == nil {
		return err
	}
	return awaitErr
}
