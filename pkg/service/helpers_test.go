package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

// testLogger is a minimal Logger for tests.
type testLogger struct {
	mu      sync.Mutex
	started []string
	stopped []string
	failed  []string
	errors  []string
}

func (l *testLogger) ServiceStarted(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, name)
}

func (l *testLogger) ServiceStopped(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = append(l.stopped, name)
}

func (l *testLogger) ServiceFailed(name string, depFailed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if depFailed {
		name += " (dependency)"
	}
	l.failed = append(l.failed, name)
}

func (l *testLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *testLogger) Info(string, ...interface{})  {}
func (l *testLogger) Debug(string, ...interface{}) {}

func (l *testLogger) snapshot() (started, stopped, failed, errors []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.started...), append([]string(nil), l.stopped...),
		append([]string(nil), l.failed...), append([]string(nil), l.errors...)
}

// recorder is a Listener keeping every event in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// substates returns the substates entered by the named controller, in order.
func (r *recorder) substates(name string) []Substate {
	var out []Substate
	for _, e := range r.all() {
		if e.Kind == EventTransition && e.Name.String() == name {
			out = append(out, e.To)
		}
	}
	return out
}

func (r *recorder) kinds(name string) []EventKind {
	var out []EventKind
	for _, e := range r.all() {
		if e.Name.String() == name {
			out = append(out, e.Kind)
		}
	}
	return out
}

// firstAt returns when the named controller first entered to, or the zero
// time.
func (r *recorder) firstAt(name string, to Substate) time.Time {
	for _, e := range r.all() {
		if e.Kind == EventTransition && e.Name.String() == name && e.To == to {
			return e.Time
		}
	}
	return time.Time{}
}

// assertNotAfter checks that a entered aTo no later than b entered bTo.
// Event times are taken under the controller lock, so they follow the
// causal order across controllers even though delivery does not.
func assertNotAfter(t *testing.T, r *recorder, a string, aTo Substate, b string, bTo Substate) {
	t.Helper()
	ta, tb := r.firstAt(a, aTo), r.firstAt(b, bTo)
	require.False(t, ta.IsZero(), "%s never entered %s", a, aTo)
	require.False(t, tb.IsZero(), "%s never entered %s", b, bTo)
	assert.False(t, tb.Before(ta), "%s entered %s before %s entered %s", b, bTo, a, aTo)
}

func newTestContainer(t *testing.T, opts ...Option) (*Container, *testLogger, *recorder) {
	t.Helper()
	logger := &testLogger{}
	rec := &recorder{}
	opts = append([]Option{WithLogger(logger), WithWorkers(4), WithListener(rec)}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, logger, rec
}

func awaitStable(t *testing.T, c *Container) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.AwaitStability(ctx), "container did not stabilize")
}

func name(s string) ServiceName { return MustParse(s) }

func names(ss ...string) []ServiceName {
	out := make([]ServiceName, len(ss))
	for i, s := range ss {
		out[i] = MustParse(s)
	}
	return out
}

func internal(n string, deps ...string) *Definition {
	return Define(name(n), NewInternalService(nil)).DependsOn(names(deps...)...)
}

// flakyService fails its first `failures` start attempts.
type flakyService struct {
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyService) Start(StartContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return fmt.Errorf("attempt %d failed", s.attempts)
	}
	return nil
}

func (s *flakyService) Stop(StopContext) {}

func (s *flakyService) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
