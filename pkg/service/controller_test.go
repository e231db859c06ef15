package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternalServiceStartStop(t *testing.T) {
	c, logger, _ := newTestContainer(t)

	svc := NewInternalService(nil)
	ctrls, err := c.Install(Define(name("test-svc"), svc))
	require.NoError(t, err)
	ctrl := ctrls[0]
	awaitStable(t, c)

	assert.Equal(t, SubstateUp, ctrl.Substate())
	assert.Equal(t, StateUp, ctrl.State())
	started, _, _, _ := logger.snapshot()
	assert.Equal(t, []string{"test-svc"}, started)

	require.NoError(t, ctrl.SetMode(ModeNever))
	awaitStable(t, c)

	assert.Equal(t, SubstateWontStart, ctrl.Substate())
	assert.Equal(t, StateDown, ctrl.State())
	_, stopped, _, _ := logger.snapshot()
	assert.Equal(t, []string{"test-svc"}, stopped)
	assert.Equal(t, int64(1), svc.Starts())
	assert.Equal(t, int64(1), svc.Stops())
}

func TestServiceWithDependency(t *testing.T) {
	c, _, rec := newTestContainer(t)

	ctrls, err := c.Install(internal("dep-svc"), internal("main-svc", "dep-svc"))
	require.NoError(t, err)
	awaitStable(t, c)

	dep, main := ctrls[0], ctrls[1]
	assert.Equal(t, SubstateUp, dep.Substate())
	assert.Equal(t, SubstateUp, main.Substate())
	assertNotAfter(t, rec, "dep-svc", SubstateUp, "main-svc", SubstateStarting)

	// Taking the dependency down stops the dependent first.
	require.NoError(t, dep.SetMode(ModeNever))
	awaitStable(t, c)

	assert.Equal(t, SubstateWontStart, dep.Substate())
	assert.Equal(t, SubstateProblem, main.Substate())
	assertNotAfter(t, rec, "main-svc", SubstateStopping, "dep-svc", SubstateStopping)

	require.NoError(t, dep.SetMode(ModeActive))
	awaitStable(t, c)
	assert.Equal(t, SubstateUp, main.Substate())
}

func TestOnDemandStartsOnlyWhileDemanded(t *testing.T) {
	c, _, _ := newTestContainer(t)

	ctrls, err := c.Install(internal("lazy").WithMode(ModeOnDemand))
	require.NoError(t, err)
	lazy := ctrls[0]
	awaitStable(t, c)
	assert.Equal(t, SubstateWaiting, lazy.Substate())

	users, err := c.Install(internal("user", "lazy"))
	require.NoError(t, err)
	user := users[0]
	awaitStable(t, c)
	assert.Equal(t, SubstateUp, lazy.Substate())
	assert.Equal(t, SubstateUp, user.Substate())
	assert.Equal(t, 1, lazy.Status().Demand)

	require.NoError(t, user.SetMode(ModeNever))
	awaitStable(t, c)
	assert.Equal(t, SubstateWaiting, lazy.Substate())
	assert.Equal(t, 0, lazy.Status().Demand)
}

func TestOnDemandInheritsDemandRecordedBeforeInstall(t *testing.T) {
	c, _, _ := newTestContainer(t)

	_, err := c.NewBatch().AllowMissingDependencies().Add(internal("user", "later")).Install()
	require.NoError(t, err)
	awaitStable(t, c)

	ctrls, err := c.Install(internal("later").WithMode(ModeOnDemand))
	require.NoError(t, err)
	awaitStable(t, c)

	assert.Equal(t, SubstateUp, ctrls[0].Substate())
	assert.Equal(t, SubstateUp, c.Controller(name("user")).Substate())
}

func TestPassiveDoesNotDemand(t *testing.T) {
	c, _, _ := newTestContainer(t)

	ctrls, err := c.Install(
		internal("lazy").WithMode(ModeOnDemand),
		internal("watcher", "lazy").WithMode(ModePassive),
	)
	require.NoError(t, err)
	awaitStable(t, c)

	lazy, watcher := ctrls[0], ctrls[1]
	assert.Equal(t, SubstateWaiting, lazy.Substate())
	assert.Equal(t, SubstateStartRequested, watcher.Substate())

	// Once something else brings lazy up, the passive service follows.
	require.NoError(t, lazy.SetMode(ModeActive))
	awaitStable(t, c)
	assert.Equal(t, SubstateUp, watcher.Substate())
}

func TestNeverModeDependencyIsAProblem(t *testing.T) {
	c, _, rec := newTestContainer(t)

	_, err := c.Install(internal("off").WithMode(ModeNever), internal("on", "off"))
	require.NoError(t, err)
	awaitStable(t, c)

	assert.Equal(t, SubstateWontStart, c.Controller(name("off")).Substate())
	assert.Equal(t, SubstateProblem, c.Controller(name("on")).Substate())
	assert.Contains(t, rec.kinds("on"), EventDependencyUnavailable)
}

func TestAsynchronousStart(t *testing.T) {
	c, _, _ := newTestContainer(t)

	trig := NewTriggeredService()
	ctrls, err := c.Install(Define(name("triggered-svc"), trig), internal("after", "triggered-svc"))
	require.NoError(t, err)
	svc, after := ctrls[0], ctrls[1]

	require.Eventually(t, trig.Waiting, testTimeout, time.Millisecond)
	assert.Equal(t, SubstateStarting, svc.Substate())
	assert.Equal(t, SubstateStartRequested, after.Substate())
	assert.False(t, c.Monitor().IsStable())

	trig.SetTrigger(true)
	awaitStable(t, c)
	assert.Equal(t, SubstateUp, svc.Substate())
	assert.Equal(t, SubstateUp, after.Substate())
}

func TestPreTriggeredStartsSynchronously(t *testing.T) {
	c, _, _ := newTestContainer(t)

	trig := NewTriggeredService()
	trig.SetTrigger(true)
	ctrls, err := c.Install(Define(name("triggered-svc"), trig))
	require.NoError(t, err)
	awaitStable(t, c)
	assert.Equal(t, SubstateUp, ctrls[0].Substate())
}

func TestAsynchronousFailure(t *testing.T) {
	c, logger, rec := newTestContainer(t)

	trig := NewTriggeredService()
	ctrls, err := c.Install(Define(name("triggered-svc"), trig))
	require.NoError(t, err)
	require.Eventually(t, trig.Waiting, testTimeout, time.Millisecond)

	require.True(t, trig.Fail(errors.New("no trigger today")))
	awaitStable(t, c)

	ctrl := ctrls[0]
	assert.Equal(t, SubstateStartFailed, ctrl.Substate())
	var startErr *StartError
	require.ErrorAs(t, ctrl.StartError(), &startErr)
	assert.Equal(t, name("triggered-svc"), startErr.Name)
	assert.EqualError(t, startErr.Cause, "no trigger today")
	assert.Contains(t, rec.kinds("triggered-svc"), EventStartFailed)
	_, _, failed, _ := logger.snapshot()
	assert.Equal(t, []string{"triggered-svc"}, failed)
}

func TestFailureIsolationAndRetry(t *testing.T) {
	c, logger, rec := newTestContainer(t)

	flaky := &flakyService{failures: 1}
	ctrls, err := c.Install(
		Define(name("B"), flaky),
		internal("A", "B"),
		internal("unrelated"),
	)
	require.NoError(t, err)
	awaitStable(t, c)

	b, a, unrelated := ctrls[0], ctrls[1], ctrls[2]
	assert.Equal(t, SubstateStartFailed, b.Substate())
	assert.Equal(t, SubstateProblem, a.Substate())
	assert.Equal(t, SubstateUp, unrelated.Substate())
	assert.NotContains(t, rec.substates("A"), SubstateStarting)
	assert.Contains(t, rec.kinds("A"), EventDependencyFailed)
	_, _, failed, _ := logger.snapshot()
	assert.ElementsMatch(t, []string{"B", "A (dependency)"}, failed)

	// The failure is stable: nothing retries on its own.
	awaitStable(t, c)
	assert.Equal(t, 1, flaky.Attempts())

	assert.ErrorIs(t, a.Retry(), ErrIllegalState)
	require.NoError(t, b.Retry())
	awaitStable(t, c)

	assert.Equal(t, SubstateUp, b.Substate())
	assert.Equal(t, SubstateUp, a.Substate())
	assert.NoError(t, b.StartError())
	assert.Equal(t, 2, flaky.Attempts())
	assert.Contains(t, rec.kinds("A"), EventDependencyFailureCleared)
}

func TestStartPanicIsAFailure(t *testing.T) {
	c, _, _ := newTestContainer(t)

	ctrls, err := c.Install(Define(name("panicky"), Funcs{StartFunc: func(StartContext) error {
		panic("kaboom")
	}}))
	require.NoError(t, err)
	awaitStable(t, c)

	assert.Equal(t, SubstateStartFailed, ctrls[0].Substate())
	var p *PanicError
	require.ErrorAs(t, ctrls[0].StartError(), &p)
	assert.Equal(t, "kaboom", p.Value)
}

func TestStopPanicStillGoesDown(t *testing.T) {
	c, logger, rec := newTestContainer(t)

	ctrls, err := c.Install(Define(name("sloppy"), Funcs{StopFunc: func(StopContext) {
		panic("cannot stop")
	}}))
	require.NoError(t, err)
	awaitStable(t, c)

	require.NoError(t, ctrls[0].SetMode(ModeNever))
	awaitStable(t, c)

	assert.Equal(t, SubstateWontStart, ctrls[0].Substate())
	assert.Contains(t, rec.kinds("sloppy"), EventStopFailed)
	_, _, _, errs := logger.snapshot()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "cannot stop")
}

func TestAsynchronousStop(t *testing.T) {
	c, _, _ := newTestContainer(t)

	stops := make(chan StopContext, 1)
	ctrls, err := c.Install(Define(name("slow-stop"), Funcs{StopFunc: func(ctx StopContext) {
		ctx.Asynchronous()
		stops <- ctx
	}}))
	require.NoError(t, err)
	awaitStable(t, c)

	require.NoError(t, ctrls[0].SetMode(ModeNever))
	var ctx StopContext
	select {
	case ctx = <-stops:
	case <-time.After(testTimeout):
		t.Fatal("stop was not called")
	}
	assert.Equal(t, SubstateStopping, ctrls[0].Substate())

	require.NoError(t, ctx.Complete())
	assert.ErrorIs(t, ctx.Complete(), ErrIllegalState)
	awaitStable(t, c)
	assert.Equal(t, SubstateWontStart, ctrls[0].Substate())
}

func TestRemoveWaitsForInFlightStart(t *testing.T) {
	c, _, rec := newTestContainer(t)

	trig := NewTriggeredService()
	ctrls, err := c.Install(Define(name("busy"), trig))
	require.NoError(t, err)
	require.Eventually(t, trig.Waiting, testTimeout, time.Millisecond)

	require.NoError(t, ctrls[0].SetMode(ModeRemove))
	assert.Equal(t, SubstateStarting, ctrls[0].Substate(), "removal must not interrupt the attempt")

	trig.SetTrigger(true)
	awaitStable(t, c)

	assert.Equal(t, SubstateTerminated, ctrls[0].Substate())
	assert.Equal(t, []Substate{
		SubstateDown, SubstateStartRequested, SubstateStarting, SubstateUp,
		SubstateStopRequested, SubstateStopping, SubstateDown,
		SubstateRemoving, SubstateRemoved, SubstateTerminated,
	}, rec.substates("busy"))
	assert.Contains(t, rec.kinds("busy"), EventRemoveRequested)
	assert.Nil(t, c.Controller(name("busy")))
	assert.Zero(t, c.RegistrySize())
}

func TestModeChanges(t *testing.T) {
	c, _, _ := newTestContainer(t)

	ctrls, err := c.Install(internal("m"))
	require.NoError(t, err)
	ctrl := ctrls[0]

	ok, err := ctrl.CompareAndSetMode(ModeNever, ModePassive)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ModeActive, ctrl.Mode())

	ok, err = ctrl.CompareAndSetMode(ModeActive, ModeOnDemand)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ModeOnDemand, ctrl.Mode())

	assert.Error(t, ctrl.SetMode(Mode(42)))

	require.NoError(t, ctrl.SetMode(ModeRemove))
	assert.ErrorIs(t, ctrl.SetMode(ModeActive), ErrIllegalState)
	require.NoError(t, ctrl.SetMode(ModeRemove), "setting the same mode is a no-op")
	awaitStable(t, c)
	assert.Equal(t, StateRemoved, ctrl.State())
}

func TestAliases(t *testing.T) {
	c, _, _ := newTestContainer(t)

	ctrls, err := c.Install(
		internal("primary").Alias(name("alias.one")),
		internal("user", "alias.one"),
	)
	require.NoError(t, err)
	awaitStable(t, c)

	primary := ctrls[0]
	assert.Same(t, primary, c.Controller(name("alias.one")))
	assert.Equal(t, []ServiceName{name("alias.one")}, primary.Aliases())
	assert.Equal(t, SubstateUp, ctrls[1].Substate())
	assert.Equal(t, 1, primary.Status().RunningDependents)

	_, err = c.Install(internal("alias.one"))
	assert.ErrorIs(t, err, ErrDuplicateService)
}

type connPool struct{ dsn string }

type dbService struct{ pool *connPool }

func (d *dbService) Start(StartContext) error {
	d.pool = &connPool{dsn: "postgres://db"}
	return nil
}
func (d *dbService) Stop(StopContext)            { d.pool = nil }
func (d *dbService) Value() (interface{}, error) { return d.pool, nil }

func TestInjection(t *testing.T) {
	c, _, _ := newTestContainer(t)

	var pool *connPool
	var port int
	var seenAtStart *connPool
	user := Funcs{StartFunc: func(StartContext) error {
		seenAtStart = pool
		return nil
	}}

	def := Define(name("api"), user).
		InjectDependency(name("db"), InjectTo(&pool)).
		Inject(Immediate(8080), InjectTo(&port))
	ctrls, err := c.Install(Define(name("db"), &dbService{}), def)
	require.NoError(t, err)
	awaitStable(t, c)

	require.NotNil(t, seenAtStart)
	assert.Equal(t, "postgres://db", seenAtStart.dsn)
	assert.Equal(t, 8080, port)
	assert.Equal(t, []ServiceName{name("db")}, ctrls[1].Dependencies())

	got, err := ValueOf[*connPool](ctrls[0])
	require.NoError(t, err)
	assert.Same(t, seenAtStart, got)

	_, err = ValueOf[string](ctrls[0])
	assert.Error(t, err)
	_, err = ValueOf[int](ctrls[1])
	assert.ErrorIs(t, err, ErrNoValue)

	require.NoError(t, ctrls[1].SetMode(ModeNever))
	awaitStable(t, c)
	assert.Nil(t, pool, "uninjected after stop")
	assert.Zero(t, port)

	_, err = ValueOf[*connPool](ctrls[1])
	assert.ErrorIs(t, err, ErrNotUp)
}

func TestInjectionFailureFailsStart(t *testing.T) {
	c, _, _ := newTestContainer(t)

	var n int
	def := Define(name("typed"), NewInternalService(nil)).Inject(Immediate("not an int"), InjectTo(&n))
	ctrls, err := c.Install(def)
	require.NoError(t, err)
	awaitStable(t, c)
	assert.Equal(t, SubstateStartFailed, ctrls[0].Substate())
	assert.Error(t, ctrls[0].StartError())
}

func TestListenerSeesOrderedTransitions(t *testing.T) {
	c, _, rec := newTestContainer(t)

	_, err := c.Install(internal("a"), internal("b", "a"), internal("c", "b"))
	require.NoError(t, err)
	awaitStable(t, c)

	for _, n := range []string{"a", "b", "c"} {
		prev := SubstateNew
		for _, e := range rec.all() {
			if e.Kind != EventTransition || e.Name.String() != n {
				continue
			}
			assert.Equal(t, prev, e.From, "%s: transitions must chain", n)
			prev = e.To
		}
		assert.Equal(t, SubstateUp, prev)
	}
}

func TestListenerAddAndRemove(t *testing.T) {
	c, _, _ := newTestContainer(t)

	ctrls, err := c.Install(internal("x"))
	require.NoError(t, err)
	awaitStable(t, c)

	late := &recorder{}
	remove := ctrls[0].AddListener(late)
	assert.Empty(t, late.all(), "no replay of past events")

	require.NoError(t, ctrls[0].SetMode(ModeNever))
	awaitStable(t, c)
	assert.Equal(t, []Substate{SubstateStopRequested, SubstateStopping, SubstateDown, SubstateWontStart}, late.substates("x"))

	remove()
	remove()
	require.NoError(t, ctrls[0].SetMode(ModeActive))
	awaitStable(t, c)
	assert.Len(t, late.substates("x"), 4)
}

func TestListenerPanicIsContained(t *testing.T) {
	c, logger, _ := newTestContainer(t, WithListener(ListenerFunc(func(Event) { panic("bad listener") })))

	ctrls, err := c.Install(internal("x"))
	require.NoError(t, err)
	awaitStable(t, c)
	assert.Equal(t, SubstateUp, ctrls[0].Substate())
	_, _, _, errs := logger.snapshot()
	assert.NotEmpty(t, errs)
}

func TestStatusSnapshot(t *testing.T) {
	c, _, _ := newTestContainer(t)

	_, err := c.NewBatch().AllowMissingDependencies().
		Add(internal("web", "db", "cache").Alias(name("frontend"))).
		Add(internal("db")).
		Install()
	require.NoError(t, err)
	awaitStable(t, c)

	st := c.Controller(name("web")).Status()
	assert.Equal(t, "web", st.Name)
	assert.Equal(t, []string{"frontend"}, st.Aliases)
	assert.Equal(t, "DOWN", st.State)
	assert.Equal(t, "PROBLEM", st.Substate)
	assert.Equal(t, "ACTIVE", st.Mode)
	assert.Equal(t, []string{"db", "cache"}, st.Dependencies)
	assert.Equal(t, []string{"cache"}, st.MissingDependencies)
	assert.NotEmpty(t, st.InstanceID)

	all := c.Status()
	require.Len(t, all, 2)
	assert.Equal(t, "db", all[0].Name)
	assert.Equal(t, "UP", all[0].Substate)
}

func TestValueRequiresUp(t *testing.T) {
	c, _, _ := newTestContainer(t)
	ctrls, err := c.Install(internal("v").WithMode(ModeNever))
	require.NoError(t, err)
	awaitStable(t, c)

	_, err = ctrls[0].Value()
	assert.ErrorIs(t, err, ErrNotUp)
}

func TestAwaitStabilityHonoursContext(t *testing.T) {
	c, _, _ := newTestContainer(t)

	trig := NewTriggeredService()
	_, err := c.Install(Define(name("stuck"), trig))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AwaitStability(ctx), context.DeadlineExceeded)

	trig.SetTrigger(true)
	awaitStable(t, c)
}
