package feature

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchlabs/orch-core/rules"
)

// testFeature overrides individual lifecycle hooks on top of Base.
type testFeature struct {
	*Base

	validateErr error
	initErr     error
	enableErr   error
	executeFn   func(ctx context.Context, args map[string]any) (map[string]any, error)
	handleFn    func(ctx context.Context, event Event) error
}

func newTestFeature(id string, deps ...Dependency) *testFeature {
	base := NewBase(id, id, "test")
	base.Deps = deps

	return &testFeature{Base: base}
}

func (f *testFeature) Validate() error {
	return f.validateErr
}

func (f *testFeature) Initialize(ctx context.Context) error {
	if f.initErr != nil {
		return f.initErr
	}

	return f.Base.Initialize(ctx)
}

func (f *testFeature) Enable(ctx context.Context) error {
	if f.enableErr != nil {
		return f.enableErr
	}

	return f.Base.Enable(ctx)
}

func (f *testFeature) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	if f.executeFn != nil {
		return f.executeFn(ctx, args)
	}

	return f.Base.Execute(ctx, args)
}

func (f *testFeature) HandleEvent(ctx context.Context, event Event) error {
	if f.handleFn != nil {
		return f.handleFn(ctx, event)
	}

	return nil
}

func requires(id string) Dependency {
	return Dependency{FeatureID: id}
}

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()

	opts = append([]ManagerOption{WithLogger(slogt.New(t))}, opts...)

	return NewManager(opts...)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	assert.True(t, mgr.Register(ctx, newTestFeature("catalog")))
	assert.False(t, mgr.Register(ctx, newTestFeature("catalog")))
}

func TestRegisterRejectsFailedValidation(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	bad := newTestFeature("bad")
	bad.validateErr = errors.New("missing setting")

	assert.False(t, mgr.Register(context.Background(), bad))
	assert.Equal(t, StateConfigurationInvalid, bad.State())

	_, registered := mgr.Get("bad")
	assert.False(t, registered)
}

func TestRegisterDefaultEnabledDrivesLifecycle(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	f := newTestFeature("auto")
	f.Conf.EnabledByDefault = true

	require.True(t, mgr.Register(context.Background(), f))
	assert.Equal(t, StateEnabled, f.State())
	assert.True(t, f.Enabled())
}

func TestRegisterDefaultEnabledStaysInErrorOnEnableFailure(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	f := newTestFeature("broken")
	f.Conf.EnabledByDefault = true
	f.enableErr = errors.New("device not supported")

	assert.False(t, mgr.Register(context.Background(), f))
	assert.Equal(t, StateError, f.State())

	_, registered := mgr.Get("broken")
	assert.True(t, registered)
}

func TestUnregisterRefusesWhileDependedUpon(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("base")))
	require.True(t, mgr.Register(ctx, newTestFeature("addon", requires("base"))))

	err := mgr.Unregister(ctx, "base")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHasDependents)

	require.NoError(t, mgr.Unregister(ctx, "addon"))
	assert.NoError(t, mgr.Unregister(ctx, "base"))
}

func TestUnregisterAllowedWithOnlyOptionalDependents(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("base")))
	require.True(t, mgr.Register(ctx,
		newTestFeature("addon", Dependency{FeatureID: "base", Optional: true})))

	assert.NoError(t, mgr.Unregister(ctx, "base"))
}

func TestEnableRecursivelyEnablesDependencies(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	base := newTestFeature("base")
	addon := newTestFeature("addon", requires("base"))

	require.True(t, mgr.Register(ctx, base))
	require.True(t, mgr.Register(ctx, addon))

	require.NoError(t, mgr.Enable(ctx, "addon", nil))
	assert.Equal(t, StateEnabled, base.State())
	assert.Equal(t, StateEnabled, addon.State())
}

func TestEnableAbortsOnDependencyFailure(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	base := newTestFeature("base")
	base.enableErr = errors.New("hardware missing")
	addon := newTestFeature("addon", requires("base"))

	require.True(t, mgr.Register(ctx, base))
	require.True(t, mgr.Register(ctx, addon))

	err := mgr.Enable(ctx, "addon", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyNotSatisfied)
	assert.Equal(t, StateDependencyMissing, addon.State())
	assert.False(t, addon.Enabled())
}

func TestEnableDetectsCircularDependencies(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("a", requires("b"))))
	require.True(t, mgr.Register(ctx, newTestFeature("b", requires("a"))))

	err := mgr.Enable(ctx, "a", nil)
	require.Error(t, err)
}

func TestCanEnableTracksDependencyAvailability(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("a", requires("b"))))

	// b is not registered yet.
	assert.False(t, mgr.CanEnable(ctx, "a", nil))

	require.True(t, mgr.Register(ctx, newTestFeature("b")))

	// Registered but not yet in the required (ENABLED) state.
	assert.False(t, mgr.CanEnable(ctx, "a", nil))

	require.NoError(t, mgr.Enable(ctx, "b", nil))
	assert.True(t, mgr.CanEnable(ctx, "a", nil))
}

func TestCanEnableConsultsRuleGate(t *testing.T) {
	t.Parallel()

	blocked := map[string]bool{"premium": true}

	mgr := newTestManager(t, WithEnablement(
		func(ctx context.Context, featureID string, rc *rules.Context) bool {
			return !blocked[featureID]
		}))
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("premium")))
	require.True(t, mgr.Register(ctx, newTestFeature("free")))

	rc := rules.NewContext()

	assert.False(t, mgr.CanEnable(ctx, "premium", rc))
	assert.True(t, mgr.CanEnable(ctx, "free", rc))

	// Without a rule context the gate is not consulted.
	assert.True(t, mgr.CanEnable(ctx, "premium", nil))
}

func TestExecuteUnknownFeatureReturnsFailureResult(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	result := mgr.Execute(context.Background(), "ghost", nil)

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "ghost")
}

func TestExecuteConvertsPanicToFailure(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	f := newTestFeature("panicky")
	f.executeFn = func(ctx context.Context, args map[string]any) (map[string]any, error) {
		panic("feature exploded")
	}

	require.True(t, mgr.Register(context.Background(), f))

	result := mgr.Execute(context.Background(), "panicky", nil)

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "feature exploded")
}

func TestExecuteHonorsConfiguredTimeout(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)

	f := newTestFeature("slow")
	f.Conf.Timeout = 20 * time.Millisecond
	f.executeFn = func(ctx context.Context, args map[string]any) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{}, nil
		}
	}

	require.True(t, mgr.Register(context.Background(), f))

	start := time.Now()
	result := mgr.Execute(context.Background(), "slow", nil)

	assert.False(t, result.Success)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteRecordsStatistics(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	ok := newTestFeature("ok")
	failing := newTestFeature("failing")
	failing.executeFn = func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, errors.New("nope")
	}

	require.True(t, mgr.Register(ctx, ok))
	require.True(t, mgr.Register(ctx, failing))

	mgr.Execute(ctx, "ok", nil)
	mgr.Execute(ctx, "ok", nil)
	mgr.Execute(ctx, "failing", nil)

	stats := mgr.Statistics()
	assert.Equal(t, int64(3), stats.TotalExecutions())
	assert.Equal(t, int64(1), stats.TotalFailures())

	okStats, found := stats.Feature("ok")
	require.True(t, found)
	assert.Equal(t, int64(2), okStats.Count)
	assert.Equal(t, int64(2), okStats.Successes)

	categories := stats.Categories()
	require.Contains(t, categories, "test")
	assert.Equal(t, int64(3), categories["test"].Count)
	assert.InDelta(t, 2.0/3.0, categories["test"].SuccessRate, 0.001)

	mgr.ClearStatistics()
	assert.Equal(t, int64(0), mgr.Statistics().TotalExecutions())
}

func TestExecuteFeaturesRunsInDependencyOrder(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	var order []string

	tracked := func(id string, deps ...Dependency) *testFeature {
		f := newTestFeature(id, deps...)
		f.executeFn = func(ctx context.Context, args map[string]any) (map[string]any, error) {
			order = append(order, id)

			return map[string]any{}, nil
		}

		return f
	}

	require.True(t, mgr.Register(ctx, tracked("app", requires("db"))))
	require.True(t, mgr.Register(ctx, tracked("db", requires("config"))))
	require.True(t, mgr.Register(ctx, tracked("config")))

	results, err := mgr.ExecuteFeatures(ctx, []string{"app", "db", "config"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"config", "db", "app"}, order)
}

func TestExecuteFeaturesStopsWhenRequiredFeatureFails(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	failing := newTestFeature("base")
	failing.executeFn = func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, errors.New("base down")
	}

	dependentRan := false
	dependent := newTestFeature("addon", requires("base"))
	dependent.executeFn = func(ctx context.Context, args map[string]any) (map[string]any, error) {
		dependentRan = true

		return map[string]any{}, nil
	}

	require.True(t, mgr.Register(ctx, failing))
	require.True(t, mgr.Register(ctx, dependent))

	results, err := mgr.ExecuteFeatures(ctx, []string{"addon", "base"}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.False(t, dependentRan)
}

func TestResolveAndEnableFeaturesHandlesAnyAcyclicOrder(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("c", requires("b"))))
	require.True(t, mgr.Register(ctx, newTestFeature("b", requires("a"))))
	require.True(t, mgr.Register(ctx, newTestFeature("a")))

	// Worst-case ordering: most dependent first.
	report := mgr.ResolveAndEnableFeatures(ctx, []string{"c", "b", "a"}, nil)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, report.Enabled)
	assert.Empty(t, report.Dropped)

	for _, id := range []string{"a", "b", "c"} {
		f, _ := mgr.Get(id)
		assert.Equal(t, StateEnabled, f.State())
	}
}

func TestResolveAndEnableFeaturesDropsUnsatisfiable(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("ok")))
	require.True(t, mgr.Register(ctx, newTestFeature("orphan", requires("missing"))))

	report := mgr.ResolveAndEnableFeatures(ctx, []string{"orphan", "ok"}, nil)

	assert.Equal(t, []string{"ok"}, report.Enabled)
	assert.Equal(t, []string{"orphan"}, report.Dropped)
}

func TestResolveAndEnableFeaturesDropsRuleBlocked(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, WithEnablement(
		func(ctx context.Context, featureID string, rc *rules.Context) bool {
			return featureID != "blocked"
		}))
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("blocked")))
	require.True(t, mgr.Register(ctx, newTestFeature("allowed")))

	report := mgr.ResolveAndEnableFeatures(ctx, []string{"blocked", "allowed"}, rules.NewContext())

	assert.Equal(t, []string{"allowed"}, report.Enabled)
	assert.Equal(t, []string{"blocked"}, report.Dropped)
}

func TestDisableProceedsDespiteEnabledDependents(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	base := newTestFeature("base")
	addon := newTestFeature("addon", requires("base"))

	require.True(t, mgr.Register(ctx, base))
	require.True(t, mgr.Register(ctx, addon))
	require.NoError(t, mgr.Enable(ctx, "addon", nil))

	// Deliberately does not cascade; dependents stay enabled.
	require.NoError(t, mgr.Disable(ctx, "base"))
	assert.Equal(t, StateDisabled, base.State())
	assert.Equal(t, StateEnabled, addon.State())
}

func TestGetDependentFeatures(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("base")))
	require.True(t, mgr.Register(ctx, newTestFeature("required-by", requires("base"))))
	require.True(t, mgr.Register(ctx,
		newTestFeature("optionally-by", Dependency{FeatureID: "base", Optional: true})))

	dependents := mgr.GetDependentFeatures("base")
	assert.ElementsMatch(t, []string{"required-by", "optionally-by"}, dependents)
}

func TestValidateAllFeatures(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("good")))

	// Valid at registration, broken afterwards.
	flaky := newTestFeature("flaky")
	require.True(t, mgr.Register(ctx, flaky))
	flaky.validateErr = errors.New("config drifted")

	failures := mgr.ValidateAllFeatures()
	assert.Len(t, failures, 1)
	assert.Contains(t, failures, "flaky")
}

func TestBroadcastEventContinuesPastFailingHandler(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	delivered := make(map[string]bool)

	handled := func(id string) *testFeature {
		f := newTestFeature(id)
		f.handleFn = func(ctx context.Context, event Event) error {
			delivered[id] = true

			return nil
		}

		return f
	}

	throwing := newTestFeature("throwing")
	throwing.handleFn = func(ctx context.Context, event Event) error {
		panic("handler exploded")
	}

	require.True(t, mgr.Register(ctx, handled("a")))
	require.True(t, mgr.Register(ctx, handled("b")))
	require.True(t, mgr.Register(ctx, throwing))

	err := mgr.BroadcastEvent(ctx, Event{Type: "settings-changed"})

	require.Error(t, err)
	assert.True(t, delivered["a"])
	assert.True(t, delivered["b"])
}

func TestSendEventStampsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	var received Event

	f := newTestFeature("listener")
	f.handleFn = func(ctx context.Context, event Event) error {
		received = event

		return nil
	}

	require.True(t, mgr.Register(ctx, f))
	require.NoError(t, mgr.SendEvent(ctx, "listener", Event{Type: "ping"}))

	assert.NotEmpty(t, received.ID)
	assert.False(t, received.Timestamp.IsZero())
}

func TestObserveStateStreamsChanges(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	changes := mgr.ObserveState(ctx)

	require.True(t, mgr.Register(ctx, newTestFeature("watched")))
	require.NoError(t, mgr.Enable(ctx, "watched", nil))

	deadline := time.After(time.Second)

	for {
		select {
		case change := <-changes:
			if change.To == StateEnabled {
				assert.Equal(t, "watched", change.FeatureID)

				return
			}
		case <-deadline:
			t.Fatal("no ENABLED state change observed")
		}
	}
}

func TestStatusAggregates(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	require.True(t, mgr.Register(ctx, newTestFeature("enabled-one")))
	require.True(t, mgr.Register(ctx, newTestFeature("idle-one")))
	require.NoError(t, mgr.Enable(ctx, "enabled-one", nil))

	status := mgr.Status()

	assert.Equal(t, 2, status.Total)
	assert.Equal(t, []string{"enabled-one"}, status.EnabledFeatures)
	assert.Equal(t, 1, status.CountsByState[StateEnabled])
	assert.Equal(t, 1, status.CountsByState[StateUninitialized])
}

func TestShutdownDisablesAndClears(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	f := newTestFeature("f")
	require.True(t, mgr.Register(ctx, f))
	require.NoError(t, mgr.Enable(ctx, "f", nil))

	mgr.Shutdown(ctx)

	assert.False(t, f.Enabled())
	assert.Empty(t, mgr.FeatureIDs())

	// Registration after shutdown is refused.
	assert.False(t, mgr.Register(ctx, newTestFeature("late")))
}

func TestLifecycleOperationsRefusedAfterShutdown(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	ctx := context.Background()

	f := newTestFeature("f")
	require.True(t, mgr.Register(ctx, f))
	require.NoError(t, mgr.Enable(ctx, "f", nil))

	mgr.Shutdown(ctx)

	assert.ErrorIs(t, mgr.Enable(ctx, "f", nil), ErrManagerShutDown)
	assert.ErrorIs(t, mgr.Disable(ctx, "f"), ErrManagerShutDown)
	assert.ErrorIs(t, mgr.Unregister(ctx, "f"), ErrManagerShutDown)
}
