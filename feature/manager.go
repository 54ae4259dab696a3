package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	errcol "github.com/orchlabs/orch-core/errors"
	"github.com/orchlabs/orch-core/graph"
	"github.com/orchlabs/orch-core/observable"
	"github.com/orchlabs/orch-core/rules"
)

// EnablementEvaluator gates feature enablement with business rules. It
// is consulted by CanEnable when the caller attaches a rule context; a
// false return blocks enablement.
type EnablementEvaluator func(ctx context.Context, featureID string, rc *rules.Context) bool

// Manager owns the feature registry. All registry mutations run under a
// single mutex covering their full critical section, so cross-feature
// operations (recursive enables, dependency checks) never interleave
// partially. Execution statistics are recorded outside that lock.
type Manager struct {
	mu       sync.Mutex
	features map[string]Feature
	shutDown bool

	logger     *slog.Logger
	enablement EnablementEvaluator

	stats    *Statistics
	stateObs *observable.Cell[StateChange]
	result   *observable.Cell[Result]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithEnablement attaches a rule-based enablement gate.
func WithEnablement(eval EnablementEvaluator) ManagerOption {
	return func(m *Manager) {
		m.enablement = eval
	}
}

// NewManager creates an empty feature manager.
func NewManager(opts ...ManagerOption) *Manager {
	mgr := &Manager{
		features: make(map[string]Feature),
		logger:   slog.Default(),
		stats:    newStatistics(),
		stateObs: observable.NewCell[StateChange](),
		result:   observable.NewCell[Result](),
	}

	for _, opt := range opts {
		opt(mgr)
	}

	return mgr
}

// NewRuleEnablement builds an EnablementEvaluator from a rule executor
// and a per-feature rule source. Enablement is allowed only when every
// returned rule allows it.
func NewRuleEnablement(
	exec *rules.Executor, rulesFor func(featureID string) []rules.Rule, cfg rules.Config,
) EnablementEvaluator {
	return func(ctx context.Context, featureID string, rc *rules.Context) bool {
		ruleSet := rulesFor(featureID)
		if len(ruleSet) == 0 {
			return true
		}

		for _, result := range exec.ExecuteWithPriority(ctx, ruleSet, rc, cfg) {
			if !result.Allowed {
				return false
			}
		}

		return true
	}
}

// Register adds a feature to the registry. It returns false, never an
// error, on a duplicate id, failed self-validation, or a failed
// initialize/enable for default-enabled features. A feature that fails
// validation is not registered; one that fails initialize or enable
// stays registered in the ERROR state.
func (m *Manager) Register(ctx context.Context, f Feature) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutDown {
		return false
	}

	id := f.ID()

	if _, exists := m.features[id]; exists {
		m.logger.Warn("Rejecting feature registration", "feature", id, "error", ErrDuplicateFeature)

		return false
	}

	if err := guard(func() error { return f.Validate() }); err != nil {
		m.logger.Warn("Feature failed self-validation", "feature", id, "error", err)
		f.SetState(StateConfigurationInvalid)

		return false
	}

	m.features[id] = f
	m.logger.Info("Feature registered", "feature", id, "category", f.Category())

	if !f.Config().EnabledByDefault {
		m.publishState(id, f.State(), f.State())

		return true
	}

	if err := m.initializeLocked(ctx, f); err != nil {
		m.logger.Error("Default-enabled feature failed to initialize", "feature", id, "error", err)

		return false
	}

	if err := m.enableLocked(ctx, id, nil, map[string]bool{}); err != nil {
		m.logger.Error("Default-enabled feature failed to enable", "feature", id, "error", err)

		return false
	}

	return true
}

// Unregister removes a feature after running its cleanup. It refuses
// while any other registered feature declares a non-optional dependency
// on it.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutDown {
		return ErrManagerShutDown
	}

	f, exists := m.features[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, id)
	}

	if dependents := m.dependentsLocked(id, false); len(dependents) > 0 {
		return fmt.Errorf("%w: %s is required by %v", ErrHasDependents, id, dependents)
	}

	if err := guard(func() error { return f.Cleanup(ctx) }); err != nil {
		m.logger.Warn("Feature cleanup failed during unregister", "feature", id, "error", err)
	}

	delete(m.features, id)
	m.logger.Info("Feature unregistered", "feature", id)

	return nil
}

// Get returns a registered feature.
func (m *Manager) Get(id string) (Feature, bool) { //nolint:ireturn
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.features[id]

	return f, ok
}

// FeatureIDs returns the ids of all registered features.
func (m *Manager) FeatureIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.features))
	for id := range m.features {
		ids = append(ids, id)
	}

	return ids
}

// Enable drives a feature to ENABLED, recursively enabling its
// non-optional dependencies first and aborting on the first failure.
// The optional rule context gates enablement through the manager's
// EnablementEvaluator.
func (m *Manager) Enable(ctx context.Context, id string, rc *rules.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutDown {
		return ErrManagerShutDown
	}

	return m.enableLocked(ctx, id, rc, map[string]bool{})
}

func (m *Manager) enableLocked(ctx context.Context, id string, rc *rules.Context, visiting map[string]bool) error {
	f, exists := m.features[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, id)
	}

	if f.State() == StateEnabled {
		return nil
	}

	if visiting[id] {
		return fmt.Errorf("%w: %s", graph.ErrCircularDependency, id)
	}

	visiting[id] = true
	defer delete(visiting, id)

	// Non-optional dependencies first; abort on the first failure.
	for _, dep := range f.Dependencies() {
		if dep.Optional {
			continue
		}

		if err := m.enableLocked(ctx, dep.FeatureID, rc, visiting); err != nil {
			m.setStateLocked(f, StateDependencyMissing)

			return fmt.Errorf("%w: enabling dependency %s of %s: %w",
				ErrDependencyNotSatisfied, dep.FeatureID, id, err)
		}
	}

	if !m.canEnableLocked(ctx, f, rc) {
		return fmt.Errorf("%w: %s", ErrBlockedByRule, id)
	}

	if f.State() == StateUninitialized || f.State() == StateConfigurationInvalid {
		if err := m.initializeLocked(ctx, f); err != nil {
			return err
		}
	}

	m.setStateLocked(f, StateEnabling)

	if err := guard(func() error { return f.Enable(ctx) }); err != nil {
		m.setStateLocked(f, StateError)

		return fmt.Errorf("enable %s: %w", id, err)
	}

	m.setStateLocked(f, StateEnabled)
	m.logger.Info("Feature enabled", "feature", id)

	return nil
}

func (m *Manager) initializeLocked(ctx context.Context, f Feature) error {
	m.setStateLocked(f, StateInitializing)

	if err := guard(func() error { return f.Initialize(ctx) }); err != nil {
		m.setStateLocked(f, StateError)

		return fmt.Errorf("initialize %s: %w", f.ID(), err)
	}

	m.setStateLocked(f, StateReady)

	return nil
}

// Disable drives a feature to DISABLED. Dependents that are still
// enabled do not block the call; they are only warned about. Cascading
// is deliberately left to the caller (see GetDependentFeatures).
func (m *Manager) Disable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutDown {
		return ErrManagerShutDown
	}

	f, exists := m.features[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, id)
	}

	if dependents := m.enabledDependentsLocked(id); len(dependents) > 0 {
		m.logger.Warn("Disabling feature with enabled dependents",
			"feature", id, "dependents", dependents)
	}

	m.setStateLocked(f, StateDisabling)

	if err := guard(func() error { return f.Disable(ctx) }); err != nil {
		m.setStateLocked(f, StateError)

		return fmt.Errorf("disable %s: %w", id, err)
	}

	m.setStateLocked(f, StateDisabled)
	m.logger.Info("Feature disabled", "feature", id)

	return nil
}

// CanEnable reports whether every non-optional dependency of the feature
// is in its required state and, when a rule context is attached, whether
// the enablement rules allow it. A missing feature or missing dependency
// yields false.
func (m *Manager) CanEnable(ctx context.Context, id string, rc *rules.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.features[id]
	if !exists {
		return false
	}

	return m.canEnableLocked(ctx, f, rc)
}

func (m *Manager) canEnableLocked(ctx context.Context, f Feature, rc *rules.Context) bool {
	for _, dep := range f.Dependencies() {
		if dep.Optional {
			continue
		}

		target, exists := m.features[dep.FeatureID]
		if !exists {
			return false
		}

		required := dep.RequiredState
		if required == "" {
			required = StateEnabled
		}

		if target.State() != required {
			return false
		}
	}

	if rc != nil && m.enablement != nil {
		return m.enablement(ctx, f.ID(), rc)
	}

	return true
}

// Execute runs a feature, bounded by its configured timeout, and records
// per-feature and aggregate statistics. An unknown id produces a failure
// Result carrying the error; it never raises.
func (m *Manager) Execute(ctx context.Context, id string, args map[string]any) Result {
	m.mu.Lock()
	f, exists := m.features[id]
	m.mu.Unlock()

	if !exists {
		return Result{
			FeatureID: id,
			Success:   false,
			Errors:    []string{fmt.Sprintf("%s: %s", ErrFeatureNotFound, id)},
		}
	}

	start := time.Now()
	data, err := m.runFeature(ctx, f, args)
	duration := time.Since(start)

	result := Result{
		FeatureID: id,
		Success:   err == nil,
		Data:      data,
		Duration:  duration,
	}

	if err != nil {
		var collection errcol.Collection

		collection.Add(err)
		result.Errors = collection.Messages()
	}

	// Recorded without the registry lock; many executions may report
	// concurrently.
	m.stats.record(id, f.Category(), duration, err == nil)
	m.result.Publish(result)

	return result
}

// runFeature executes the feature callback in its own goroutine so a
// callback that ignores its context cannot stall the caller past the
// configured timeout.
func (m *Manager) runFeature(ctx context.Context, f Feature, args map[string]any) (map[string]any, error) {
	execCtx := ctx

	if timeout := f.Config().Timeout; timeout > 0 {
		var cancel context.CancelFunc

		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		data map[string]any
		err  error
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Recovered panic from feature execution",
					"feature", f.ID(), "panic", r, "stack", string(debug.Stack()))

				done <- outcome{err: fmt.Errorf("%w: %v", ErrExecutionPanic, r)}
			}
		}()

		data, err := f.Execute(execCtx, args)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-execCtx.Done():
		return nil, execCtx.Err()
	}
}

// ExecuteFeatures executes the requested features sequentially in
// dependency order. Ordering is restricted to the requested subset, so
// out-of-subset dependencies do not influence it. Execution stops early
// when a failed feature is a non-optional dependency of a feature still
// waiting to run.
func (m *Manager) ExecuteFeatures(ctx context.Context, ids []string, args map[string]any) ([]Result, error) {
	ordered, err := m.DependencyOrder(ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ordered))

	for i, id := range ordered {
		result := m.Execute(ctx, id, args)
		results = append(results, result)

		if !result.Success && m.requiredByRemaining(id, ordered[i+1:]) {
			m.logger.Warn("Stopping feature execution: required feature failed",
				"feature", id)

			break
		}
	}

	return results, nil
}

func (m *Manager) requiredByRemaining(id string, remaining []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rest := range remaining {
		f, exists := m.features[rest]
		if !exists {
			continue
		}

		for _, dep := range f.Dependencies() {
			if dep.FeatureID == id && !dep.Optional {
				return true
			}
		}
	}

	return false
}

// DependencyOrder returns the requested ids in dependency order using a
// depth-first topological sort restricted to the subset. A circular
// dependency within the subset is fatal for the call.
func (m *Manager) DependencyOrder(ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return graph.Sort(ids, func(id string) []string {
		f, exists := m.features[id]
		if !exists {
			return nil
		}

		var deps []string
		for _, dep := range f.Dependencies() {
			deps = append(deps, dep.FeatureID)
		}

		return deps
	})
}

// ResolveReport describes the outcome of ResolveAndEnableFeatures.
type ResolveReport struct {
	Enabled []string
	Dropped []string
}

// ResolveAndEnableFeatures enables the requested features using an
// iterative worklist: pop the front, try to enable it; on failure from
// unmet dependencies rotate it to the back for another pass; if its
// dependencies are satisfiable but a rule blocked it, drop it. A full
// pass with no progress drops the front id permanently, so the loop
// always terminates.
func (m *Manager) ResolveAndEnableFeatures(ctx context.Context, ids []string, rc *rules.Context) ResolveReport {
	queue := append([]string(nil), ids...)

	var report ResolveReport

	rotations := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		err := m.Enable(ctx, id, rc)

		switch {
		case err == nil:
			report.Enabled = append(report.Enabled, id)
			rotations = 0
		case errors.Is(err, ErrBlockedByRule):
			// Dependencies satisfied, rule said no: drop for good.
			m.logger.Info("Dropping feature blocked by rule", "feature", id)
			report.Dropped = append(report.Dropped, id)
			rotations = 0
		default:
			rotations++
			if rotations > len(queue) {
				// A full pass made no progress; this one is unsatisfiable.
				m.logger.Warn("Dropping unsatisfiable feature", "feature", id, "error", err)
				report.Dropped = append(report.Dropped, id)
				rotations = 0

				continue
			}

			queue = append(queue, id)
		}
	}

	return report
}

// GetDependentFeatures returns the ids of features declaring any
// dependency on id, optional ones included.
func (m *Manager) GetDependentFeatures(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.dependentsLocked(id, true)
}

// dependentsLocked lists features depending on id. includeOptional
// controls whether optional dependencies count.
func (m *Manager) dependentsLocked(id string, includeOptional bool) []string {
	var dependents []string

	for otherID, other := range m.features {
		if otherID == id {
			continue
		}

		for _, dep := range other.Dependencies() {
			if dep.FeatureID != id {
				continue
			}

			if dep.Optional && !includeOptional {
				continue
			}

			dependents = append(dependents, otherID)

			break
		}
	}

	return dependents
}

func (m *Manager) enabledDependentsLocked(id string) []string {
	var enabled []string

	for _, dependent := range m.dependentsLocked(id, false) {
		if f := m.features[dependent]; f.State() == StateEnabled {
			enabled = append(enabled, dependent)
		}
	}

	return enabled
}

// ValidateAllFeatures runs every feature's self-validation and returns
// the failures keyed by feature id.
func (m *Manager) ValidateAllFeatures() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()

	failures := make(map[string]error)

	for id, f := range m.features {
		if err := guard(func() error { return f.Validate() }); err != nil {
			failures[id] = err
		}
	}

	return failures
}

// SendEvent delivers an event to a single feature's HandleEvent.
func (m *Manager) SendEvent(ctx context.Context, targetID string, event Event) error {
	m.mu.Lock()
	f, exists := m.features[targetID]
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, targetID)
	}

	event = stampEvent(event)

	return guard(func() error { return f.HandleEvent(ctx, event) })
}

// BroadcastEvent delivers an event to every registered feature. Handler
// failures are collected; delivery to the remaining features continues.
func (m *Manager) BroadcastEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	targets := make([]Feature, 0, len(m.features))

	for _, f := range m.features {
		targets = append(targets, f)
	}
	m.mu.Unlock()

	event = stampEvent(event)

	var collection errcol.Collection

	for _, f := range targets {
		if err := guard(func() error { return f.HandleEvent(ctx, event) }); err != nil {
			collection.Add(fmt.Errorf("feature %s: %w", f.ID(), err))
		}
	}

	return collection.GetError()
}

func stampEvent(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return event
}

// ObserveState returns a stream of feature state changes. The latest
// change is replayed to new subscribers.
func (m *Manager) ObserveState(ctx context.Context) <-chan StateChange {
	return m.stateObs.Subscribe(ctx)
}

// ObserveResults returns a stream of execution results. The latest
// result is replayed to new subscribers.
func (m *Manager) ObserveResults(ctx context.Context) <-chan Result {
	return m.result.Subscribe(ctx)
}

// Status returns the aggregate registry view.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		Total:         len(m.features),
		CountsByState: make(map[State]int),
	}

	for id, f := range m.features {
		status.CountsByState[f.State()]++

		if f.State() == StateEnabled {
			status.EnabledFeatures = append(status.EnabledFeatures, id)
		}
	}

	return status
}

// Shutdown disables and cleans up every feature, closes the observable
// streams and marks the manager unusable. Feature failures during
// shutdown are logged, not returned.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutDown {
		return
	}

	m.shutDown = true

	for id, f := range m.features {
		if f.State() == StateEnabled {
			if err := guard(func() error { return f.Disable(ctx) }); err != nil {
				m.logger.Warn("Feature disable failed during shutdown", "feature", id, "error", err)
			}
		}

		if err := guard(func() error { return f.Cleanup(ctx) }); err != nil {
			m.logger.Warn("Feature cleanup failed during shutdown", "feature", id, "error", err)
		}
	}

	clear(m.features)
	m.stateObs.Close()
	m.result.Close()
	m.logger.Info("Feature manager shut down")
}

func (m *Manager) setStateLocked(f Feature, to State) {
	from := f.State()
	if from == to {
		return
	}

	f.SetState(to)
	m.publishState(f.ID(), from, to)
}

func (m *Manager) publishState(id string, from, to State) {
	m.stateObs.Publish(StateChange{
		FeatureID: id,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	})
}

// guard invokes a feature callback, converting panics into errors so
// nothing from a plugged-in unit propagates past the manager.
func guard(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExecutionPanic, r)
		}
	}()

	return f()
}
