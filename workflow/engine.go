package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"

	"github.com/orchlabs/orch-core/bgworker"
	"github.com/orchlabs/orch-core/observable"
)

// ActionExecutionHook is called before and after each action execution
// with phase "start" or "end".
type ActionExecutionHook func(ctx context.Context, actionName, stateName, phase string, err error)

// Engine owns the workflow definition registry and the live executions
// running against it. Execution loops run as detached background tasks;
// public operations never wait for a run to finish, though Resume waits
// for the paused loop to stop before scheduling its replacement.
type Engine struct {
	mu          sync.Mutex
	definitions map[string]*Definition
	active      map[string]*execution
	results     map[string]Result
	stats       map[string]*Stats
	shutDown    bool

	runner     *bgworker.Runner
	ownsRunner bool
	logger     *slog.Logger
	hooks      []ActionExecutionHook

	resultObs *observable.Cell[Result]
	statusObs *observable.Cell[StatusChange]
}

// execution is a live workflow instance. status is guarded by the
// engine mutex; paused is read by the loop without it.
type execution struct {
	id     string
	def    *Definition
	ec     *Context
	status Status
	paused *atomic.Bool
	handle *bgworker.Handle
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunner makes the engine schedule execution loops on the given
// runner instead of creating its own. The caller keeps ownership.
func WithRunner(runner *bgworker.Runner) EngineOption {
	return func(e *Engine) {
		e.runner = runner
		e.ownsRunner = false
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithExecutionHook registers a hook called around every action
// execution.
func WithExecutionHook(hook ActionExecutionHook) EngineOption {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hook)
	}
}

// NewEngine creates a workflow engine. Without WithRunner it creates
// and owns its own background pool.
func NewEngine(opts ...EngineOption) *Engine {
	engine := &Engine{
		definitions: make(map[string]*Definition),
		active:      make(map[string]*execution),
		results:     make(map[string]Result),
		stats:       make(map[string]*Stats),
		logger:      slog.Default(),
		resultObs:   observable.NewCell[Result](),
		statusObs:   observable.NewCell[StatusChange](),
	}

	for _, opt := range opts {
		opt(engine)
	}

	if engine.runner == nil {
		engine.runner = bgworker.NewRunner(bgworker.WithLogger(engine.logger))
		engine.ownsRunner = true
	}

	return engine
}

// RegisterWorkflow validates and stores a definition. Duplicate ids are
// rejected.
func (e *Engine) RegisterWorkflow(def *Definition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid definition %s: %w", def.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutDown {
		return ErrEngineShutDown
	}

	if _, exists := e.definitions[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorkflow, def.ID)
	}

	e.definitions[def.ID] = def
	e.logger.Info("Workflow registered", "workflow", def.ID, "states", len(def.States))

	return nil
}

// StartWorkflow instantiates a fresh execution of the named workflow
// and schedules its loop as a background task, returning the execution
// id immediately.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID string, vars map[string]any) (string, error) {
	e.mu.Lock()

	if e.shutDown {
		e.mu.Unlock()

		return "", ErrEngineShutDown
	}

	def, exists := e.definitions[workflowID]
	if !exists {
		e.mu.Unlock()

		return "", fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	execID := uuid.NewString()
	exec := &execution{
		id:     execID,
		def:    def,
		ec:     newContext(execID, workflowID, def.InitialState, def.Timeout, vars),
		status: StatusPending,
		paused: atomic.NewBool(false),
	}

	e.active[execID] = exec
	e.publishStatus(exec, StatusPending)

	// The loop's context is detached from the caller's: the caller only
	// waited for the start, not the whole run. The handle is stored
	// before the lock drops so Pause/Resume never observe the execution
	// without it.
	exec.handle = e.runner.Detach(context.WithoutCancel(ctx), func(taskCtx context.Context) {
		e.runLoop(taskCtx, exec)
	})
	e.mu.Unlock()

	e.logger.Info("Workflow started", "workflow", workflowID, "execution", execID)

	return execID, nil
}

// runLoop drives one execution to a terminal outcome. Transitions are
// strictly serialized: this loop is the only mutator of its context.
func (e *Engine) runLoop(ctx context.Context, exec *execution) {
	if !e.markRunning(exec) {
		return
	}

	ctx, span := startExecutionSpan(ctx, exec.ec)
	defer span.End()

	for {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "canceled")
			e.finish(exec, OutcomeCancelled, "execution canceled")

			return
		}

		// Pause flips a flag checked before each iteration; Resume
		// reschedules the loop from the current context.
		if exec.paused.Load() {
			return
		}

		current := exec.ec.CurrentState()

		state, ok := exec.def.state(current)
		if !ok {
			span.SetStatus(codes.Error, "state not found")
			e.finish(exec, OutcomeError, WrapStateError(current, ErrStateNotFound).Error())

			return
		}

		if exec.ec.timedOut(state.Timeout) {
			span.SetStatus(codes.Error, "timeout")
			e.finish(exec, OutcomeTimeout, fmt.Sprintf("timed out in state %s", current))

			return
		}

		stateCtx, stateSpan := startStateSpan(ctx, current, exec.ec)

		err := e.runActions(stateCtx, exec, current, state.Entry)
		if err != nil {
			stateSpan.RecordError(err)
			stateSpan.SetStatus(codes.Error, err.Error())
			stateSpan.End()
			stateVisitsTotal.WithLabelValues(sanitizeWorkflow(exec.def.ID), current, outcomeError).Inc()

			e.finish(exec, OutcomeError,
				WrapStateError(current, fmt.Errorf("%w: %w", ErrEntryActionFailed, err)).Error())

			return
		}

		stateSpan.SetStatus(codes.Ok, "completed")
		stateSpan.End()
		stateVisitsTotal.WithLabelValues(sanitizeWorkflow(exec.def.ID), current, outcomeSuccess).Inc()

		next, guardErr := e.selectTransition(stateCtx, exec, current)
		if guardErr != nil {
			e.finish(exec, OutcomeError, guardErr.Error())

			return
		}

		if next == nil {
			if state.Terminal {
				span.SetStatus(codes.Ok, "completed")
				e.finish(exec, OutcomeSuccess, "")
			} else {
				// A stuck execution must terminate, never spin.
				span.SetStatus(codes.Error, ErrNoValidTransitions.Error())
				e.finish(exec, OutcomeError, WrapStateError(current, ErrNoValidTransitions).Error())
			}

			return
		}

		if err := e.runActions(stateCtx, exec, current, next.Actions); err != nil {
			e.finish(exec, OutcomeError,
				WrapTransitionError(next.From, next.To, fmt.Errorf("%w: %w", ErrTransitionFailed, err)).Error())

			return
		}

		transitionsTotal.WithLabelValues(sanitizeWorkflow(exec.def.ID), next.From, next.To).Inc()
		e.logger.Debug("Transition fired",
			"workflow", exec.def.ID, "execution", exec.id, "from", next.From, "to", next.To)

		exec.ec.advance(next.To)
	}
}

// selectTransition evaluates the guards of the transitions leaving
// current and picks the firing one: numerically highest priority wins,
// declaration order breaks ties. A nil return with nil error means no
// transition fired.
func (e *Engine) selectTransition(ctx context.Context, exec *execution, current string) (*Transition, error) {
	var selected *Transition

	for _, transition := range exec.def.transitionsFrom(current) {
		fire, err := e.evaluateGuard(ctx, exec, transition)
		if err != nil {
			return nil, WrapTransitionError(transition.From, transition.To, err)
		}

		if !fire {
			continue
		}

		if selected == nil || transition.Priority > selected.Priority {
			t := transition
			selected = &t
		}
	}

	return selected, nil
}

func (e *Engine) evaluateGuard(ctx context.Context, exec *execution, transition Transition) (fire bool, err error) {
	if transition.Guard == nil {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered panic from guard",
				"workflow", exec.def.ID, "from", transition.From, "to", transition.To,
				"panic", r, "stack", string(debug.Stack()))

			fire = false
			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
		}
	}()

	return transition.Guard(ctx, exec.ec)
}

// runActions executes actions sequentially with hooks and panic
// recovery. Nothing a plugged-in action does propagates past here as a
// panic.
func (e *Engine) runActions(ctx context.Context, exec *execution, stateName string, actions []Action) error {
	for _, action := range actions {
		for _, hook := range e.hooks {
			hook(ctx, action.Name(), stateName, "start", nil)
		}

		err := e.runAction(ctx, exec, action)

		for _, hook := range e.hooks {
			hook(ctx, action.Name(), stateName, "end", err)
		}

		if err != nil {
			return fmt.Errorf("action %s: %w", action.Name(), err)
		}
	}

	return nil
}

func (e *Engine) runAction(ctx context.Context, exec *execution, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered panic from action",
				"workflow", exec.def.ID, "action", action.Name(),
				"panic", r, "stack", string(debug.Stack()))

			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
		}
	}()

	return action.Execute(ctx, exec.ec)
}

// markRunning flips a pending or resumed execution to RUNNING. Returns
// false if the execution has already finished.
func (e *Engine) markRunning(exec *execution) bool {
	e.mu.Lock()

	if _, ok := e.active[exec.id]; !ok {
		e.mu.Unlock()

		return false
	}

	exec.status = StatusRunning
	e.mu.Unlock()

	e.publishStatus(exec, StatusRunning)

	return true
}

// finish converts a live execution into an immutable result exactly
// once. Later calls for the same execution are no-ops, which makes
// cancellation racing against completion harmless.
func (e *Engine) finish(exec *execution, outcome Outcome, errMsg string) {
	e.mu.Lock()

	if _, ok := e.active[exec.id]; !ok {
		e.mu.Unlock()

		return
	}

	delete(e.active, exec.id)

	status := statusForOutcome(outcome)
	exec.status = status

	now := time.Now()
	result := Result{
		ExecutionID: exec.id,
		WorkflowID:  exec.def.ID,
		Outcome:     outcome,
		Error:       errMsg,
		StartTime:   exec.ec.StartTime(),
		EndTime:     now,
		Duration:    now.Sub(exec.ec.StartTime()),
		Progress:    exec.ec.progress(len(exec.def.States)),
		Transitions: len(exec.ec.History()),
		Variables:   exec.ec.Variables(),
	}

	e.results[exec.id] = result

	stats, ok := e.stats[exec.def.ID]
	if !ok {
		stats = &Stats{CountsByOutcome: make(map[Outcome]int64)}
		e.stats[exec.def.ID] = stats
	}

	stats.CountsByOutcome[outcome]++
	stats.Total++
	stats.TotalDuration += result.Duration
	stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Total)

	e.mu.Unlock()

	label := outcomeSuccess
	if outcome != OutcomeSuccess {
		label = outcomeError
	}

	executionsTotal.WithLabelValues(sanitizeWorkflow(exec.def.ID), string(outcome)).Inc()
	executionDuration.WithLabelValues(sanitizeWorkflow(exec.def.ID), label).Observe(result.Duration.Seconds())

	e.publishStatus(exec, status)
	e.resultObs.Publish(result)

	if errMsg != "" {
		e.logger.Warn("Workflow finished",
			"workflow", exec.def.ID, "execution", exec.id, "outcome", outcome, "error", errMsg)
	} else {
		e.logger.Info("Workflow finished",
			"workflow", exec.def.ID, "execution", exec.id, "outcome", outcome,
			"duration_ms", result.Duration.Milliseconds())
	}
}

func (e *Engine) publishStatus(exec *execution, status Status) {
	e.statusObs.Publish(StatusChange{
		ExecutionID: exec.id,
		WorkflowID:  exec.def.ID,
		Status:      status,
		Timestamp:   time.Now(),
	})
}

func statusForOutcome(outcome Outcome) Status {
	switch outcome {
	case OutcomeSuccess:
		return StatusCompleted
	case OutcomeTimeout:
		return StatusTimedOut
	case OutcomeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Pause asks a live execution to stop before its next iteration. The
// loop exits; Resume schedules a fresh one from the current context.
func (e *Engine) Pause(execID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.active[execID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, execID)
	}

	exec.paused.Store(true)
	exec.status = StatusPaused
	e.statusObs.Publish(StatusChange{
		ExecutionID: execID, WorkflowID: exec.def.ID, Status: StatusPaused, Timestamp: time.Now(),
	})
	e.logger.Info("Workflow paused", "execution", execID)

	return nil
}

// Resume reschedules a paused execution's loop. It first waits for the
// paused loop to exit: Pause only flips a flag the loop checks between
// iterations, so the old loop may still be inside an action, and exactly
// one loop may drive an execution context at a time.
func (e *Engine) Resume(execID string) error {
	e.mu.Lock()

	exec, ok := e.active[execID]
	if !ok {
		e.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrExecutionNotFound, execID)
	}

	if !exec.paused.Load() {
		e.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrNotPaused, execID)
	}

	prev := exec.handle
	e.mu.Unlock()

	if prev != nil {
		prev.Wait()
	}

	e.mu.Lock()

	// The execution may have been canceled, or a racing Resume may have
	// won, while we waited for the old loop.
	if _, ok := e.active[execID]; !ok {
		e.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrExecutionNotFound, execID)
	}

	if !exec.paused.CompareAndSwap(true, false) {
		e.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrNotPaused, execID)
	}

	// The flag clear and the handle swap stay under one critical section
	// so a concurrent Pause/Resume always waits on the newest loop.
	handle := e.runner.Detach(context.Background(), func(taskCtx context.Context) {
		e.runLoop(taskCtx, exec)
	})
	exec.handle = handle
	e.mu.Unlock()

	e.logger.Info("Workflow resumed", "execution", execID)

	return nil
}

// Cancel removes the execution from the active registry and records a
// CANCELLED result with the caller's reason. Canceling an execution
// that has already finished (or was never started) is a no-op.
func (e *Engine) Cancel(execID, reason string) {
	e.mu.Lock()
	exec, ok := e.active[execID]

	var handle *bgworker.Handle
	if ok {
		handle = exec.handle
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	if reason == "" {
		reason = "canceled"
	}

	e.finish(exec, OutcomeCancelled, reason)

	// Cooperative: the loop notices its context at the next iteration.
	if handle != nil {
		handle.Cancel()
	}
}

// GetStatus returns the live or terminal status of an execution.
func (e *Engine) GetStatus(execID string) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if exec, ok := e.active[execID]; ok {
		return exec.status, true
	}

	if result, ok := e.results[execID]; ok {
		return statusForOutcome(result.Outcome), true
	}

	return "", false
}

// GetResult returns the immutable result of a finished execution.
func (e *Engine) GetResult(execID string) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, ok := e.results[execID]

	return result, ok
}

// SendEvent records a named event on a live execution so guards can
// match on it.
func (e *Engine) SendEvent(execID, event string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.active[execID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, execID)
	}

	exec.ec.RaiseEvent(event)

	return nil
}

// UpdateVariables merges vars into a live execution's variables.
func (e *Engine) UpdateVariables(execID string, vars map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.active[execID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, execID)
	}

	exec.ec.MergeVariables(vars)

	return nil
}

// ObserveResults streams terminal results; the latest one is replayed
// to new subscribers.
func (e *Engine) ObserveResults(ctx context.Context) <-chan Result {
	return e.resultObs.Subscribe(ctx)
}

// ObserveStatus streams execution status changes.
func (e *Engine) ObserveStatus(ctx context.Context) <-chan StatusChange {
	return e.statusObs.Subscribe(ctx)
}

// GetStatistics returns per-workflow execution statistics.
func (e *Engine) GetStatistics() map[string]Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]Stats, len(e.stats))

	for id, stats := range e.stats {
		copied := Stats{
			CountsByOutcome: make(map[Outcome]int64, len(stats.CountsByOutcome)),
			AverageDuration: stats.AverageDuration,
			TotalDuration:   stats.TotalDuration,
			Total:           stats.Total,
		}

		for outcome, count := range stats.CountsByOutcome {
			copied.CountsByOutcome[outcome] = count
		}

		out[id] = copied
	}

	return out
}

// ActiveExecutions returns the ids of executions that have not finished.
func (e *Engine) ActiveExecutions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}

	return ids
}

// Shutdown cancels every live execution, closes the observable streams
// and, if the engine owns its runner, stops it.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()

	if e.shutDown {
		e.mu.Unlock()

		return
	}

	e.shutDown = true

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Cancel(id, "engine shutdown")
	}

	e.resultObs.Close()
	e.statusObs.Close()

	if e.ownsRunner {
		e.runner.Stop()
	}

	e.logger.Info("Workflow engine shut down", "cancelled", len(ids))
}
