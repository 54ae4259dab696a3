package rules

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/orchlabs/orch-core/graph"
	"github.com/orchlabs/orch-core/retry"
)

// Executor evaluates rule sets. It is stateless apart from its
// configuration and safe for concurrent use.
type Executor struct {
	logger             *slog.Logger
	categoryPriorities map[string]int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger used for evaluation diagnostics.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithCategoryPriority assigns a priority to a rule category. Category
// priority dominates base priority when ordering rules across categories.
func WithCategoryPriority(category string, priority int) ExecutorOption {
	return func(e *Executor) {
		e.categoryPriorities[category] = priority
	}
}

// NewExecutor creates a rule executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	exec := &Executor{
		logger:             slog.Default(),
		categoryPriorities: make(map[string]int),
	}

	for _, opt := range opts {
		opt(exec)
	}

	return exec
}

// effectivePriority combines base, category and type priority so rules
// from different categories order deterministically.
func (e *Executor) effectivePriority(rule Rule) int {
	priority := rule.Priority() + e.categoryPriorities[rule.Category()]*categoryWeight

	if tp, ok := rule.(TypePrioritized); ok {
		priority += tp.TypePriority()
	}

	return priority
}

// ExecuteWithPriority evaluates the enabled rules grouped by effective
// priority descending. Groups run strictly in priority order; rules
// within a group are ordered by declared execution order ascending.
// Results preserve that order regardless of parallel completion order.
func (e *Executor) ExecuteWithPriority(ctx context.Context, ruleSet []Rule, rc *Context, cfg Config) []Result {
	groups := e.groupByPriority(ruleSet)

	var results []Result

	for _, group := range groups {
		var groupResults []Result
		if cfg.Parallel {
			groupResults = e.runGroupParallel(ctx, group, rc, cfg)
		} else {
			groupResults = e.runGroupSequential(ctx, group, rc, cfg)
		}

		results = append(results, groupResults...)

		if cfg.StopOnFirstFailure && anyFailed(groupResults) {
			e.logger.Warn("Stopping rule execution after failed group",
				"results", len(results))

			break
		}
	}

	return results
}

// ExecuteByCategory evaluates only the rules belonging to category.
func (e *Executor) ExecuteByCategory(
	ctx context.Context, ruleSet []Rule, category string, rc *Context, cfg Config,
) []Result {
	filtered := make([]Rule, 0, len(ruleSet))

	for _, rule := range ruleSet {
		if rule.Category() == category {
			filtered = append(filtered, rule)
		}
	}

	return e.ExecuteWithPriority(ctx, filtered, rc, cfg)
}

// ExecuteWithDependencies evaluates rules in dependency order given an
// explicit id -> dependency-ids map, using Kahn's algorithm. A rule whose
// dependency was denied is auto-failed without being evaluated. Rules
// caught in a dependency cycle are appended in discovery order after the
// sorted rules and evaluated normally; cycle-aware scheduling is a
// documented limitation.
func (e *Executor) ExecuteWithDependencies(
	ctx context.Context, ruleSet []Rule, deps map[string][]string, rc *Context, cfg Config,
) []Result {
	byID := make(map[string]Rule, len(ruleSet))
	ids := make([]string, 0, len(ruleSet))

	for _, rule := range ruleSet {
		if !rule.Enabled() {
			continue
		}

		byID[rule.ID()] = rule
		ids = append(ids, rule.ID())
	}

	sorted, cyclic := graph.KahnSort(ids, deps)

	if len(cyclic) > 0 {
		e.logger.Warn("Rules form a dependency cycle, appending in discovery order",
			"rules", cyclic)
	}

	order := append(sorted, cyclic...)

	results := make([]Result, 0, len(order))
	outcome := make(map[string]bool, len(order))

	for _, id := range order {
		rule := byID[id]

		if denied, dep := deniedDependency(deps[id], outcome); denied {
			result := Deny(id, fmt.Sprintf("%s: %s", ErrDependenciesNotSatisfied, dep))
			outcome[id] = false
			results = append(results, result)

			continue
		}

		result := e.evaluate(ctx, rule, rc, cfg)
		outcome[id] = result.Allowed
		results = append(results, result)

		if cfg.StopOnFirstFailure && result.Failed() {
			break
		}
	}

	return results
}

// deniedDependency reports whether any dependency with a recorded
// outcome was denied. Dependencies without an outcome (out of set) are
// ignored.
func deniedDependency(deps []string, outcome map[string]bool) (bool, string) {
	for _, dep := range deps {
		if allowed, ok := outcome[dep]; ok && !allowed {
			return true, dep
		}
	}

	return false, ""
}

// groupByPriority buckets enabled rules by effective priority descending,
// each bucket ordered by declared execution order ascending. The grouping
// is stable: equal keys keep their declared relative order.
func (e *Executor) groupByPriority(ruleSet []Rule) [][]Rule {
	enabled := make([]Rule, 0, len(ruleSet))

	for _, rule := range ruleSet {
		if rule.Enabled() {
			enabled = append(enabled, rule)
		}
	}

	sort.SliceStable(enabled, func(i, j int) bool {
		pi, pj := e.effectivePriority(enabled[i]), e.effectivePriority(enabled[j])
		if pi != pj {
			return pi > pj
		}

		return enabled[i].ExecutionOrder() < enabled[j].ExecutionOrder()
	})

	var groups [][]Rule

	for _, rule := range enabled {
		priority := e.effectivePriority(rule)

		if len(groups) > 0 && e.effectivePriority(groups[len(groups)-1][0]) == priority {
			groups[len(groups)-1] = append(groups[len(groups)-1], rule)
		} else {
			groups = append(groups, []Rule{rule})
		}
	}

	return groups
}

func (e *Executor) runGroupSequential(ctx context.Context, group []Rule, rc *Context, cfg Config) []Result {
	results := make([]Result, 0, len(group))

	for _, rule := range group {
		result := e.evaluate(ctx, rule, rc, cfg)
		results = append(results, result)

		// Failure check after every rule.
		if cfg.StopOnFirstFailure && result.Failed() {
			break
		}
	}

	return results
}

// indexedResult carries a completed evaluation back to the collector
// with its declaration position, so results can be re-ordered.
type indexedResult struct {
	index  int
	result Result
}

func (e *Executor) runGroupParallel(ctx context.Context, group []Rule, rc *Context, cfg Config) []Result {
	groupCtx := ctx

	if cfg.GroupTimeout > 0 {
		var cancel context.CancelFunc

		groupCtx, cancel = context.WithTimeout(ctx, cfg.GroupTimeout)
		defer cancel()
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = len(group)
	}

	sem := make(chan struct{}, maxConcurrent)
	for range maxConcurrent {
		sem <- struct{}{}
	}

	// Buffered to group size so stragglers finishing after the group
	// deadline never block.
	resultCh := make(chan indexedResult, len(group))

	for i, rule := range group {
		go func(index int, rule Rule) {
			select {
			case <-groupCtx.Done():
				// The collector reports this rule as timed out.
				return
			case <-sem:
			}

			defer func() { sem <- struct{}{} }()

			resultCh <- indexedResult{index: index, result: e.evaluate(groupCtx, rule, rc, cfg)}
		}(i, rule)
	}

	results := make([]Result, len(group))
	received := make([]bool, len(group))
	pending := len(group)

	for pending > 0 {
		select {
		case item := <-resultCh:
			results[item.index] = item.result
			received[item.index] = true
			pending--
		case <-groupCtx.Done():
			// Convert every still-pending rule into an explicit
			// timeout failure; never silently drop one.
			for i, ok := range received {
				if !ok {
					results[i] = timeoutResult(group[i].ID())
				}
			}

			return results
		}
	}

	return results
}

// evaluate runs a single rule with panic recovery, per-rule timeout and
// the configured retry policy. It always produces a Result; nothing a
// rule does propagates past this boundary.
func (e *Executor) evaluate(ctx context.Context, rule Rule, rc *Context, cfg Config) Result {
	start := time.Now()

	var result Result

	run := func(ctx context.Context) error {
		result = e.evaluateOnce(ctx, rule, rc, cfg.RuleTimeout)
		if result.Failed() {
			return fmt.Errorf("rule %s denied: %v", rule.ID(), result.Errors)
		}

		return nil
	}

	if cfg.RetryAttempts > 0 {
		_ = retry.Do(ctx, run,
			retry.WithAttempts(cfg.RetryAttempts+1),
			retry.WithBackoff(retry.ConstantBackoff(cfg.RetryBackoff)),
			retry.WithJitter(retry.WithoutJitter),
		)
	} else {
		_ = run(ctx)
	}

	result.Duration = time.Since(start)

	return result
}

// evaluateOnce performs one evaluation attempt. The rule runs in its own
// goroutine so a rule that ignores its context cannot stall the group;
// an abandoned attempt is reported as a timeout failure.
func (e *Executor) evaluateOnce(ctx context.Context, rule Rule, rc *Context, timeout time.Duration) Result {
	evalCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		evalCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan Result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Recovered panic from rule evaluation",
					"rule", rule.ID(), "panic", r, "stack", string(debug.Stack()))

				done <- Deny(rule.ID(), fmt.Sprintf("%s: %v", ErrEvaluationPanic, r))
			}
		}()

		done <- rule.Evaluate(evalCtx, rc)
	}()

	select {
	case result := <-done:
		result.RuleID = rule.ID()

		return result
	case <-evalCtx.Done():
		return timeoutResult(rule.ID())
	}
}

func timeoutResult(ruleID string) Result {
	return Result{
		RuleID:   ruleID,
		Allowed:  false,
		Errors:   []string{ErrEvaluationTimeout.Error()},
		TimedOut: true,
	}
}

func anyFailed(results []Result) bool {
	for _, result := range results {
		if result.Failed() {
			return true
		}
	}

	return false
}
