// Package rules evaluates business rules in priority order against a
// shared context. Rules are grouped by priority (highest first), ordered
// within a group by declared execution order, and executed either
// sequentially or in parallel under per-rule and per-group timeouts.
package rules

import (
	"context"
	"maps"
	"sync"
	"time"
)

// categoryWeight spaces category priorities apart so a category bump
// always outranks any base priority within a category.
const categoryWeight = 1000

// Rule is a pluggable business rule. Implementations are supplied by the
// host; nothing they return or panic with propagates past the executor.
type Rule interface {
	ID() string
	Category() string
	Priority() int
	Enabled() bool
	ExecutionOrder() int
	Evaluate(ctx context.Context, rc *Context) Result
	Validate() error
}

// TypePrioritized is an optional interface for rules that carry a
// type-level priority constant, added on top of base and category
// priority when computing the effective priority.
type TypePrioritized interface {
	TypePriority() int
}

// Result is the outcome of a single rule evaluation.
type Result struct {
	RuleID   string
	Allowed  bool
	Errors   []string
	Data     map[string]any
	Duration time.Duration
	TimedOut bool
}

// Failed reports whether this is a disallowing result with errors, the
// condition that trips stop-on-first-failure.
func (r Result) Failed() bool {
	return !r.Allowed && len(r.Errors) > 0
}

// Allow builds a successful result for the given rule.
func Allow(ruleID string) Result {
	return Result{RuleID: ruleID, Allowed: true}
}

// Deny builds a disallowing result carrying the given error messages.
func Deny(ruleID string, errs ...string) Result {
	return Result{RuleID: ruleID, Allowed: false, Errors: errs}
}

// Config controls how a rule set is executed.
type Config struct {
	// Parallel runs each priority group concurrently instead of in
	// declared order. Groups still run strictly one after another.
	Parallel bool
	// RuleTimeout bounds a single rule evaluation. Zero means no limit.
	RuleTimeout time.Duration
	// GroupTimeout bounds a whole parallel group. Rules still pending at
	// the deadline become explicit timeout failures. Zero means no limit.
	GroupTimeout time.Duration
	// StopOnFirstFailure skips the remaining groups once any disallowing
	// result with errors appears.
	StopOnFirstFailure bool
	// MaxConcurrent bounds parallelism within a group. Values below 1
	// mean one goroutine per rule.
	MaxConcurrent int
	// RetryAttempts is the number of additional evaluation attempts for
	// a rule whose evaluation errored. Zero disables retries.
	RetryAttempts uint
	// RetryBackoff is the constant delay between retry attempts.
	RetryBackoff time.Duration
}

// Context is the shared, mutable evaluation context. It is safe for
// concurrent use by rules running in a parallel group.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates an empty evaluation context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// NewContextFrom creates a context seeded with the given values.
func NewContextFrom(values map[string]any) *Context {
	rc := NewContext()
	rc.Merge(values)

	return rc
}

// Get retrieves a value from the context.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.values[key]

	return val, ok
}

// Set stores a value in the context.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = value
}

// Merge copies all entries of data into the context.
func (c *Context) Merge(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maps.Copy(c.values, data)
}

// Snapshot returns a copy of the current context values.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.values))
	maps.Copy(out, c.values)

	return out
}
