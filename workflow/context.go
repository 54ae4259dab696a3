package workflow

import (
	"maps"
	"sync"
	"time"
)

// Context is the mutable state of a live execution. It is mutated only
// by the execution's own loop, but read concurrently by status queries,
// SendEvent and UpdateVariables, so access is mutex-guarded.
type Context struct {
	mu sync.RWMutex

	ExecutionID string
	WorkflowID  string

	currentState   string
	previousState  string
	startTime      time.Time
	lastTransition time.Time
	timeout        time.Duration

	variables map[string]any
	events    map[string]struct{}
	metadata  map[string]any
	visited   map[string]struct{}
	history   []TransitionRecord
}

// newContext creates the context for a fresh execution.
func newContext(executionID, workflowID, initialState string, timeout time.Duration, vars map[string]any) *Context {
	now := time.Now()

	ec := &Context{
		ExecutionID:    executionID,
		WorkflowID:     workflowID,
		currentState:   initialState,
		startTime:      now,
		lastTransition: now,
		timeout:        timeout,
		variables:      make(map[string]any),
		events:         make(map[string]struct{}),
		metadata:       make(map[string]any),
		visited:        map[string]struct{}{initialState: {}},
	}

	maps.Copy(ec.variables, vars)

	return ec
}

// CurrentState returns the state the execution is in.
func (c *Context) CurrentState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.currentState
}

// PreviousState returns the state before the last transition.
func (c *Context) PreviousState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.previousState
}

// StartTime returns when the execution started.
func (c *Context) StartTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.startTime
}

// advance moves the execution to the next state, recording history and
// the visit for progress tracking.
func (c *Context) advance(to string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.history = append(c.history, TransitionRecord{From: c.currentState, To: to, Timestamp: now})
	c.previousState = c.currentState
	c.currentState = to
	c.lastTransition = now
	c.visited[to] = struct{}{}
}

// timedOut reports whether the whole-execution timeout or the current
// state's timeout has elapsed.
func (c *Context) timedOut(stateTimeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()

	if c.timeout > 0 && now.Sub(c.startTime) >= c.timeout {
		return true
	}

	if stateTimeout > 0 && now.Sub(c.lastTransition) >= stateTimeout {
		return true
	}

	return false
}

// Get retrieves an execution variable.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.variables[key]

	return val, ok
}

// GetBool retrieves a boolean execution variable.
func (c *Context) GetBool(key string) (bool, bool) {
	val, ok := c.Get(key)
	if !ok {
		return false, false
	}

	b, ok := val.(bool)

	return b, ok
}

// Set stores an execution variable.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.variables[key] = value
}

// MergeVariables copies all entries of vars into the execution variables.
func (c *Context) MergeVariables(vars map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	maps.Copy(c.variables, vars)
}

// Variables returns a copy of the execution variables.
func (c *Context) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.variables))
	maps.Copy(out, c.variables)

	return out
}

// RaiseEvent records a named event on the execution so guards can match
// on it.
func (c *Context) RaiseEvent(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events[name] = struct{}{}
}

// HasEvent reports whether the named event has been raised.
func (c *Context) HasEvent(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.events[name]

	return ok
}

// ClearEvent removes a raised event, letting guards consume it.
func (c *Context) ClearEvent(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.events, name)
}

// SetMetadata stores an execution metadata entry.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metadata[key] = value
}

// Metadata returns a copy of the execution metadata.
func (c *Context) Metadata() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.metadata))
	maps.Copy(out, c.metadata)

	return out
}

// History returns a copy of the transition history.
func (c *Context) History() []TransitionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]TransitionRecord(nil), c.history...)
}

// progress computes distinct visited states over totalStates, clamped
// to [0,1].
func (c *Context) progress(totalStates int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if totalStates <= 0 {
		return 0
	}

	p := float64(len(c.visited)) / float64(totalStates)

	return min(p, 1.0)
}
