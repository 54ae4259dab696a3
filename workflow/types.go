// Package workflow implements the state-machine workflow engine:
// a registry of validated workflow definitions and the live executions
// running against them on a background worker pool.
package workflow

import (
	"context"
	"time"
)

// Guard decides whether a transition may fire given the live execution
// context. A nil Guard always fires.
type Guard func(ctx context.Context, ec *Context) (bool, error)

// Action is a composable unit of work run on state entry or while
// executing a transition.
type Action interface {
	Name() string
	Execute(ctx context.Context, ec *Context) error
}

// FuncAction adapts a function to the Action interface.
type FuncAction struct {
	ActionName string
	Fn         func(ctx context.Context, ec *Context) error
}

// NewFuncAction wraps fn as a named Action.
func NewFuncAction(name string, fn func(ctx context.Context, ec *Context) error) *FuncAction {
	return &FuncAction{ActionName: name, Fn: fn}
}

func (a *FuncAction) Name() string {
	return a.ActionName
}

func (a *FuncAction) Execute(ctx context.Context, ec *Context) error {
	return a.Fn(ctx, ec)
}

// State is a named node in a workflow definition.
type State struct {
	Name string
	// Entry actions run each time the state is entered.
	Entry []Action
	// Timeout bounds how long an execution may stay in this state.
	// Zero means no per-state limit.
	Timeout time.Duration
	// Terminal states finish the execution with SUCCESS.
	Terminal bool
}

// Transition is a guarded directed edge between two states. Among the
// transitions whose guards evaluate true, the one with the numerically
// highest priority fires; equal priorities fall back to declaration
// order, which makes selection deterministic.
type Transition struct {
	From     string
	To       string
	Priority int
	Guard    Guard
	Actions  []Action
}

// Definition is a finite directed graph of states and transitions with
// exactly one initial state and at least one terminal state.
type Definition struct {
	ID           string
	Name         string
	States       []State
	Transitions  []Transition
	InitialState string
	// Timeout bounds the whole execution. Zero means no limit.
	Timeout time.Duration
}

// Outcome classifies how an execution finished.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeError     Outcome = "ERROR"
	OutcomeTimeout   Outcome = "TIMEOUT"
	OutcomeCancelled Outcome = "CANCELLED"
)

// Status is the live state of an execution.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// StatusChange is published on the engine's status stream.
type StatusChange struct {
	ExecutionID string
	WorkflowID  string
	Status      Status
	Timestamp   time.Time
}

// Result is the immutable record of a finished execution, keyed by
// execution id in the engine's result registry.
type Result struct {
	ExecutionID string
	WorkflowID  string
	Outcome     Outcome
	Error       string
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	// Progress is distinct visited states over total states, in [0,1].
	Progress    float64
	Transitions int
	Variables   map[string]any
}

// Stats aggregates finished executions of one workflow definition.
type Stats struct {
	CountsByOutcome map[Outcome]int64
	AverageDuration time.Duration
	TotalDuration   time.Duration
	Total           int64
}

// TransitionRecord is one entry in an execution's history.
type TransitionRecord struct {
	From      string
	To        string
	Timestamp time.Time
}
