package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound marks operations on an unknown workflow id.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrExecutionNotFound marks operations on an unknown execution id.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrDuplicateWorkflow marks registration of an id already in use.
	ErrDuplicateWorkflow = errors.New("workflow already registered")
	// ErrEngineShutDown marks operations on an engine after Shutdown.
	ErrEngineShutDown = errors.New("engine is shut down")
	// ErrNotPaused marks a Resume on an execution that is not paused.
	ErrNotPaused = errors.New("execution is not paused")
	// ErrStateNotFound marks a running execution referencing a state the
	// definition does not contain.
	ErrStateNotFound = errors.New("state not found")

	// ErrNoValidTransitions finishes an execution stuck in a
	// non-terminal state with no true-guard transitions.
	ErrNoValidTransitions = errors.New("no valid transitions found")
	// ErrTransitionFailed finishes an execution whose transition
	// actions errored.
	ErrTransitionFailed = errors.New("transition execution failed")
	// ErrEntryActionFailed finishes an execution whose state entry
	// actions errored.
	ErrEntryActionFailed = errors.New("state entry actions failed")
	// ErrActionPanic wraps a panic recovered from an action or guard.
	ErrActionPanic = errors.New("workflow action panicked")

	// Definition validation errors.
	ErrDefinitionIDRequired      = errors.New("definition id is required")
	ErrInitialStateRequired      = errors.New("initial state is required")
	ErrInitialStateNotFound      = errors.New("initial state does not exist")
	ErrTerminalStateRequired     = errors.New("at least one terminal state is required")
	ErrStateRequired             = errors.New("at least one state is required")
	ErrStateNameRequired         = errors.New("state name is required")
	ErrDuplicateStateName        = errors.New("duplicate state name")
	ErrTransitionFromRequired    = errors.New("transition from state is required")
	ErrTransitionToRequired      = errors.New("transition to state is required")
	ErrTransitionFromNotFound    = errors.New("transition from state does not exist")
	ErrTransitionToNotFound      = errors.New("transition to state does not exist")
	ErrInvalidExpression         = errors.New("invalid guard expression")
	ErrUnsupportedExpression     = errors.New("unsupported guard expression")
)

// StateError wraps an error with the state it occurred in.
type StateError struct {
	State string
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// TransitionError wraps an error with the transition it occurred on.
type TransitionError struct {
	From string
	To   string
	Err  error
}

func (e *TransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("transition from %s: %v", e.From, e.Err)
	}

	return fmt.Sprintf("transition %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// WrapStateError attaches state context to an error.
func WrapStateError(state string, err error) error {
	if err == nil {
		return nil
	}

	return &StateError{State: state, Err: err}
}

// WrapTransitionError attaches transition context to an error.
func WrapTransitionError(from, to string, err error) error {
	if err == nil {
		return nil
	}

	return &TransitionError{From: from, To: to, Err: err}
}
