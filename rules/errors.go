package rules

import "errors"

var (
	// ErrEvaluationPanic wraps a panic recovered from a rule's Evaluate.
	ErrEvaluationPanic = errors.New("rule evaluation panicked")
	// ErrEvaluationTimeout marks a rule that exceeded its timeout.
	ErrEvaluationTimeout = errors.New("rule evaluation timed out")
	// ErrDependenciesNotSatisfied marks a rule auto-failed because a
	// dependency was denied.
	ErrDependenciesNotSatisfied = errors.New("dependencies not satisfied")
)
