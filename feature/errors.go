package feature

import "errors"

var (
	// ErrFeatureNotFound marks an operation on an unknown feature id.
	ErrFeatureNotFound = errors.New("feature not found")
	// ErrDuplicateFeature marks a registration with an id already in use.
	ErrDuplicateFeature = errors.New("feature already registered")
	// ErrDependencyNotSatisfied marks an enable attempt whose
	// non-optional dependency is missing or in the wrong state.
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
	// ErrHasDependents marks an unregister attempt on a feature other
	// features still depend on non-optionally.
	ErrHasDependents = errors.New("feature has non-optional dependents")
	// ErrBlockedByRule marks an enable attempt denied by an enablement rule.
	ErrBlockedByRule = errors.New("enablement blocked by rule")
	// ErrManagerShutDown marks operations on a manager after Shutdown.
	ErrManagerShutDown = errors.New("manager is shut down")
	// ErrExecutionPanic wraps a panic recovered from a feature callback.
	ErrExecutionPanic = errors.New("feature execution panicked")
)
