package hub

import "errors"

var (
	// ErrNotInitialized marks operations on a hub before Initialize.
	ErrNotInitialized = errors.New("hub is not initialized")
	// ErrHubShutDown marks operations on a hub after Shutdown.
	ErrHubShutDown = errors.New("hub is shut down")
	// ErrComponentIDRequired marks registration with an empty id.
	ErrComponentIDRequired = errors.New("component id is required")
	// ErrDuplicateComponent marks registration of an id already in use.
	ErrDuplicateComponent = errors.New("component already registered")
	// ErrComponentNotFound marks operations on an unknown component id.
	ErrComponentNotFound = errors.New("component not found")
	// ErrDuplicateIntegration marks creation of an integration id
	// already in use.
	ErrDuplicateIntegration = errors.New("integration already exists")
	// ErrUnknownIntegrationType marks an integration type outside the
	// supported set.
	ErrUnknownIntegrationType = errors.New("unknown integration type")
	// ErrNoFlowConfigured marks processData from a component with no
	// outgoing data flow.
	ErrNoFlowConfigured = errors.New("no data flow configured for source")
	// ErrHandlerPanic wraps a panic recovered from an event handler or
	// data transform.
	ErrHandlerPanic = errors.New("handler panicked")
)
