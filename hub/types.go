// Package hub is the integration façade tying the feature manager,
// rule executor and workflow engine together with an event bus, a
// data-flow graph and a state-sync registry, so registered components
// can communicate without direct references.
package hub

import (
	"context"
	"time"
)

// Component is a registration record in the hub's registry.
type Component struct {
	ID           string
	Name         string
	Type         string
	Version      string
	Active       bool
	Capabilities []string
}

// Priority orders event delivery intent. It is informational for
// consumers; the bus itself delivers in registration order.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Event is an immutable cross-component message. Empty Targets means
// broadcast to every registered component except the source.
type Event struct {
	ID        string
	Type      string
	Source    string
	Targets   []string
	Priority  Priority
	Payload   map[string]any
	Timestamp time.Time
}

// System event types emitted by the hub itself.
const (
	EventComponentRegistered   = "ComponentRegistered"
	EventComponentUnregistered = "ComponentUnregistered"
	EventStateSynchronized     = "StateSynchronized"
	EventSystemError           = "SystemError"
)

// Handler processes an event delivered to a component.
type Handler func(ctx context.Context, event Event) error

// DeliveryResult aggregates one event dispatch. Success means at least
// one handler processed the event without an error or panic.
type DeliveryResult struct {
	EventID   string
	HandledBy []string
	Errors    []string
	Success   bool
}

// IntegrationType selects which sub-registry a logical link lives in.
type IntegrationType string

const (
	IntegrationEvent     IntegrationType = "event"
	IntegrationDataFlow  IntegrationType = "data"
	IntegrationStateSync IntegrationType = "state"
	IntegrationWorkflow  IntegrationType = "workflow"
)

// Integration is a recorded logical link between two registered
// components.
type Integration struct {
	ID        string
	Source    string
	Target    string
	Type      IntegrationType
	Config    map[string]any
	CreatedAt time.Time
}

// Health of the hub, derived from component active flags.
type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthDegraded Health = "DEGRADED"
)
