package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orchlabs/orch-core/bgworker"
	"github.com/orchlabs/orch-core/feature"
	"github.com/orchlabs/orch-core/observable"
	"github.com/orchlabs/orch-core/rules"
	"github.com/orchlabs/orch-core/workflow"
)

// Component ids the hub pre-registers for its own subsystems.
const (
	ComponentFeatureManager = "feature-manager"
	ComponentRuleExecutor   = "rule-executor"
	ComponentWorkflowEngine = "workflow-engine"
)

// Hub composes the component registry, event bus, data-flow graph and
// state-sync registry, and bootstraps the orchestration subsystems as
// pre-registered components.
type Hub struct {
	mu           sync.Mutex
	components   map[string]*Component
	integrations map[string]Integration
	handlers     map[string]map[string][]Handler
	flows        []Flow
	snapshots    map[string]map[string]any
	initialized  bool
	shutDown     bool

	features      *feature.Manager
	ownsFeatures  bool
	rules         *rules.Executor
	workflows     *workflow.Engine
	ownsWorkflows bool

	runner     *bgworker.Runner
	ownsRunner bool
	logger     *slog.Logger
	systemObs  *observable.Cell[Event]
	metrics    *counters
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithFeatureManager supplies an existing feature manager instead of
// letting Initialize construct one. The caller keeps ownership; the hub
// will not shut it down.
func WithFeatureManager(manager *feature.Manager) Option {
	return func(h *Hub) {
		h.features = manager
	}
}

// WithRuleExecutor supplies an existing rule executor.
func WithRuleExecutor(executor *rules.Executor) Option {
	return func(h *Hub) {
		h.rules = executor
	}
}

// WithWorkflowEngine supplies an existing workflow engine. The caller
// keeps ownership; the hub will not shut it down.
func WithWorkflowEngine(engine *workflow.Engine) Option {
	return func(h *Hub) {
		h.workflows = engine
	}
}

// WithRunner makes the hub schedule background work on the given
// runner instead of creating its own.
func WithRunner(runner *bgworker.Runner) Option {
	return func(h *Hub) {
		h.runner = runner
		h.ownsRunner = false
	}
}

// New creates a hub. Call Initialize before use.
func New(opts ...Option) *Hub {
	h := &Hub{
		components:   make(map[string]*Component),
		integrations: make(map[string]Integration),
		handlers:     make(map[string]map[string][]Handler),
		snapshots:    make(map[string]map[string]any),
		logger:       slog.Default(),
		systemObs:    observable.NewCell[Event](),
		metrics:      newCounters(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Initialize constructs any missing subsystems and registers them as
// components. It is idempotent.
func (h *Hub) Initialize(ctx context.Context) error {
	h.mu.Lock()

	if h.shutDown {
		h.mu.Unlock()

		return ErrHubShutDown
	}

	if h.initialized {
		h.mu.Unlock()

		return nil
	}

	if h.runner == nil {
		h.runner = bgworker.NewRunner(bgworker.WithLogger(h.logger))
		h.ownsRunner = true
	}

	if h.features == nil {
		h.features = feature.NewManager(feature.WithLogger(h.logger))
		h.ownsFeatures = true
	}

	if h.rules == nil {
		h.rules = rules.NewExecutor(rules.WithLogger(h.logger))
	}

	if h.workflows == nil {
		h.workflows = workflow.NewEngine(
			workflow.WithLogger(h.logger),
			workflow.WithRunner(h.runner),
		)
		h.ownsWorkflows = true
	}

	h.initialized = true
	h.mu.Unlock()

	core := []Component{
		{ID: ComponentFeatureManager, Name: "Feature Manager", Type: "core", Version: "1.0.0",
			Active: true, Capabilities: []string{"features", "lifecycle"}},
		{ID: ComponentRuleExecutor, Name: "Rule Executor", Type: "core", Version: "1.0.0",
			Active: true, Capabilities: []string{"rules", "evaluation"}},
		{ID: ComponentWorkflowEngine, Name: "Workflow Engine", Type: "core", Version: "1.0.0",
			Active: true, Capabilities: []string{"workflows", "state-machines"}},
	}

	for _, component := range core {
		if err := h.RegisterComponent(component); err != nil {
			return fmt.Errorf("bootstrapping %s: %w", component.ID, err)
		}
	}

	h.logger.Info("Integration hub initialized")

	return nil
}

// FeatureManager returns the hub's feature manager.
func (h *Hub) FeatureManager() *feature.Manager {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.features
}

// RuleExecutor returns the hub's rule executor.
func (h *Hub) RuleExecutor() *rules.Executor {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.rules
}

// WorkflowEngine returns the hub's workflow engine.
func (h *Hub) WorkflowEngine() *workflow.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.workflows
}

// RegisterComponent adds a component to the registry and emits a
// ComponentRegistered system event.
func (h *Hub) RegisterComponent(component Component) error {
	if component.ID == "" {
		return ErrComponentIDRequired
	}

	h.mu.Lock()

	if h.shutDown {
		h.mu.Unlock()

		return ErrHubShutDown
	}

	if _, exists := h.components[component.ID]; exists {
		h.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrDuplicateComponent, component.ID)
	}

	stored := component
	h.components[component.ID] = &stored
	h.snapshots[component.ID] = make(map[string]any)
	h.mu.Unlock()

	h.emitSystemEvent(EventComponentRegistered, component.ID, map[string]any{
		"name": component.Name,
		"type": component.Type,
	})
	h.logger.Info("Component registered", "component", component.ID, "type", component.Type)

	return nil
}

// UnregisterComponent removes a component, its handlers, its flows and
// its state snapshot, and emits a ComponentUnregistered system event.
func (h *Hub) UnregisterComponent(id string) error {
	h.mu.Lock()

	if _, exists := h.components[id]; !exists {
		h.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrComponentNotFound, id)
	}

	delete(h.components, id)
	delete(h.handlers, id)
	delete(h.snapshots, id)

	kept := h.flows[:0]

	for _, flow := range h.flows {
		if flow.Source != id && flow.Target != id {
			kept = append(kept, flow)
		}
	}

	h.flows = kept

	for integrationID, integration := range h.integrations {
		if integration.Source == id || integration.Target == id {
			delete(h.integrations, integrationID)
		}
	}
	h.mu.Unlock()

	h.emitSystemEvent(EventComponentUnregistered, id, nil)
	h.logger.Info("Component unregistered", "component", id)

	return nil
}

// GetComponent looks up a component by id.
func (h *Hub) GetComponent(id string) (Component, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	component, ok := h.components[id]
	if !ok {
		return Component{}, false
	}

	return *component, true
}

// SetComponentActive flips a component's active flag, which feeds the
// derived health.
func (h *Hub) SetComponentActive(id string, active bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	component, ok := h.components[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, id)
	}

	component.Active = active

	return nil
}

// CreateIntegration records a logical link between two registered
// components. The type selects the sub-registry: data integrations add
// a flow edge, event integrations may carry a handler in their config
// under "handler" (with an optional "eventType", default all events).
func (h *Hub) CreateIntegration(
	id, source, target string,
	integrationType IntegrationType,
	config map[string]any,
) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutDown {
		return ErrHubShutDown
	}

	if _, exists := h.integrations[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIntegration, id)
	}

	if _, exists := h.components[source]; !exists {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, source)
	}

	if _, exists := h.components[target]; !exists {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, target)
	}

	switch integrationType {
	case IntegrationEvent:
		if handler, ok := config["handler"].(Handler); ok {
			eventType := eventTypeAll
			if t, ok := config["eventType"].(string); ok && t != "" {
				eventType = t
			}

			h.subscribeLocked(target, eventType, handler)
		}
	case IntegrationDataFlow:
		h.flows = append(h.flows, flowFromConfig(id, source, target, config))
	case IntegrationStateSync, IntegrationWorkflow:
		// Recorded only; sync and workflow calls reference components
		// directly.
	default:
		return fmt.Errorf("%w: %s", ErrUnknownIntegrationType, integrationType)
	}

	h.integrations[id] = Integration{
		ID:        id,
		Source:    source,
		Target:    target,
		Type:      integrationType,
		Config:    config,
		CreatedAt: time.Now(),
	}

	h.logger.Info("Integration created",
		"integration", id, "source", source, "target", target, "type", integrationType)

	return nil
}

// ExecuteWorkflow passes through to the workflow engine and counts the
// start against the hub's metrics.
func (h *Hub) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (string, error) {
	h.mu.Lock()
	engine := h.workflows
	h.mu.Unlock()

	if engine == nil {
		return "", ErrNotInitialized
	}

	start := time.Now()

	execID, err := engine.StartWorkflow(ctx, workflowID, input)
	if err != nil {
		h.recordSystemError("executeWorkflow", err)

		return "", err
	}

	h.metrics.observe(h.metrics.workflows, "workflow", start)

	return execID, nil
}

// GetIntegrationMetrics returns a snapshot of the hub's aggregate
// counters.
func (h *Hub) GetIntegrationMetrics() IntegrationMetrics {
	h.mu.Lock()
	components := len(h.components)
	integrations := len(h.integrations)
	h.mu.Unlock()

	return IntegrationMetrics{
		Components:            components,
		Integrations:          integrations,
		EventsProcessed:       h.metrics.events.Load(),
		DataFlowsProcessed:    h.metrics.dataFlows.Load(),
		StatesSynchronized:    h.metrics.stateSyncs.Load(),
		WorkflowsExecuted:     h.metrics.workflows.Load(),
		AverageProcessingTime: h.metrics.averageProcessing(),
	}
}

// GetHealth derives the hub's health: HEALTHY iff every registered
// component is active. Processing errors alone never flip health.
func (h *Hub) GetHealth() Health {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, component := range h.components {
		if !component.Active {
			return HealthDegraded
		}
	}

	return HealthHealthy
}

// ObserveSystemEvents streams hub system events; the latest one is
// replayed to new subscribers.
func (h *Hub) ObserveSystemEvents(ctx context.Context) <-chan Event {
	return h.systemObs.Subscribe(ctx)
}

// Shutdown stops the subsystems the hub constructed, closes the system
// event stream and clears the registries.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()

	if h.shutDown {
		h.mu.Unlock()

		return
	}

	h.shutDown = true
	features := h.features
	workflows := h.workflows
	ownsFeatures := h.ownsFeatures
	ownsWorkflows := h.ownsWorkflows
	h.components = make(map[string]*Component)
	h.integrations = make(map[string]Integration)
	h.handlers = make(map[string]map[string][]Handler)
	h.flows = nil
	h.snapshots = make(map[string]map[string]any)
	h.mu.Unlock()

	// Caller-supplied subsystems outlive the hub; only the ones
	// Initialize constructed go down with it.
	if ownsWorkflows && workflows != nil {
		workflows.Shutdown(ctx)
	}

	if ownsFeatures && features != nil {
		features.Shutdown(ctx)
	}

	h.systemObs.Close()

	if h.ownsRunner && h.runner != nil {
		h.runner.Stop()
	}

	h.logger.Info("Integration hub shut down")
}

// emitSystemEvent publishes a hub-generated event on the system stream
// without dispatching it to component handlers.
func (h *Hub) emitSystemEvent(eventType, source string, payload map[string]any) {
	h.systemObs.Publish(Event{
		ID:        newEventID(),
		Type:      eventType,
		Source:    source,
		Priority:  PriorityNormal,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// recordSystemError publishes a SystemError event. Health is not
// affected.
func (h *Hub) recordSystemError(operation string, err error) {
	h.logger.Error("Hub processing error", "operation", operation, "error", err)
	h.emitSystemEvent(EventSystemError, "hub", map[string]any{
		"operation": operation,
		"error":     err.Error(),
	})
}
