package hub

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"
)

// FlowDirection constrains which way payloads may travel along a flow.
type FlowDirection string

const (
	DirectionForward       FlowDirection = "forward"
	DirectionBidirectional FlowDirection = "bidirectional"
)

// Transform mutates a payload as it travels along a flow edge.
type Transform func(ctx context.Context, data map[string]any) (map[string]any, error)

// Flow is a directed (or bidirectional) data edge between two
// registered components.
type Flow struct {
	ID         string
	Source     string
	Target     string
	Direction  FlowDirection
	Priority   int
	Transforms []Transform
}

// flowFromConfig builds a flow edge from an integration config.
// Recognized keys: "direction" (FlowDirection or string), "priority"
// (int) and "transforms" ([]Transform or Transform).
func flowFromConfig(id, source, target string, config map[string]any) Flow {
	flow := Flow{
		ID:        id,
		Source:    source,
		Target:    target,
		Direction: DirectionForward,
	}

	switch direction := config["direction"].(type) {
	case FlowDirection:
		flow.Direction = direction
	case string:
		if direction == string(DirectionBidirectional) {
			flow.Direction = DirectionBidirectional
		}
	}

	if priority, ok := config["priority"].(int); ok {
		flow.Priority = priority
	}

	switch transforms := config["transforms"].(type) {
	case []Transform:
		flow.Transforms = transforms
	case Transform:
		flow.Transforms = []Transform{transforms}
	}

	return flow
}

// FlowResult is the outcome of one processData call: the transformed
// payload delivered to each reached component.
type FlowResult struct {
	Source  string
	Outputs map[string]map[string]any
	Visited int
}

// ProcessData walks the data-flow graph breadth-first from source,
// honoring flow directions, applying each edge's transform pipeline and
// recording the payload delivered to each reached component. A source
// with no usable outgoing flow is a failure, never a silent no-op.
func (h *Hub) ProcessData(ctx context.Context, source string, data map[string]any) (FlowResult, error) {
	start := time.Now()

	h.mu.Lock()

	if _, exists := h.components[source]; !exists {
		h.mu.Unlock()
		dataFlowsTotal.WithLabelValues(labelFailure).Inc()

		return FlowResult{}, fmt.Errorf("%w: %s", ErrComponentNotFound, source)
	}

	flows := append([]Flow(nil), h.flows...)
	h.mu.Unlock()

	// Higher-priority flows are walked first so their transforms win
	// when two paths reach the same component.
	sort.SliceStable(flows, func(i, j int) bool {
		return flows[i].Priority > flows[j].Priority
	})

	result := FlowResult{Source: source, Outputs: make(map[string]map[string]any)}
	visited := map[string]bool{source: true}

	type hop struct {
		component string
		payload   map[string]any
	}

	queue := []hop{{component: source, payload: data}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, flow := range flows {
			next, ok := flow.next(current.component)
			if !ok || visited[next] {
				continue
			}

			payload, err := h.applyTransforms(ctx, flow, current.payload)
			if err != nil {
				h.recordSystemError("processData", fmt.Errorf("flow %s: %w", flow.ID, err))
				dataFlowsTotal.WithLabelValues(labelFailure).Inc()

				return result, fmt.Errorf("flow %s: %w", flow.ID, err)
			}

			visited[next] = true
			result.Outputs[next] = payload
			queue = append(queue, hop{component: next, payload: payload})
		}
	}

	result.Visited = len(result.Outputs)

	if result.Visited == 0 {
		dataFlowsTotal.WithLabelValues(labelFailure).Inc()

		return result, fmt.Errorf("%w: %s", ErrNoFlowConfigured, source)
	}

	dataFlowsTotal.WithLabelValues(labelSuccess).Inc()
	h.metrics.observe(h.metrics.dataFlows, "data_flow", start)

	return result, nil
}

// next returns the component reached from the given end of the flow,
// honoring its direction.
func (f Flow) next(from string) (string, bool) {
	if f.Source == from {
		return f.Target, true
	}

	if f.Direction == DirectionBidirectional && f.Target == from {
		return f.Source, true
	}

	return "", false
}

func (h *Hub) applyTransforms(ctx context.Context, flow Flow, data map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Recovered panic from transform",
				"flow", flow.ID, "panic", r, "stack", string(debug.Stack()))

			out = nil
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	// Copy so upstream hops never see downstream mutations.
	out = make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}

	for _, transform := range flow.Transforms {
		out, err = transform(ctx, out)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}
