package hub

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
)

// eventTypeAll subscribes a handler to every event type.
const eventTypeAll = "*"

func newEventID() string {
	return uuid.NewString()
}

// Subscribe registers a handler for events of the given type delivered
// to the component. Use "*" to receive every type.
func (h *Hub) Subscribe(componentID, eventType string, handler Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.components[componentID]; !exists {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentID)
	}

	h.subscribeLocked(componentID, eventType, handler)

	return nil
}

func (h *Hub) subscribeLocked(componentID, eventType string, handler Handler) {
	byType, ok := h.handlers[componentID]
	if !ok {
		byType = make(map[string][]Handler)
		h.handlers[componentID] = byType
	}

	byType[eventType] = append(byType[eventType], handler)
}

// SendEvent dispatches an event to its declared targets, or to every
// registered component except the source when Targets is empty. Each
// handler error or panic is caught and recorded; delivery to the
// remaining targets continues. Success means at least one target
// handled the event cleanly.
func (h *Hub) SendEvent(ctx context.Context, event Event) DeliveryResult {
	start := time.Now()

	if event.ID == "" {
		event.ID = newEventID()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.Priority == "" {
		event.Priority = PriorityNormal
	}

	targets, handlers := h.resolveTargets(event)

	result := DeliveryResult{EventID: event.ID}

	for _, target := range targets {
		handled, errs := h.deliver(ctx, event, target, handlers[target])

		if handled {
			result.HandledBy = append(result.HandledBy, target)
		}

		result.Errors = append(result.Errors, errs...)
	}

	result.Success = len(result.HandledBy) > 0

	outcome := labelFailure
	if result.Success {
		outcome = labelSuccess
	}

	eventsTotal.WithLabelValues(outcome).Inc()
	h.metrics.observe(h.metrics.events, "event", start)

	h.logger.Debug("Event dispatched",
		"event", event.ID, "type", event.Type, "source", event.Source,
		"handled_by", len(result.HandledBy), "errors", len(result.Errors))

	return result
}

// resolveTargets snapshots the target ids and their handlers under the
// registry lock. Broadcast order is made deterministic by sorting ids;
// delivery across targets still carries no ordering guarantee for
// callers.
func (h *Hub) resolveTargets(event Event) ([]string, map[string][]Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var targets []string

	if len(event.Targets) > 0 {
		for _, target := range event.Targets {
			if _, exists := h.components[target]; exists {
				targets = append(targets, target)
			}
		}
	} else {
		for id := range h.components {
			if id != event.Source {
				targets = append(targets, id)
			}
		}

		sort.Strings(targets)
	}

	handlers := make(map[string][]Handler, len(targets))

	for _, target := range targets {
		byType := h.handlers[target]
		handlers[target] = append(append([]Handler(nil), byType[event.Type]...), byType[eventTypeAll]...)
	}

	return targets, handlers
}

// deliver runs every matching handler of one target. The target counts
// as having handled the event when it has at least one handler and all
// of them succeeded.
func (h *Hub) deliver(ctx context.Context, event Event, target string, handlers []Handler) (bool, []string) {
	if len(handlers) == 0 {
		return false, nil
	}

	var errs []string

	for _, handler := range handlers {
		if err := h.runHandler(ctx, event, target, handler); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", target, err))
		}
	}

	if len(errs) > 0 {
		h.recordSystemError("sendEvent", fmt.Errorf("delivery to %s: %s", target, errs[0]))

		return false, errs
	}

	return true, nil
}

func (h *Hub) runHandler(ctx context.Context, event Event, target string, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Recovered panic from event handler",
				"event", event.ID, "target", target, "panic", r, "stack", string(debug.Stack()))

			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return handler(ctx, event)
}
