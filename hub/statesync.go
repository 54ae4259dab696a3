package hub

import (
	"fmt"
	"maps"
	"time"
)

// SynchronizeState writes one key into the target component's state
// snapshot and emits a StateSynchronized system event. Writes are
// last-write-wins; there is no merge or conflict detection.
func (h *Hub) SynchronizeState(source, target, key string, value any) error {
	start := time.Now()

	h.mu.Lock()

	if _, exists := h.components[source]; !exists {
		h.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrComponentNotFound, source)
	}

	snapshot, exists := h.snapshots[target]
	if !exists {
		h.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrComponentNotFound, target)
	}

	snapshot[key] = value
	h.mu.Unlock()

	stateSyncsTotal.Inc()
	h.metrics.observe(h.metrics.stateSyncs, "state_sync", start)

	h.emitSystemEvent(EventStateSynchronized, source, map[string]any{
		"target": target,
		"key":    key,
	})

	h.logger.Debug("State synchronized", "source", source, "target", target, "key", key)

	return nil
}

// GetComponentState returns a copy of a component's state snapshot.
func (h *Hub) GetComponentState(id string) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot, exists := h.snapshots[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, id)
	}

	out := make(map[string]any, len(snapshot))
	maps.Copy(out, snapshot)

	return out, nil
}
