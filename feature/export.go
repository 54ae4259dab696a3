package feature

import (
	"context"
	"fmt"

	errcol "github.com/orchlabs/orch-core/errors"
)

// ExportedFeature is the shallow summary Export produces per feature.
// It deliberately carries registration metadata and flags, not feature
// internals; the host persists it however it chooses.
type ExportedFeature struct {
	ID       string         `json:"id"       yaml:"id"`
	Name     string         `json:"name"     yaml:"name"`
	Category string         `json:"category" yaml:"category"`
	Version  string         `json:"version"  yaml:"version"`
	State    State          `json:"state"    yaml:"state"`
	Enabled  bool           `json:"enabled"  yaml:"enabled"`
	Settings map[string]any `json:"settings" yaml:"settings"`
}

// Export serializes a shallow summary of every registered feature keyed
// by feature id. Export/import is intentionally lossy: implementations
// are code, only their registration state round-trips.
func (m *Manager) Export() map[string]ExportedFeature {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ExportedFeature, len(m.features))

	for id, f := range m.features {
		out[id] = ExportedFeature{
			ID:       id,
			Name:     f.Name(),
			Category: f.Category(),
			Version:  f.Version(),
			State:    f.State(),
			Enabled:  f.State() == StateEnabled,
			Settings: settingsCopy(f.Config().Settings),
		}
	}

	return out
}

// Import re-applies exported enabled flags to already-registered
// features: enabled features are enabled, disabled ones disabled.
// Unknown ids are reported in the returned error; known features that
// fail to change state are reported likewise. Importing an export taken
// from the same manager never errors.
func (m *Manager) Import(ctx context.Context, exported map[string]ExportedFeature) error {
	var collection errcol.Collection

	for id, summary := range exported {
		if _, ok := m.Get(id); !ok {
			collection.Add(fmt.Errorf("%w: %s", ErrFeatureNotFound, id))

			continue
		}

		if summary.Enabled {
			if err := m.Enable(ctx, id, nil); err != nil {
				collection.Add(fmt.Errorf("import enable %s: %w", id, err))
			}

			continue
		}

		// Only flip features the export recorded as disabled; leave
		// never-enabled features in their current lifecycle state.
		if summary.State == StateDisabled {
			if err := m.Disable(ctx, id); err != nil {
				collection.Add(fmt.Errorf("import disable %s: %w", id, err))
			}
		}
	}

	return collection.GetError()
}
