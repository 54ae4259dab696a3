// Package feature implements the feature lifecycle manager: a registry
// of pluggable optional capabilities with dependency-aware enablement,
// execution statistics and observable state.
package feature

import (
	"context"
	"time"
)

// State is a feature's lifecycle state.
type State string

const (
	StateUninitialized        State = "UNINITIALIZED"
	StateInitializing         State = "INITIALIZING"
	StateReady                State = "READY"
	StateEnabling             State = "ENABLING"
	StateEnabled              State = "ENABLED"
	StateDisabling            State = "DISABLING"
	StateDisabled             State = "DISABLED"
	StateError                State = "ERROR"
	StateDependencyMissing    State = "DEPENDENCY_MISSING"
	StateConfigurationInvalid State = "CONFIGURATION_INVALID"
)

// Dependency declares that a feature needs another feature to be present
// in a given state before it can be enabled.
type Dependency struct {
	FeatureID     string
	MinVersion    string
	RequiredState State
	// Optional dependencies do not block enablement and do not block
	// unregistration of their target.
	Optional bool
}

// Config carries per-feature execution settings.
type Config struct {
	Timeout          time.Duration
	RetryCount       int
	EnabledByDefault bool
	Settings         map[string]any
}

// Event is delivered to features through HandleEvent.
type Event struct {
	ID        string
	Type      string
	Source    string
	Payload   map[string]any
	Timestamp time.Time
}

// Result is the structured outcome of a feature execution.
type Result struct {
	FeatureID string
	Success   bool
	Data      map[string]any
	Errors    []string
	Duration  time.Duration
}

// Feature is a pluggable optional capability. Implementations are
// supplied by the host application; the manager owns them for their
// registered lifetime and guarantees that nothing they return or panic
// with propagates past its boundary.
type Feature interface {
	ID() string
	Name() string
	Category() string
	Version() string
	Dependencies() []Dependency
	Config() Config
	Enabled() bool
	State() State
	SetState(state State)

	Initialize(ctx context.Context) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
	Cleanup(ctx context.Context) error
	Validate() error
	HandleEvent(ctx context.Context, event Event) error
}

// Base provides attribute storage and no-op lifecycle methods so concrete
// features only override what they need. Not safe for concurrent
// mutation; the manager serializes lifecycle calls per feature.
type Base struct {
	FeatureID       string
	FeatureName     string
	FeatureCategory string
	FeatureVersion  string
	Deps            []Dependency
	Conf            Config

	state   State
	enabled bool
}

// NewBase creates a Base in the UNINITIALIZED state.
func NewBase(id, name, category string) *Base {
	return &Base{
		FeatureID:       id,
		FeatureName:     name,
		FeatureCategory: category,
		FeatureVersion:  "1.0.0",
		state:           StateUninitialized,
	}
}

func (b *Base) ID() string                 { return b.FeatureID }
func (b *Base) Name() string               { return b.FeatureName }
func (b *Base) Category() string           { return b.FeatureCategory }
func (b *Base) Version() string            { return b.FeatureVersion }
func (b *Base) Dependencies() []Dependency { return b.Deps }
func (b *Base) Config() Config             { return b.Conf }
func (b *Base) Enabled() bool              { return b.enabled }
func (b *Base) State() State               { return b.state }
func (b *Base) SetState(state State)       { b.state = state }

func (b *Base) Initialize(context.Context) error { return nil }

func (b *Base) Enable(context.Context) error {
	b.enabled = true

	return nil
}

func (b *Base) Disable(context.Context) error {
	b.enabled = false

	return nil
}

func (b *Base) Execute(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func (b *Base) Cleanup(context.Context) error { return nil }

func (b *Base) Validate() error { return nil }

func (b *Base) HandleEvent(context.Context, Event) error { return nil }

// StateChange is published on the manager's state stream whenever a
// feature's lifecycle state changes.
type StateChange struct {
	FeatureID string
	From      State
	To        State
	Timestamp time.Time
}

// Status is the manager's aggregate view, published on the state stream
// alongside individual changes via Manager.Status.
type Status struct {
	Total           int
	CountsByState   map[State]int
	EnabledFeatures []string
}
