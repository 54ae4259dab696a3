package workflow

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const expectedExpressionParts = 2

// DefinitionConfig is the YAML shape of a workflow definition. Entry
// actions and transition actions cannot be declared in YAML; they are
// attached programmatically via an ActionRegistry.
type DefinitionConfig struct {
	ID           string             `json:"id"           yaml:"id"`
	Name         string             `json:"name"         yaml:"name"`
	InitialState string             `json:"initialState" yaml:"initialState"`
	Timeout      string             `json:"timeout"      yaml:"timeout"`
	States       []StateConfig      `json:"states"       yaml:"states"`
	Transitions  []TransitionConfig `json:"transitions"  yaml:"transitions"`
}

// StateConfig is the YAML shape of a state.
type StateConfig struct {
	Name     string   `json:"name"     yaml:"name"`
	Terminal bool     `json:"terminal" yaml:"terminal"`
	Timeout  string   `json:"timeout"  yaml:"timeout"`
	Entry    []string `json:"entry"    yaml:"entry"`
}

// TransitionConfig is the YAML shape of a transition. Guard is an
// expression or "always".
type TransitionConfig struct {
	From     string   `json:"from"     yaml:"from"`
	To       string   `json:"to"       yaml:"to"`
	Guard    string   `json:"guard"    yaml:"guard"`
	Priority int      `json:"priority" yaml:"priority"`
	Actions  []string `json:"actions"  yaml:"actions"`
}

// ActionRegistry resolves action names referenced by a YAML definition
// to Action implementations.
type ActionRegistry map[string]Action

// LoadDefinition parses a workflow definition from YAML bytes, binding
// named actions from the registry. Unknown action names fail fast.
func LoadDefinition(data []byte, actions ActionRegistry) (*Definition, error) {
	var config DefinitionConfig

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return config.toDefinition(actions)
}

// LoadDefinitionFromFile reads and parses a workflow definition from a
// YAML file.
func LoadDefinitionFromFile(path string, actions ActionRegistry) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %q: %w", path, err)
	}

	return LoadDefinition(data, actions)
}

// LoadDefinitionFromFS reads and parses a workflow definition from an
// embedded filesystem.
func LoadDefinitionFromFS(fsys fs.FS, path string, actions ActionRegistry) (*Definition, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition from FS: %w", err)
	}

	return LoadDefinition(data, actions)
}

func (c *DefinitionConfig) toDefinition(actions ActionRegistry) (*Definition, error) {
	timeout, err := parseDuration(c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("definition %s: %w", c.ID, err)
	}

	def := &Definition{
		ID:           c.ID,
		Name:         c.Name,
		InitialState: c.InitialState,
		Timeout:      timeout,
	}

	for _, sc := range c.States {
		stateTimeout, err := parseDuration(sc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("state %s: %w", sc.Name, err)
		}

		entry, err := resolveActions(sc.Entry, actions)
		if err != nil {
			return nil, fmt.Errorf("state %s: %w", sc.Name, err)
		}

		def.States = append(def.States, State{
			Name:     sc.Name,
			Terminal: sc.Terminal,
			Timeout:  stateTimeout,
			Entry:    entry,
		})
	}

	for i, tc := range c.Transitions {
		guard, err := compileGuard(tc.Guard)
		if err != nil {
			return nil, fmt.Errorf("transition %d: %w", i, err)
		}

		transitionActions, err := resolveActions(tc.Actions, actions)
		if err != nil {
			return nil, fmt.Errorf("transition %d: %w", i, err)
		}

		def.Transitions = append(def.Transitions, Transition{
			From:     tc.From,
			To:       tc.To,
			Priority: tc.Priority,
			Guard:    guard,
			Actions:  transitionActions,
		})
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}

func resolveActions(names []string, actions ActionRegistry) ([]Action, error) {
	var out []Action

	for _, name := range names {
		action, ok := actions[name]
		if !ok {
			return nil, fmt.Errorf("unknown action %q", name)
		}

		out = append(out, action)
	}

	return out, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	return d, nil
}

// compileGuard turns a YAML guard expression into a Guard function.
// Empty and "always" guards always fire. Expressions are validated
// lazily at evaluation time since values are only known then.
func compileGuard(expr string) (Guard, error) {
	expr = strings.TrimSpace(expr)

	if expr == "" || expr == "always" {
		return nil, nil
	}

	return func(_ context.Context, ec *Context) (bool, error) {
		return evaluateExpression(expr, ec)
	}, nil
}

// evaluateExpression evaluates simple guard expressions against the
// execution context. Supported forms:
//
//	vars.key == 'value'
//	vars.key != 'value'
//	vars.key          (boolean variable)
//	!vars.key         (negated boolean variable)
//	event.name        (raised event check)
func evaluateExpression(expr string, ec *Context) (bool, error) {
	expr = strings.TrimSpace(expr)

	if strings.Contains(expr, "==") {
		parts := strings.Split(expr, "==")
		if len(parts) != expectedExpressionParts {
			return false, fmt.Errorf("%w: %s", ErrInvalidExpression, expr)
		}

		key, ok := strings.CutPrefix(strings.TrimSpace(parts[0]), "vars.")
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnsupportedExpression, expr)
		}

		right := strings.Trim(strings.TrimSpace(parts[1]), "'\"")

		value, exists := ec.Get(key)
		if !exists {
			return false, nil
		}

		return fmt.Sprintf("%v", value) == right, nil
	}

	if strings.Contains(expr, "!=") {
		parts := strings.Split(expr, "!=")
		if len(parts) != expectedExpressionParts {
			return false, fmt.Errorf("%w: %s", ErrInvalidExpression, expr)
		}

		key, ok := strings.CutPrefix(strings.TrimSpace(parts[0]), "vars.")
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnsupportedExpression, expr)
		}

		right := strings.Trim(strings.TrimSpace(parts[1]), "'\"")

		value, exists := ec.Get(key)
		if !exists {
			return true, nil
		}

		return fmt.Sprintf("%v", value) != right, nil
	}

	if key, ok := strings.CutPrefix(expr, "event."); ok {
		return ec.HasEvent(key), nil
	}

	if key, ok := strings.CutPrefix(expr, "!vars."); ok {
		value, exists := ec.GetBool(key)
		if !exists {
			return true, nil
		}

		return !value, nil
	}

	if key, ok := strings.CutPrefix(expr, "vars."); ok {
		value, exists := ec.GetBool(key)
		if !exists {
			return false, nil
		}

		return value, nil
	}

	return false, fmt.Errorf("%w: %s", ErrUnsupportedExpression, expr)
}
