package workflow

import "fmt"

// Validate checks the structural invariants of a definition: exactly one
// existing initial state, at least one terminal state, unique state
// names, and transitions that reference existing states. It cannot prove
// that every non-terminal state always has a firing transition; an
// execution that reaches a state without one finishes in ERROR rather
// than spinning.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return ErrDefinitionIDRequired
	}

	if len(d.States) == 0 {
		return ErrStateRequired
	}

	if d.InitialState == "" {
		return ErrInitialStateRequired
	}

	names := make(map[string]bool, len(d.States))
	terminals := 0

	for _, state := range d.States {
		if state.Name == "" {
			return ErrStateNameRequired
		}

		if names[state.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateStateName, state.Name)
		}

		names[state.Name] = true

		if state.Terminal {
			terminals++
		}
	}

	if !names[d.InitialState] {
		return fmt.Errorf("%w: %s", ErrInitialStateNotFound, d.InitialState)
	}

	if terminals == 0 {
		return ErrTerminalStateRequired
	}

	for i, transition := range d.Transitions {
		if transition.From == "" {
			return fmt.Errorf("transition %d: %w", i, ErrTransitionFromRequired)
		}

		if transition.To == "" {
			return fmt.Errorf("transition %d: %w", i, ErrTransitionToRequired)
		}

		if !names[transition.From] {
			return fmt.Errorf("transition %d: %w: %s", i, ErrTransitionFromNotFound, transition.From)
		}

		if !names[transition.To] {
			return fmt.Errorf("transition %d: %w: %s", i, ErrTransitionToNotFound, transition.To)
		}
	}

	return nil
}

// state looks up a state by name.
func (d *Definition) state(name string) (State, bool) {
	for _, state := range d.States {
		if state.Name == name {
			return state, true
		}
	}

	return State{}, false
}

// transitionsFrom returns the transitions leaving the named state in
// declaration order.
func (d *Definition) transitionsFrom(name string) []Transition {
	var out []Transition

	for _, transition := range d.Transitions {
		if transition.From == name {
			out = append(out, transition)
		}
	}

	return out
}
