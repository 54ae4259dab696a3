// Package graph provides dependency-graph ordering shared by the feature
// manager and the rule executor.
//
// Two algorithms are exposed: a depth-first topological sort that fails
// fast on cycles (used when a cycle is a structural fault), and Kahn's
// algorithm, which tolerates cycles by reporting their members separately
// (used when cyclic rules must still be evaluated).
package graph

import (
	"errors"
	"fmt"
)

// ErrCircularDependency is returned by Sort when the requested subset
// contains a dependency cycle.
var ErrCircularDependency = errors.New("circular dependency detected")

// visit states for the depth-first sort.
const (
	unvisited = iota
	visiting
	visited
)

// Sort returns a topological ordering of nodes such that every node
// appears after the dependencies that edges reports for it. Ordering is
// restricted to the given subset: dependencies outside nodes are ignored,
// which can produce an ordering that does not satisfy them. That is the
// caller's documented trade-off for partial-subset execution.
//
// A node re-encountered while still being visited signals a circular
// dependency and aborts the whole sort.
func Sort(nodes []string, edges func(id string) []string) ([]string, error) {
	inSubset := make(map[string]struct{}, len(nodes))
	for _, id := range nodes {
		inSubset[id] = struct{}{}
	}

	state := make(map[string]int, len(nodes))
	ordered := make([]string, 0, len(nodes))

	var visit func(id string) error

	visit = func(id string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrCircularDependency, id)
		}

		state[id] = visiting

		for _, dep := range edges(id) {
			if _, ok := inSubset[dep]; !ok {
				continue
			}

			if err := visit(dep); err != nil {
				return err
			}
		}

		state[id] = visited
		ordered = append(ordered, id)

		return nil
	}

	for _, id := range nodes {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	return ordered, nil
}

// KahnSort orders the keys of deps so that every id appears after its
// dependencies, using in-degree counting with a FIFO ready queue.
// Dependencies that are not themselves keys of deps are ignored.
//
// Ids caught in a cycle cannot be ordered; they are returned separately
// in discovery (insertion) order so the caller can decide how to handle
// them. insertion order is the iteration order of the ids slice.
func KahnSort(ids []string, deps map[string][]string) (sorted, cyclic []string) {
	inSubset := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		inSubset[id] = struct{}{}
	}

	inDegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))

	for _, id := range ids {
		inDegree[id] = 0
	}

	for _, id := range ids {
		for _, dep := range deps[id] {
			if _, ok := inSubset[dep]; !ok {
				continue
			}

			inDegree[id]++

			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string

	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted = make([]string, 0, len(ids))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) < len(ids) {
		placed := make(map[string]struct{}, len(sorted))
		for _, id := range sorted {
			placed[id] = struct{}{}
		}

		for _, id := range ids {
			if _, ok := placed[id]; !ok {
				cyclic = append(cyclic, id)
			}
		}
	}

	return sorted, cyclic
}
