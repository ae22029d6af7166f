// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import "sort"

// DAG is the dependency graph induced by a workflow spec.
type DAG struct {
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

// BuildDAG validates the spec's dependency graph and precomputes a
// topological order. Dependency ids that name no step fail with
// UnknownStepError; cycles fail with ErrCircularDependency.
func BuildDAG(spec Spec) (*DAG, error) {
	known := make(map[string]bool, len(spec.Steps))
	for _, step := range spec.Steps {
		known[step.ID] = true
	}

	deps := make(map[string][]string, len(spec.Steps))
	dependents := make(map[string][]string)
	for _, step := range spec.Steps {
		deps[step.ID] = nil
	}
	for stepID, prereqs := range spec.Dependencies {
		if !known[stepID] {
			return nil, &UnknownStepError{StepID: stepID}
		}
		for _, dep := range prereqs {
			if !known[dep] {
				return nil, &UnknownStepError{StepID: dep}
			}
			deps[stepID] = append(deps[stepID], dep)
			dependents[dep] = append(dependents[dep], stepID)
		}
	}

	// Kahn's algorithm, preferring spec order for determinism.
	indegree := make(map[string]int, len(spec.Steps))
	for id, prereqs := range deps {
		indegree[id] = len(prereqs)
	}

	order := make([]string, 0, len(spec.Steps))
	ready := make([]string, 0, len(spec.Steps))
	for _, step := range spec.Steps {
		if indegree[step.ID] == 0 {
			ready = append(ready, step.ID)
		}
	}

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(spec.Steps) {
		return nil, ErrCircularDependency
	}

	return &DAG{order: order, deps: deps, dependents: dependents}, nil
}

// TopologicalOrder lists every prerequisite before its dependents.
func (d *DAG) TopologicalOrder() []string {
	return append([]string(nil), d.order...)
}

// Dependencies returns the direct prerequisites of a step.
func (d *DAG) Dependencies(id string) []string {
	return append([]string(nil), d.deps[id]...)
}

// Dependents returns the steps directly requiring a step.
func (d *DAG) Dependents(id string) []string {
	return append([]string(nil), d.dependents[id]...)
}

// EntrySteps returns the steps with no prerequisites, in topo order.
func (d *DAG) EntrySteps() []string {
	var out []string
	for _, id := range d.order {
		if len(d.deps[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// CanExecute reports whether every prerequisite of id is in completed.
func (d *DAG) CanExecute(id string, completed map[string]bool) bool {
	for _, dep := range d.deps[id] {
		if !completed[dep] {
			return false
		}
	}
	return true
}
