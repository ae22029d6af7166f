// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func specWith(deps map[string][]string, ids ...string) Spec {
	spec := Spec{Name: "test", Dependencies: deps}
	for _, id := range ids {
		spec.Steps = append(spec.Steps, StepSpec{ID: id, Name: id, Action: Action{Type: ActionScript}})
	}
	return spec
}

func TestLinearTopologicalOrder(t *testing.T) {
	dag, err := BuildDAG(specWith(map[string][]string{
		"B": {"A"},
		"C": {"B"},
	}, "A", "B", "C"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, dag.TopologicalOrder())
	assert.Equal(t, []string{"A"}, dag.EntrySteps())
	assert.Equal(t, []string{"B"}, dag.Dependencies("C"))
}

func TestDiamondOrder(t *testing.T) {
	dag, err := BuildDAG(specWith(map[string][]string{
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
	}, "A", "B", "C", "D"))
	require.NoError(t, err)

	order := dag.TopologicalOrder()
	require.Len(t, order, 4)
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["A"], pos["B"])
	assert.Less(t, pos["A"], pos["C"])
	assert.Less(t, pos["B"], pos["D"])
	assert.Less(t, pos["C"], pos["D"])

	assert.ElementsMatch(t, []string{"B", "C"}, dag.Dependents("A"))
}

func TestUnknownStep(t *testing.T) {
	_, err := BuildDAG(specWith(map[string][]string{"B": {"ghost"}}, "A", "B"))
	var unknown *UnknownStepError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.StepID)

	_, err = BuildDAG(specWith(map[string][]string{"ghost": {"A"}}, "A"))
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.StepID)
}

func TestCircularDependency(t *testing.T) {
	_, err := BuildDAG(specWith(map[string][]string{
		"A": {"C"},
		"B": {"A"},
		"C": {"B"},
	}, "A", "B", "C"))
	assert.ErrorIs(t, err, ErrCircularDependency)

	// Self-loop is the smallest cycle.
	_, err = BuildDAG(specWith(map[string][]string{"A": {"A"}}, "A"))
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestCanExecute(t *testing.T) {
	dag, err := BuildDAG(specWith(map[string][]string{
		"C": {"A", "B"},
	}, "A", "B", "C"))
	require.NoError(t, err)

	assert.True(t, dag.CanExecute("A", nil))
	assert.False(t, dag.CanExecute("C", map[string]bool{"A": true}))
	assert.True(t, dag.CanExecute("C", map[string]bool{"A": true, "B": true}))
}

func TestEmptyWorkflow(t *testing.T) {
	dag, err := BuildDAG(Spec{Name: "empty"})
	require.NoError(t, err)
	assert.Empty(t, dag.TopologicalOrder())
}
