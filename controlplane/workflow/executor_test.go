// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/platform/controlplane/analytics"
	"maestro/platform/controlplane/eventlog"
	"maestro/platform/controlplane/runindex"
)

// mapRunner resolves each step id to a canned outcome.
type mapRunner struct {
	failing map[string]bool
	ran     []string
}

func (r *mapRunner) Run(_ context.Context, _ string, step StepSpec) (*ActionResult, error) {
	r.ran = append(r.ran, step.ID)
	if r.failing[step.ID] {
		return nil, errors.New("step " + step.ID + " failed")
	}
	return &ActionResult{}, nil
}

func newExecutor(t *testing.T, runner ActionRunner) (*Executor, *eventlog.Log, *runindex.Store) {
	t.Helper()
	events, err := eventlog.New(t.TempDir())
	require.NoError(t, err)
	index, err := runindex.Open(filepath.Join(t.TempDir(), "index"))
	require.NoError(t, err)

	steps := NewStepExecutor(events, runner)
	steps.sleep = func(d time.Duration) {}
	return NewExecutor(index, events, steps, analytics.NewService(), nil, nil), events, index
}

func TestLinearWorkflowSuccess(t *testing.T) {
	runner := &mapRunner{}
	exec, events, index := newExecutor(t, runner)

	spec := specWith(map[string][]string{
		"B": {"A"},
		"C": {"B"},
	}, "A", "B", "C")

	run, err := exec.Execute(context.Background(), "item-1", "t1", spec)
	require.NoError(t, err)
	assert.Equal(t, runindex.RunCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, []string{"A", "B", "C"}, runner.ran)

	all, err := events.GetRunEvents(run.ID)
	require.NoError(t, err)
	var types []eventlog.EventType
	for _, ev := range all {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []eventlog.EventType{
		eventlog.RunStarted,
		eventlog.StepScheduled, eventlog.StepScheduled, eventlog.StepScheduled,
		eventlog.StepStarted, eventlog.StepCompleted,
		eventlog.StepStarted, eventlog.StepCompleted,
		eventlog.StepStarted, eventlog.StepCompleted,
		eventlog.RunCompleted,
	}, types)

	stored, err := index.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, runindex.RunCompleted, stored.Status)
	for _, step := range stored.Steps {
		assert.Equal(t, runindex.StepCompleted, step.Status)
	}
}

func TestDiamondFailureSkipsDependents(t *testing.T) {
	runner := &mapRunner{failing: map[string]bool{"C": true}}
	exec, events, index := newExecutor(t, runner)

	spec := specWith(map[string][]string{
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
	}, "A", "B", "C", "D")

	run, err := exec.Execute(context.Background(), "item-1", "t1", spec)
	require.NoError(t, err)
	assert.Equal(t, runindex.RunFailed, run.Status)
	require.NotNil(t, run.CompletedAt)

	stored, err := index.GetRun(run.ID)
	require.NoError(t, err)
	byID := make(map[string]runindex.StepExecution)
	for _, step := range stored.Steps {
		byID[step.ID] = step
	}
	assert.Equal(t, runindex.StepCompleted, byID["A"].Status)
	assert.Equal(t, runindex.StepFailed, byID["C"].Status)
	assert.Equal(t, runindex.StepSkipped, byID["D"].Status)

	all, err := events.GetRunEvents(run.ID)
	require.NoError(t, err)
	var sawSkip, sawRunFailed bool
	for _, ev := range all {
		if ev.Type == eventlog.StepSkipped {
			sawSkip = true
			assert.Equal(t, "D", ev.Payload["step_id"])
		}
		if ev.Type == eventlog.RunFailed {
			sawRunFailed = true
		}
	}
	assert.True(t, sawSkip)
	assert.True(t, sawRunFailed)
}

func TestFailureLeavesUnreachedStepsPending(t *testing.T) {
	// Two independent chains; a failure in one leaves the other's
	// unreached steps Pending, not Skipped.
	runner := &mapRunner{failing: map[string]bool{"A": true}}
	exec, _, index := newExecutor(t, runner)

	spec := specWith(map[string][]string{
		"B": {"A"},
		"Y": {"X"},
	}, "A", "B", "X", "Y")

	run, err := exec.Execute(context.Background(), "item-1", "t1", spec)
	require.NoError(t, err)
	assert.Equal(t, runindex.RunFailed, run.Status)

	stored, err := index.GetRun(run.ID)
	require.NoError(t, err)
	byID := make(map[string]runindex.StepExecution)
	for _, step := range stored.Steps {
		byID[step.ID] = step
	}
	assert.Equal(t, runindex.StepFailed, byID["A"].Status)
	assert.Equal(t, runindex.StepSkipped, byID["B"].Status)
	assert.Equal(t, runindex.StepPending, byID["Y"].Status)
}

func TestInvalidSpecFailsRun(t *testing.T) {
	exec, _, index := newExecutor(t, &mapRunner{})

	spec := specWith(map[string][]string{"A": {"A"}}, "A")
	run, err := exec.Execute(context.Background(), "item-1", "t1", spec)
	assert.ErrorIs(t, err, ErrCircularDependency)
	assert.Equal(t, runindex.RunFailed, run.Status)
	require.NotNil(t, run.CompletedAt)

	stored, err := index.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, runindex.RunFailed, stored.Status)
}

func TestCancelBeforeExecution(t *testing.T) {
	exec, events, _ := newExecutor(t, &mapRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := exec.Execute(ctx, "item-1", "t1", specWith(nil, "A"))
	require.NoError(t, err)
	assert.Equal(t, runindex.RunCancelled, run.Status)
	require.NotNil(t, run.CompletedAt)

	all, err := events.GetRunEvents(run.ID)
	require.NoError(t, err)
	sawCancelled := false
	for _, ev := range all {
		if ev.Type == eventlog.RunCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)
}

func TestCancelUnknownRun(t *testing.T) {
	exec, _, _ := newExecutor(t, &mapRunner{})
	assert.False(t, exec.Cancel("no-such-run"))
}
