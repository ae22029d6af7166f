// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package routine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/platform/controlplane/runindex"
	"maestro/platform/controlplane/workflow"
)

// countingRunner records firings and signals after each one.
type countingRunner struct {
	mu    sync.Mutex
	count int
	fired chan struct{}
}

func newCountingRunner() *countingRunner {
	return &countingRunner{fired: make(chan struct{}, 100)}
}

func (r *countingRunner) Execute(_ context.Context, workItemID, _ string, _ workflow.Spec) (*runindex.Run, error) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	// Non-blocking: the stubbed sleepUntil hot-spins the loop, so a full
	// buffer must not wedge Execute and deadlock Shutdown.
	select {
	case r.fired <- struct{}{}:
	default:
	}
	return &runindex.Run{ID: "run-" + workItemID, Status: runindex.RunCompleted}, nil
}

func (r *countingRunner) firings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestInvalidCron(t *testing.T) {
	s := NewScheduler(newCountingRunner())

	_, err := s.Create("r1", "bad", Schedule{Cron: "not a cron"}, workflow.Spec{}, false)
	assert.ErrorIs(t, err, ErrInvalidCron)

	_, err = s.Create("r1", "bad tz", Schedule{Cron: "* * * * *", Timezone: "Mars/Olympus"}, workflow.Spec{}, false)
	assert.ErrorIs(t, err, ErrInvalidCron)

	// Six fields is not the supported grammar.
	_, err = s.Create("r1", "six", Schedule{Cron: "0 * * * * *"}, workflow.Spec{}, false)
	assert.ErrorIs(t, err, ErrInvalidCron)
}

func TestCronGrammar(t *testing.T) {
	s := NewScheduler(newCountingRunner())

	for _, expr := range []string{"* * * * *", "*/5 * * * *", "30 4 * * *", "0 0 1 1 0"} {
		_, err := s.Create("r-"+expr, expr, Schedule{Cron: expr}, workflow.Spec{}, false)
		assert.NoError(t, err, expr)
	}
}

func TestNextRunComputed(t *testing.T) {
	s := NewScheduler(newCountingRunner())

	routine, err := s.Create("r1", "hourly", Schedule{Cron: "0 * * * *"}, workflow.Spec{}, false)
	require.NoError(t, err)
	assert.False(t, routine.NextRun.IsZero())
	assert.True(t, routine.NextRun.After(time.Now().UTC().Add(-time.Minute)))
	assert.Zero(t, routine.NextRun.Minute())
}

func TestFiringLoop(t *testing.T) {
	runner := newCountingRunner()
	s := NewScheduler(runner)
	// Fire immediately instead of sleeping to the cron boundary.
	s.sleepUntil = func(_ time.Time, stop <-chan struct{}) bool {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}

	_, err := s.Create("r1", "every minute", Schedule{Cron: "* * * * *"}, workflow.Spec{Name: "wf"}, true)
	require.NoError(t, err)

	// Wait for at least two firings.
	for i := 0; i < 2; i++ {
		select {
		case <-runner.fired:
		case <-time.After(5 * time.Second):
			t.Fatal("routine did not fire")
		}
	}

	require.NoError(t, s.Disable("r1"))
	s.Shutdown()

	executions, err := s.Executions("r1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(executions), 2)
	assert.Equal(t, ExecutionSucceeded, executions[0].Status)
	assert.NotEmpty(t, executions[0].RunID)

	routine, err := s.Get("r1")
	require.NoError(t, err)
	assert.NotNil(t, routine.LastRun)
	assert.False(t, routine.Enabled)
}

func TestEnableDisable(t *testing.T) {
	runner := newCountingRunner()
	s := NewScheduler(runner)
	s.sleepUntil = func(_ time.Time, stop <-chan struct{}) bool {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}

	_, err := s.Create("r1", "r", Schedule{Cron: "* * * * *"}, workflow.Spec{}, false)
	require.NoError(t, err)

	// Disabled routines never fire.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runner.firings())

	require.NoError(t, s.Enable("r1"))
	select {
	case <-runner.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("enabled routine did not fire")
	}

	require.NoError(t, s.Disable("r1"))
	s.Shutdown()

	assert.ErrorIs(t, s.Enable("ghost"), ErrRoutineNotFound)
}

func TestDelete(t *testing.T) {
	s := NewScheduler(newCountingRunner())
	_, err := s.Create("r1", "r", Schedule{Cron: "* * * * *"}, workflow.Spec{}, false)
	require.NoError(t, err)

	require.NoError(t, s.Delete("r1"))
	_, err = s.Get("r1")
	assert.ErrorIs(t, err, ErrRoutineNotFound)
	assert.ErrorIs(t, s.Delete("r1"), ErrRoutineNotFound)
}
