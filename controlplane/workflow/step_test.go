// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/platform/controlplane/blobstore"
	"maestro/platform/controlplane/eventlog"
	"maestro/platform/controlplane/runindex"
)

// scriptedRunner fails the first n attempts, then succeeds.
type scriptedRunner struct {
	failures int
	calls    int
	result   *ActionResult
	block    time.Duration
}

func (r *scriptedRunner) Run(ctx context.Context, _ string, _ StepSpec) (*ActionResult, error) {
	r.calls++
	if r.block > 0 {
		select {
		case <-time.After(r.block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.calls <= r.failures {
		return nil, errors.New("action failed")
	}
	if r.result != nil {
		return r.result, nil
	}
	return &ActionResult{}, nil
}

func newStepExecutor(t *testing.T, runner ActionRunner) (*StepExecutor, *eventlog.Log, *[]time.Duration) {
	t.Helper()
	events, err := eventlog.New(t.TempDir())
	require.NoError(t, err)

	var slept []time.Duration
	exec := NewStepExecutor(events, runner)
	exec.sleep = func(d time.Duration) { slept = append(slept, d) }
	return exec, events, &slept
}

func eventTypes(t *testing.T, events *eventlog.Log, runID string) []eventlog.EventType {
	t.Helper()
	all, err := events.GetRunEvents(runID)
	require.NoError(t, err)
	out := make([]eventlog.EventType, 0, len(all))
	for _, ev := range all {
		out = append(out, ev.Type)
	}
	return out
}

func TestStepSuccess(t *testing.T) {
	runner := &scriptedRunner{result: &ActionResult{Artifacts: []string{"abc"}}}
	exec, events, _ := newStepExecutor(t, runner)

	result := exec.Execute(context.Background(), "run-1", StepSpec{ID: "s1", Action: Action{Type: ActionScript}})
	assert.Equal(t, runindex.StepCompleted, result.Status)
	assert.Equal(t, 1, result.Attempt)
	assert.Equal(t, []string{"abc"}, result.Artifacts)

	assert.Equal(t, []eventlog.EventType{
		eventlog.StepStarted, eventlog.StepCompleted, eventlog.ArtifactProduced,
	}, eventTypes(t, events, "run-1"))
}

func TestRetryExhaustion(t *testing.T) {
	runner := &scriptedRunner{failures: 10}
	exec, events, slept := newStepExecutor(t, runner)

	result := exec.Execute(context.Background(), "run-1", StepSpec{
		ID:          "s1",
		Action:      Action{Type: ActionScript},
		RetryPolicy: &RetryPolicy{MaxAttempts: 3, BackoffSecs: 1},
	})
	assert.Equal(t, runindex.StepFailed, result.Status)
	assert.Equal(t, 3, result.Attempt)
	assert.Equal(t, 3, runner.calls)

	// Backoff doubles per attempt: 1s then 2s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)

	all, err := events.GetRunEvents("run-1")
	require.NoError(t, err)

	var started, failed int
	var willRetry []bool
	for _, ev := range all {
		switch ev.Type {
		case eventlog.StepStarted:
			started++
		case eventlog.StepFailed:
			failed++
			willRetry = append(willRetry, ev.Payload["will_retry"].(bool))
		}
	}
	assert.Equal(t, 3, started)
	assert.Equal(t, 3, failed)
	assert.Equal(t, []bool{true, true, false}, willRetry)
}

func TestRetrySucceedsMidway(t *testing.T) {
	runner := &scriptedRunner{failures: 1}
	exec, _, slept := newStepExecutor(t, runner)

	result := exec.Execute(context.Background(), "run-1", StepSpec{
		ID:          "s1",
		Action:      Action{Type: ActionScript},
		RetryPolicy: &RetryPolicy{MaxAttempts: 3, BackoffSecs: 2},
	})
	assert.Equal(t, runindex.StepCompleted, result.Status)
	assert.Equal(t, 2, result.Attempt)
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
}

func TestStepTimeout(t *testing.T) {
	runner := &scriptedRunner{block: 500 * time.Millisecond}
	exec, _, _ := newStepExecutor(t, runner)

	result := exec.Execute(context.Background(), "run-1", StepSpec{
		ID:          "s1",
		Action:      Action{Type: ActionScript},
		TimeoutSecs: 1,
	})
	// A sub-second action under a 1s timeout completes.
	assert.Equal(t, runindex.StepCompleted, result.Status)

	runner2 := &scriptedRunner{block: 2 * time.Second}
	exec2, _, _ := newStepExecutor(t, runner2)
	result = exec2.Execute(context.Background(), "run-2", StepSpec{
		ID:          "s1",
		Action:      Action{Type: ActionScript},
		TimeoutSecs: 1,
	})
	assert.Equal(t, runindex.StepFailed, result.Status)
	assert.Contains(t, result.Error, "timed out after 1s")
}

func TestAgentTaskContract(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	events, err := eventlog.New(t.TempDir())
	require.NoError(t, err)

	runner := &AgentRunner{
		Blobs:  blobs,
		Agent:  agentFunc(func(_ context.Context, _, _, _, prompt string, _ int64) (string, int64, error) {
			return "response to " + prompt, 42, nil
		}),
		Events: events,
	}
	exec := NewStepExecutor(events, runner)

	result := exec.Execute(context.Background(), "run-1", StepSpec{
		ID:     "analyze",
		Role:   "analyst",
		Action: Action{Type: ActionAgentTask, Prompt: "summarize the incident"},
	})
	require.Equal(t, runindex.StepCompleted, result.Status)
	require.Len(t, result.Artifacts, 1)

	// The response artifact is addressable.
	data, err := blobs.Get(result.Artifacts[0])
	require.NoError(t, err)
	assert.Equal(t, "response to summarize the incident", string(data))

	assert.Equal(t, []eventlog.EventType{
		eventlog.StepStarted,
		eventlog.AgentMessage, // to_agent
		eventlog.AgentMessage, // from_agent
		eventlog.StepCompleted,
		eventlog.ArtifactProduced,
	}, eventTypes(t, events, "run-1"))

	all, err := events.GetRunEvents("run-1")
	require.NoError(t, err)
	var directions []string
	for _, ev := range all {
		if ev.Type == eventlog.AgentMessage {
			directions = append(directions, ev.Payload["direction"].(string))
			assert.NotEmpty(t, ev.Payload["content_hash"])
		}
	}
	assert.Equal(t, []string{eventlog.DirectionToAgent, eventlog.DirectionFromAgent}, directions)
}

func TestAgentTaskTokenBudget(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	events, err := eventlog.New(t.TempDir())
	require.NoError(t, err)

	var budgets []int64
	runner := &AgentRunner{
		Blobs: blobs,
		Agent: agentFunc(func(_ context.Context, _, _, _, _ string, maxTokens int64) (string, int64, error) {
			budgets = append(budgets, maxTokens)
			return "ok", 1, nil
		}),
		Events: events,
	}

	// An explicit max_tokens passes through unchanged.
	_, err = runner.Run(context.Background(), "run-1", StepSpec{
		ID:     "s1",
		Action: Action{Type: ActionAgentTask, Prompt: "p", MaxTokens: 2048},
	})
	require.NoError(t, err)

	// Without one, the budget is estimated from the prompt and is never zero.
	_, err = runner.Run(context.Background(), "run-1", StepSpec{
		ID:     "s2",
		Action: Action{Type: ActionAgentTask, Prompt: "summarize the incident"},
	})
	require.NoError(t, err)

	require.Len(t, budgets, 2)
	assert.Equal(t, int64(2048), budgets[0])
	assert.Equal(t, int64(len("summarize the incident"))/4+defaultCompletionTokens, budgets[1])
	assert.Positive(t, budgets[1])
}

func TestToolSequenceApprovalGate(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)

	newRunner := func(events *eventlog.Log, approve bool, called *[]string) *AgentRunner {
		return &AgentRunner{
			Blobs: blobs,
			Tools: toolFunc(func(_ context.Context, _, _, tool string) (string, error) {
				*called = append(*called, tool)
				return "", nil
			}),
			Approver: gateFunc(func(_ context.Context, _, _ string, _ []string) (bool, error) {
				return approve, nil
			}),
			Events: events,
		}
	}

	step := StepSpec{
		ID:               "deploy",
		RequiresApproval: true,
		Action:           Action{Type: ActionToolSequence, Tools: []string{"noop"}, Approvers: []string{"ops"}},
	}

	events, err := eventlog.New(t.TempDir())
	require.NoError(t, err)
	var ran []string
	_, err = newRunner(events, true, &ran).Run(context.Background(), "run-1", step)
	require.NoError(t, err)
	assert.Equal(t, []string{"noop"}, ran)
	assert.Equal(t, []eventlog.EventType{
		eventlog.ToolCallProposed, eventlog.ToolCallApproved, eventlog.ToolCallExecuted,
	}, eventTypes(t, events, "run-1"))

	events, err = eventlog.New(t.TempDir())
	require.NoError(t, err)
	ran = nil
	_, err = newRunner(events, false, &ran).Run(context.Background(), "run-2", step)
	assert.ErrorIs(t, err, ErrApprovalDenied)
	assert.Empty(t, ran)
	assert.Equal(t, []eventlog.EventType{
		eventlog.ToolCallProposed, eventlog.ToolCallDenied,
	}, eventTypes(t, events, "run-2"))
}

// agentFunc adapts a function to AgentCaller.
type agentFunc func(ctx context.Context, runID, stepID, role, prompt string, maxTokens int64) (string, int64, error)

func (f agentFunc) Call(ctx context.Context, runID, stepID, role, prompt string, maxTokens int64) (string, int64, error) {
	return f(ctx, runID, stepID, role, prompt, maxTokens)
}

// toolFunc adapts a function to ToolCaller.
type toolFunc func(ctx context.Context, runID, stepID, tool string) (string, error)

func (f toolFunc) CallTool(ctx context.Context, runID, stepID, tool string) (string, error) {
	return f(ctx, runID, stepID, tool)
}

// gateFunc adapts a function to ApprovalGate.
type gateFunc func(ctx context.Context, runID, stepID string, approvers []string) (bool, error)

func (f gateFunc) Await(ctx context.Context, runID, stepID string, approvers []string) (bool, error) {
	return f(ctx, runID, stepID, approvers)
}
