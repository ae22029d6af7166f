// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
	"time"

	"maestro/platform/controlplane/eventlog"
	"maestro/platform/controlplane/runindex"
	"maestro/platform/shared/logger"
)

// ActionResult is what a successful action attempt produced.
type ActionResult struct {
	Artifacts []string
	Output    map[string]interface{}
}

// ActionRunner executes one attempt of a step's action. Implementations
// emit their own action-specific events (agent messages, tool calls).
type ActionRunner interface {
	Run(ctx context.Context, runID string, step StepSpec) (*ActionResult, error)
}

// StepResult is the terminal outcome of a step across all attempts.
type StepResult struct {
	Status    runindex.StepStatus
	Attempt   int
	Artifacts []string
	Error     string
}

// StepExecutor drives one step to a terminal status, handling timeout,
// retry backoff and event emission.
type StepExecutor struct {
	events *eventlog.Log
	runner ActionRunner
	log    *logger.Logger

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewStepExecutor creates a step executor over the given action runner.
func NewStepExecutor(events *eventlog.Log, runner ActionRunner) *StepExecutor {
	return &StepExecutor{
		events: events,
		runner: runner,
		log:    logger.New("step-executor"),
		sleep:  time.Sleep,
	}
}

// Execute runs the step until it completes, exhausts its retry policy, or
// the context is cancelled. Retries back off at backoff_secs · 2^(attempt−1).
func (e *StepExecutor) Execute(ctx context.Context, runID string, step StepSpec) StepResult {
	maxAttempts := 1
	backoff := time.Duration(0)
	if step.RetryPolicy != nil && step.RetryPolicy.MaxAttempts > 0 {
		maxAttempts = step.RetryPolicy.MaxAttempts
		backoff = time.Duration(step.RetryPolicy.BackoffSecs) * time.Second
	}

	for attempt := 1; ; attempt++ {
		e.appendEvent(runID, eventlog.StepStarted, map[string]interface{}{
			"step_id": step.ID,
			"attempt": attempt,
		})

		started := time.Now()
		result, err := e.runAttempt(ctx, runID, step)
		if err == nil {
			duration := time.Since(started)
			e.appendEvent(runID, eventlog.StepCompleted, map[string]interface{}{
				"step_id":       step.ID,
				"attempt":       attempt,
				"duration_secs": duration.Seconds(),
			})
			for _, hash := range result.Artifacts {
				e.appendEvent(runID, eventlog.ArtifactProduced, map[string]interface{}{
					"step_id":      step.ID,
					"content_hash": hash,
				})
			}
			return StepResult{
				Status:    runindex.StepCompleted,
				Attempt:   attempt,
				Artifacts: result.Artifacts,
			}
		}

		willRetry := attempt < maxAttempts
		e.appendEvent(runID, eventlog.StepFailed, map[string]interface{}{
			"step_id":    step.ID,
			"attempt":    attempt,
			"error":      err.Error(),
			"will_retry": willRetry,
		})
		if !willRetry {
			return StepResult{
				Status:  runindex.StepFailed,
				Attempt: attempt,
				Error:   err.Error(),
			}
		}

		// Exponential backoff: backoff_secs · 2^(attempt−1).
		wait := backoff * (1 << (attempt - 1))
		e.log.Warn("", runID, "step attempt failed, retrying", map[string]interface{}{
			"step_id": step.ID,
			"attempt": attempt,
			"backoff": wait.String(),
		})
		e.sleep(wait)

		select {
		case <-ctx.Done():
			return StepResult{
				Status:  runindex.StepFailed,
				Attempt: attempt,
				Error:   ErrCancelled.Error(),
			}
		default:
		}
	}
}

// runAttempt runs one attempt under the step's timeout, if set.
func (e *StepExecutor) runAttempt(ctx context.Context, runID string, step StepSpec) (*ActionResult, error) {
	if step.TimeoutSecs <= 0 {
		return e.runner.Run(ctx, runID, step)
	}

	timeout := time.Duration(step.TimeoutSecs) * time.Second
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *ActionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.runner.Run(attemptCtx, runID, step)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Secs: step.TimeoutSecs}
		}
		return nil, attemptCtx.Err()
	}
}

func (e *StepExecutor) appendEvent(runID string, eventType eventlog.EventType, payload map[string]interface{}) {
	if err := e.events.Append(eventlog.NewEvent(runID, eventType, payload)); err != nil {
		e.log.ErrorWithErr("", runID, "event append failed", err, map[string]interface{}{
			"event_type": string(eventType),
		})
	}
}

// AgentRunner is the default action runner: agent tasks go through the
// capacity broker with blob-addressed prompts and responses; tool, script
// and approval actions delegate to pluggable hooks.
type AgentRunner struct {
	Blobs    BlobStore
	Agent    AgentCaller
	Tools    ToolCaller
	Scripts  ScriptCaller
	Approver ApprovalGate
	Events   *eventlog.Log
}

// BlobStore is the content-addressed store the runner writes prompts,
// responses and artifacts into.
type BlobStore interface {
	Put(data []byte) (string, error)
}

// AgentCaller places an agent prompt and returns the response text plus
// token usage. maxTokens is the completion budget the caller books
// against capacity windows before the upstream call.
type AgentCaller interface {
	Call(ctx context.Context, runID, stepID, role, prompt string, maxTokens int64) (response string, tokens int64, err error)
}

// ToolCaller executes one named tool.
type ToolCaller interface {
	CallTool(ctx context.Context, runID, stepID, tool string) (output string, err error)
}

// ScriptCaller executes a script action's command.
type ScriptCaller interface {
	RunScript(ctx context.Context, command string, args []string) (output string, err error)
}

// ApprovalGate blocks a manual-approval action until a decision exists.
type ApprovalGate interface {
	Await(ctx context.Context, runID, stepID string, approvers []string) (approved bool, err error)
}

// Run dispatches on the action variant.
func (r *AgentRunner) Run(ctx context.Context, runID string, step StepSpec) (*ActionResult, error) {
	switch step.Action.Type {
	case ActionAgentTask:
		return r.runAgentTask(ctx, runID, step)
	case ActionToolSequence:
		return r.runToolSequence(ctx, runID, step)
	case ActionManualApproval:
		return r.runManualApproval(ctx, runID, step)
	case ActionScript:
		return r.runScript(ctx, runID, step)
	default:
		return nil, fmt.Errorf("unknown action type %q", step.Action.Type)
	}
}

func (r *AgentRunner) runAgentTask(ctx context.Context, runID string, step StepSpec) (*ActionResult, error) {
	promptHash, err := r.Blobs.Put([]byte(step.Action.Prompt))
	if err != nil {
		return nil, fmt.Errorf("storing prompt: %w", err)
	}
	r.emit(runID, eventlog.AgentMessage, map[string]interface{}{
		"step_id":      step.ID,
		"direction":    eventlog.DirectionToAgent,
		"content_hash": promptHash,
	})

	response, tokens, err := r.Agent.Call(ctx, runID, step.ID, step.Role, step.Action.Prompt, tokenBudget(step.Action))
	if err != nil {
		return nil, err
	}

	responseHash, err := r.Blobs.Put([]byte(response))
	if err != nil {
		return nil, fmt.Errorf("storing response: %w", err)
	}
	r.emit(runID, eventlog.AgentMessage, map[string]interface{}{
		"step_id":      step.ID,
		"direction":    eventlog.DirectionFromAgent,
		"content_hash": responseHash,
		"tokens":       tokens,
	})

	return &ActionResult{
		Artifacts: []string{responseHash},
		Output:    map[string]interface{}{"response_hash": responseHash, "tokens": tokens},
	}, nil
}

// defaultCompletionTokens is the completion budget assumed when an agent
// task sets no max_tokens.
const defaultCompletionTokens int64 = 1024

// tokenBudget sizes the capacity reservation for an agent task: the
// explicit max_tokens, or a ~4-bytes-per-token prompt estimate plus the
// default completion budget.
func tokenBudget(action Action) int64 {
	if action.MaxTokens > 0 {
		return action.MaxTokens
	}
	return int64(len(action.Prompt))/4 + defaultCompletionTokens
}

// runToolSequence executes each tool in order. Steps marked
// requires_approval gate every tool call behind the approval hook.
func (r *AgentRunner) runToolSequence(ctx context.Context, runID string, step StepSpec) (*ActionResult, error) {
	var artifacts []string
	for _, tool := range step.Action.Tools {
		r.emit(runID, eventlog.ToolCallProposed, map[string]interface{}{
			"step_id": step.ID,
			"tool":    tool,
		})
		if step.RequiresApproval && r.Approver != nil {
			approved, err := r.Approver.Await(ctx, runID, step.ID, step.Action.Approvers)
			if err != nil {
				return nil, err
			}
			if !approved {
				r.emit(runID, eventlog.ToolCallDenied, map[string]interface{}{
					"step_id": step.ID,
					"tool":    tool,
				})
				return nil, ErrApprovalDenied
			}
			r.emit(runID, eventlog.ToolCallApproved, map[string]interface{}{
				"step_id": step.ID,
				"tool":    tool,
			})
		}
		output, err := r.Tools.CallTool(ctx, runID, step.ID, tool)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool, err)
		}
		r.emit(runID, eventlog.ToolCallExecuted, map[string]interface{}{
			"step_id": step.ID,
			"tool":    tool,
		})
		if output != "" {
			hash, err := r.Blobs.Put([]byte(output))
			if err != nil {
				return nil, fmt.Errorf("storing tool output: %w", err)
			}
			artifacts = append(artifacts, hash)
		}
	}
	return &ActionResult{Artifacts: artifacts}, nil
}

func (r *AgentRunner) runManualApproval(ctx context.Context, runID string, step StepSpec) (*ActionResult, error) {
	r.emit(runID, eventlog.ApprovalRequested, map[string]interface{}{
		"step_id":   step.ID,
		"approvers": step.Action.Approvers,
	})
	approved, err := r.Approver.Await(ctx, runID, step.ID, step.Action.Approvers)
	if err != nil {
		return nil, err
	}
	if !approved {
		r.emit(runID, eventlog.ApprovalRejected, map[string]interface{}{"step_id": step.ID})
		return nil, ErrApprovalDenied
	}
	r.emit(runID, eventlog.ApprovalGranted, map[string]interface{}{"step_id": step.ID})
	return &ActionResult{}, nil
}

func (r *AgentRunner) runScript(ctx context.Context, runID string, step StepSpec) (*ActionResult, error) {
	output, err := r.Scripts.RunScript(ctx, step.Action.Command, step.Action.Args)
	if err != nil {
		return nil, err
	}
	var artifacts []string
	if output != "" {
		hash, err := r.Blobs.Put([]byte(output))
		if err != nil {
			return nil, fmt.Errorf("storing script output: %w", err)
		}
		artifacts = append(artifacts, hash)
	}
	return &ActionResult{Artifacts: artifacts}, nil
}

func (r *AgentRunner) emit(runID string, eventType eventlog.EventType, payload map[string]interface{}) {
	if r.Events == nil {
		return
	}
	_ = r.Events.Append(eventlog.NewEvent(runID, eventType, payload))
}
