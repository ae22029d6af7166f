// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"maestro/platform/controlplane/analytics"
	"maestro/platform/controlplane/eventlog"
	"maestro/platform/controlplane/metrics"
	"maestro/platform/controlplane/runindex"
	"maestro/platform/shared/logger"
)

// Notifier receives run and step state transitions, typically to fan
// them out over websockets.
type Notifier interface {
	RunUpdated(run runindex.Run)
	StepUpdated(runID string, step runindex.StepExecution)
}

// Executor drives workflows to terminal runs.
type Executor struct {
	index     *runindex.Store
	events    *eventlog.Log
	steps     *StepExecutor
	analytics *analytics.Service
	registry  *metrics.Registry
	notifier  Notifier
	log       *logger.Logger

	mu      sync.Mutex
	cancels map[string]chan struct{}
}

// NewExecutor creates a workflow executor. analytics, registry and
// notifier may be nil.
func NewExecutor(index *runindex.Store, events *eventlog.Log, steps *StepExecutor, collector *analytics.Service, registry *metrics.Registry, notifier Notifier) *Executor {
	return &Executor{
		index:     index,
		events:    events,
		steps:     steps,
		analytics: collector,
		registry:  registry,
		notifier:  notifier,
		log:       logger.New("workflow-executor"),
		cancels:   make(map[string]chan struct{}),
	}
}

// Execute runs the workflow to a terminal state and returns the
// materialized run. The returned error reflects spec validation only;
// step failures surface as the run's Failed status.
func (e *Executor) Execute(ctx context.Context, workItemID, tenantID string, spec Spec) (*runindex.Run, error) {
	return e.executeRun(ctx, uuid.New().String(), workItemID, tenantID, spec)
}

// ExecuteAsync starts the run in the background and returns its id
// immediately. Progress is observable through the index and event log.
func (e *Executor) ExecuteAsync(workItemID, tenantID string, spec Spec) string {
	runID := uuid.New().String()
	go func() {
		if _, err := e.executeRun(context.Background(), runID, workItemID, tenantID, spec); err != nil {
			e.log.ErrorWithErr(tenantID, runID, "async run failed validation", err, nil)
		}
	}()
	return runID
}

func (e *Executor) executeRun(ctx context.Context, runID, workItemID, tenantID string, spec Spec) (*runindex.Run, error) {

	cancel := make(chan struct{})
	e.mu.Lock()
	e.cancels[runID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, runID)
		e.mu.Unlock()
	}()

	run := &runindex.Run{
		ID:         runID,
		WorkItemID: workItemID,
		TenantID:   tenantID,
		Status:     runindex.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	for _, step := range spec.Steps {
		run.Steps = append(run.Steps, runindex.StepExecution{
			ID:     step.ID,
			Status: runindex.StepPending,
		})
	}

	dag, err := BuildDAG(spec)
	if err != nil {
		run.Status = runindex.RunFailed
		run.Error = err.Error()
		now := time.Now().UTC()
		run.CompletedAt = &now
		if idxErr := e.index.PutRun(run); idxErr != nil {
			e.log.ErrorWithErr(tenantID, runID, "indexing failed run", idxErr, nil)
		}
		return run, err
	}

	if err := e.index.PutRun(run); err != nil {
		return nil, err
	}
	e.appendEvent(runID, eventlog.RunStarted, map[string]interface{}{
		"work_item_id": workItemID,
		"workflow":     spec.Name,
	})
	if e.analytics != nil {
		e.analytics.StartWorkflow(runID, spec.ID)
	}
	e.notifyRun(run)

	for _, step := range spec.Steps {
		e.appendEvent(runID, eventlog.StepScheduled, map[string]interface{}{"step_id": step.ID})
	}

	specsByID := make(map[string]StepSpec, len(spec.Steps))
	for _, step := range spec.Steps {
		specsByID[step.ID] = step
	}

	started := time.Now()
	completed := make(map[string]bool)
	failed := make(map[string]bool)
	runFailed := false
	failError := ""

	for _, stepID := range dag.TopologicalOrder() {
		select {
		case <-cancel:
			return e.finishCancelled(run)
		case <-ctx.Done():
			return e.finishCancelled(run)
		default:
		}

		// Transitive skip: any failed prerequisite skips this step.
		skip := false
		for _, dep := range dag.Dependencies(stepID) {
			if failed[dep] {
				skip = true
				break
			}
		}
		if skip {
			e.appendEvent(runID, eventlog.StepSkipped, map[string]interface{}{
				"step_id": stepID,
				"reason":  "dependency failed",
			})
			failed[stepID] = true
			e.setStep(run, stepID, func(s *runindex.StepExecution) {
				s.Status = runindex.StepSkipped
			})
			continue
		}

		// After a failure no new work starts; steps with no failed
		// prerequisite are never reached and stay Pending.
		if runFailed {
			continue
		}

		stepSpec := specsByID[stepID]
		stepStarted := time.Now().UTC()
		e.setStep(run, stepID, func(s *runindex.StepExecution) {
			s.Status = runindex.StepRunning
			s.StartedAt = &stepStarted
		})
		if e.analytics != nil {
			e.analytics.StartStep(runID, stepID, 1)
		}

		result := e.steps.Execute(ctx, runID, stepSpec)

		stepDone := time.Now().UTC()
		e.setStep(run, stepID, func(s *runindex.StepExecution) {
			s.Status = result.Status
			s.CompletedAt = &stepDone
			s.Attempt = result.Attempt
			s.Error = result.Error
			s.Artifacts = result.Artifacts
		})
		e.observeStep(stepID, result.Status, stepDone.Sub(stepStarted))
		if e.analytics != nil {
			e.analytics.CompleteStep(runID, stepID, result.Status == runindex.StepCompleted, result.Error)
		}

		if result.Status == runindex.StepCompleted {
			completed[stepID] = true
			continue
		}

		// Fail fast: record the failure, then finish the sweep so
		// transitive dependents are marked Skipped.
		failed[stepID] = true
		runFailed = true
		failError = result.Error
	}

	if runFailed {
		return e.finishFailed(run, failError, started)
	}
	return e.finishCompleted(run, started)
}

// Cancel flags a running run; the executor observes the flag between
// steps. In-flight step attempts run to completion.
func (e *Executor) Cancel(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancel, ok := e.cancels[runID]
	if !ok {
		return false
	}
	select {
	case <-cancel:
	default:
		close(cancel)
	}
	return true
}

func (e *Executor) finishCompleted(run *runindex.Run, started time.Time) (*runindex.Run, error) {
	duration := time.Since(started)
	e.appendEvent(run.ID, eventlog.RunCompleted, map[string]interface{}{
		"duration_secs": duration.Seconds(),
	})
	e.finalize(run, runindex.RunCompleted, "")
	if e.analytics != nil {
		e.analytics.CompleteWorkflow(run.ID, true)
	}
	e.observeRun(runindex.RunCompleted, duration)
	return run, nil
}

func (e *Executor) finishFailed(run *runindex.Run, errMsg string, started time.Time) (*runindex.Run, error) {
	duration := time.Since(started)
	e.appendEvent(run.ID, eventlog.RunFailed, map[string]interface{}{"error": errMsg})
	e.finalize(run, runindex.RunFailed, errMsg)
	if e.analytics != nil {
		e.analytics.CompleteWorkflow(run.ID, false)
	}
	e.observeRun(runindex.RunFailed, duration)
	return run, nil
}

func (e *Executor) finishCancelled(run *runindex.Run) (*runindex.Run, error) {
	e.appendEvent(run.ID, eventlog.RunCancelled, nil)
	e.finalize(run, runindex.RunCancelled, ErrCancelled.Error())
	if e.analytics != nil {
		e.analytics.CompleteWorkflow(run.ID, false)
	}
	e.observeRun(runindex.RunCancelled, 0)
	return run, nil
}

// finalize stamps the terminal state onto the in-memory run and the index.
func (e *Executor) finalize(run *runindex.Run, status runindex.RunStatus, errMsg string) {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	run.Error = errMsg

	if err := e.index.UpdateRunStatus(run.ID, func(stored *runindex.Run) {
		stored.Status = status
		stored.CompletedAt = &now
		stored.Error = errMsg
		stored.Steps = append([]runindex.StepExecution(nil), run.Steps...)
	}); err != nil {
		e.log.ErrorWithErr(run.TenantID, run.ID, "finalizing run in index", err, nil)
	}
	e.notifyRun(run)
}

// setStep mutates one step in both the in-memory run and the index.
func (e *Executor) setStep(run *runindex.Run, stepID string, fn func(*runindex.StepExecution)) {
	var updated runindex.StepExecution
	for i := range run.Steps {
		if run.Steps[i].ID == stepID {
			fn(&run.Steps[i])
			updated = run.Steps[i]
			break
		}
	}
	if err := e.index.UpdateRunStatus(run.ID, func(stored *runindex.Run) {
		for i := range stored.Steps {
			if stored.Steps[i].ID == stepID {
				stored.Steps[i] = updated
				return
			}
		}
	}); err != nil {
		e.log.ErrorWithErr(run.TenantID, run.ID, "updating step in index", err, nil)
	}
	if e.notifier != nil {
		e.notifier.StepUpdated(run.ID, updated)
	}
}

func (e *Executor) appendEvent(runID string, eventType eventlog.EventType, payload map[string]interface{}) {
	if err := e.events.Append(eventlog.NewEvent(runID, eventType, payload)); err != nil {
		e.log.ErrorWithErr("", runID, "event append failed", err, map[string]interface{}{
			"event_type": string(eventType),
		})
	}
}

func (e *Executor) notifyRun(run *runindex.Run) {
	if e.notifier != nil {
		e.notifier.RunUpdated(*run)
	}
}

func (e *Executor) observeStep(stepID string, status runindex.StepStatus, duration time.Duration) {
	if e.registry == nil {
		return
	}
	e.registry.IncCounter("workflow_steps_total", metrics.Labels{"status": string(status)}, 1)
	if status == runindex.StepCompleted {
		e.registry.Observe("workflow_step_duration_seconds", metrics.Labels{"step": stepID}, duration.Seconds())
	}
}

func (e *Executor) observeRun(status runindex.RunStatus, duration time.Duration) {
	if e.registry == nil {
		return
	}
	e.registry.IncCounter("workflow_runs_total", metrics.Labels{"status": string(status)}, 1)
	if status == runindex.RunCompleted {
		e.registry.Observe("workflow_run_duration_seconds", metrics.Labels{}, duration.Seconds())
	}
}
