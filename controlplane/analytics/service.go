// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// liveStep tracks an in-flight step attempt.
type liveStep struct {
	startedAt time.Time
}

// liveRun tracks an in-flight run.
type liveRun struct {
	workflowID string
	startedAt  time.Time
	steps      map[string]*liveStep
	durations  map[string]time.Duration
}

// Service collects timing observations and computes percentiles and
// bottlenecks on demand.
type Service struct {
	mu   sync.Mutex
	live map[string]*liveRun

	// per-step duration sequences across all runs
	stepDurations map[string][]time.Duration
	stepFailures  map[string]int

	runDurations []time.Duration
	completed    int
	failed       int
	bottlenecks  []Bottleneck

	now func() time.Time
}

// NewService creates an empty analytics collector.
func NewService() *Service {
	return &Service{
		live:          make(map[string]*liveRun),
		stepDurations: make(map[string][]time.Duration),
		stepFailures:  make(map[string]int),
		now:           time.Now,
	}
}

// StartWorkflow opens a run for observation.
func (s *Service) StartWorkflow(runID, workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live[runID] = &liveRun{
		workflowID: workflowID,
		startedAt:  s.now().UTC(),
		steps:      make(map[string]*liveStep),
		durations:  make(map[string]time.Duration),
	}
}

// StartStep marks a step attempt as started.
func (s *Service) StartStep(runID, stepID string, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.live[runID]
	if !ok {
		return
	}
	run.steps[stepID] = &liveStep{startedAt: s.now().UTC()}
}

// CompleteStep records a step's outcome and appends its duration to the
// per-step sequence.
func (s *Service) CompleteStep(runID, stepID string, success bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.live[runID]
	if !ok {
		return
	}
	step, ok := run.steps[stepID]
	if !ok {
		return
	}
	duration := s.now().UTC().Sub(step.startedAt)
	run.durations[stepID] = duration
	s.stepDurations[stepID] = append(s.stepDurations[stepID], duration)
	if !success {
		s.stepFailures[stepID]++
	}
	delete(run.steps, stepID)
}

// CompleteWorkflow closes a run, recording its duration and bottleneck.
func (s *Service) CompleteWorkflow(runID string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.live[runID]
	if !ok {
		return
	}
	delete(s.live, runID)

	duration := s.now().UTC().Sub(run.startedAt)
	s.runDurations = append(s.runDurations, duration)
	if success {
		s.completed++
	} else {
		s.failed++
	}

	var total, slowest time.Duration
	slowestID := ""
	for stepID, d := range run.durations {
		total += d
		if d > slowest || slowestID == "" {
			slowest = d
			slowestID = stepID
		}
	}
	if slowestID != "" {
		pct := 0.0
		if total > 0 {
			pct = float64(slowest) / float64(total) * 100
		}
		s.bottlenecks = append(s.bottlenecks, Bottleneck{
			RunID:             runID,
			WorkflowID:        run.workflowID,
			StepID:            slowestID,
			Duration:          slowest,
			PercentageOfTotal: pct,
		})
	}
}

// StepStats computes the aggregate view of one step.
func (s *Service) StepStats(stepID string) (StepStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	durations, ok := s.stepDurations[stepID]
	if !ok {
		return StepStats{}, false
	}
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return StepStats{
		StepID:       stepID,
		Count:        len(durations),
		Failures:     s.stepFailures[stepID],
		P50:          percentile(durations, 0.50),
		P95:          percentile(durations, 0.95),
		P99:          percentile(durations, 0.99),
		MeanDuration: sum / time.Duration(len(durations)),
	}, true
}

// AllStepStats returns stats for every observed step, sorted by id.
func (s *Service) AllStepStats() []StepStats {
	s.mu.Lock()
	ids := make([]string, 0, len(s.stepDurations))
	for id := range s.stepDurations {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]StepStats, 0, len(ids))
	for _, id := range ids {
		if stats, ok := s.StepStats(id); ok {
			out = append(out, stats)
		}
	}
	return out
}

// WorkflowStats computes the aggregate view across runs.
func (s *Service) WorkflowStats() WorkflowStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := WorkflowStats{
		TotalRuns:     s.completed + s.failed,
		CompletedRuns: s.completed,
		FailedRuns:    s.failed,
	}
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(s.completed) / float64(stats.TotalRuns)
	}
	if len(s.runDurations) > 0 {
		var sum time.Duration
		for _, d := range s.runDurations {
			sum += d
		}
		stats.MeanDuration = sum / time.Duration(len(s.runDurations))
	}
	return stats
}

// Bottlenecks returns the recorded per-run bottlenecks, newest last.
func (s *Service) Bottlenecks() []Bottleneck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Bottleneck(nil), s.bottlenecks...)
}

// BottlenecksFor returns the recorded bottlenecks of one workflow.
func (s *Service) BottlenecksFor(workflowID string) []Bottleneck {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Bottleneck, 0)
	for _, b := range s.bottlenecks {
		if b.WorkflowID == workflowID {
			out = append(out, b)
		}
	}
	return out
}

// percentile returns the value at index ceil(n·p), clamped to n−1, of
// the ascending-sorted sequence.
func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(float64(len(sorted)) * p))
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
