// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package analytics aggregates workflow and step timing observations
// pushed by the executors.
package analytics

import "time"

// StepStats is the aggregate view of one step across runs.
type StepStats struct {
	StepID       string        `json:"step_id"`
	Count        int           `json:"count"`
	Failures     int           `json:"failures"`
	P50          time.Duration `json:"p50"`
	P95          time.Duration `json:"p95"`
	P99          time.Duration `json:"p99"`
	MeanDuration time.Duration `json:"mean_duration"`
}

// WorkflowStats is the aggregate view across completed runs.
type WorkflowStats struct {
	TotalRuns     int           `json:"total_runs"`
	CompletedRuns int           `json:"completed_runs"`
	FailedRuns    int           `json:"failed_runs"`
	SuccessRate   float64       `json:"success_rate"`
	MeanDuration  time.Duration `json:"mean_duration"`
}

// Bottleneck names the slowest step of one run.
type Bottleneck struct {
	RunID             string        `json:"run_id"`
	WorkflowID        string        `json:"workflow_id,omitempty"`
	StepID            string        `json:"step_id"`
	Duration          time.Duration `json:"duration"`
	PercentageOfTotal float64       `json:"percentage_of_total"`
}
