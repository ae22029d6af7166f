// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package runindex stores the materialized run records that back the runs
// API. The index is the source of truth for run status; the event log holds
// the full history.
package runindex

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StepStatus is the lifecycle state of one step within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepExecution records one step's progress inside a run.
type StepExecution struct {
	ID          string     `json:"id"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Attempt     int        `json:"attempt"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
}

// Run is one materialized workflow execution. CompletedAt is set exactly
// when Status is terminal.
type Run struct {
	ID          string          `json:"id"`
	WorkItemID  string          `json:"work_item_id"`
	TenantID    string          `json:"tenant_id,omitempty"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Steps       []StepExecution `json:"steps"`
	Error       string          `json:"error,omitempty"`
}
