// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package routine schedules recurring workflow executions from cron
// expressions.
package routine

import (
	"errors"
	"time"

	"maestro/platform/controlplane/workflow"
)

// Schedule is a routine's firing rule. Timezone is an IANA name; empty
// means UTC.
type Schedule struct {
	Cron     string `json:"cron" yaml:"cron"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Routine is one recurring workflow.
type Routine struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Schedule  Schedule      `json:"schedule"`
	Workflow  workflow.Spec `json:"workflow"`
	Enabled   bool          `json:"enabled"`
	LastRun   *time.Time    `json:"last_run,omitempty"`
	NextRun   time.Time     `json:"next_run"`
	CreatedAt time.Time     `json:"created_at"`
}

// ExecutionStatus is the outcome of one scheduled firing.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution records one firing of a routine.
type Execution struct {
	RoutineID   string          `json:"routine_id"`
	RunID       string          `json:"run_id,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	ExecutedAt  time.Time       `json:"executed_at"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
}

var (
	// ErrRoutineNotFound is returned when a routine id is unknown
	ErrRoutineNotFound = errors.New("routine not found")

	// ErrRoutineExists is returned when creating a duplicate routine id
	ErrRoutineExists = errors.New("routine already exists")

	// ErrInvalidCron is returned when a cron expression fails to parse
	ErrInvalidCron = errors.New("invalid cron expression")
)
