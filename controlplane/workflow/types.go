// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow builds step DAGs and executes them as runs, streaming
// events and materializing run state into the index.
package workflow

import (
	"errors"
	"fmt"
)

// ActionType discriminates a step's action variant.
type ActionType string

const (
	ActionAgentTask      ActionType = "agent_task"
	ActionToolSequence   ActionType = "tool_sequence"
	ActionManualApproval ActionType = "manual_approval"
	ActionScript         ActionType = "script"
)

// Action is the tagged action variant of a step. Exactly the fields of
// the selected Type are meaningful.
type Action struct {
	Type ActionType `json:"type" yaml:"type"`

	// AgentTask. MaxTokens caps the completion and sizes the capacity
	// reservation; zero falls back to a prompt-length estimate.
	Prompt    string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	MaxTokens int64  `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// ToolSequence
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	// ManualApproval; also names who signs off on a tool sequence when
	// the step sets requires_approval.
	Approvers []string `json:"approvers,omitempty" yaml:"approvers,omitempty"`

	// Script
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// RetryPolicy bounds a step's attempts.
type RetryPolicy struct {
	MaxAttempts int   `json:"max_attempts" yaml:"max_attempts"`
	BackoffSecs int64 `json:"backoff_secs" yaml:"backoff_secs"`
}

// StepSpec declares one step of a workflow.
type StepSpec struct {
	ID               string       `json:"id" yaml:"id"`
	Name             string       `json:"name" yaml:"name"`
	Description      string       `json:"description,omitempty" yaml:"description,omitempty"`
	Role             string       `json:"role,omitempty" yaml:"role,omitempty"`
	Action           Action       `json:"action" yaml:"action"`
	TimeoutSecs      int64        `json:"timeout_secs,omitempty" yaml:"timeout_secs,omitempty"`
	RetryPolicy      *RetryPolicy `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	RequiresApproval bool         `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
}

// Spec declares a workflow: ordered steps plus a prerequisite mapping.
type Spec struct {
	ID           string              `json:"id,omitempty" yaml:"id,omitempty"`
	Name         string              `json:"name" yaml:"name"`
	Steps        []StepSpec          `json:"steps" yaml:"steps"`
	Dependencies map[string][]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// UnknownStepError reports a dependency id that names no step.
type UnknownStepError struct {
	StepID string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown step %q in dependencies", e.StepID)
}

// TimeoutError reports a step attempt exceeding its timeout.
type TimeoutError struct {
	Secs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step timed out after %ds", e.Secs)
}

var (
	// ErrCircularDependency is returned when the dependency graph has a cycle
	ErrCircularDependency = errors.New("circular dependency in workflow")

	// ErrCancelled is returned when a run is cancelled between steps
	ErrCancelled = errors.New("run cancelled")

	// ErrApprovalDenied is returned when a manual-approval step is rejected
	ErrApprovalDenied = errors.New("approval denied")
)
