// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog owns the per-run append-only event stream. Other
// components append events and read them back; nothing else mutates them.
package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the event payload. Serialized as the "type" field.
type EventType string

const (
	RunStarted   EventType = "run_started"
	RunCompleted EventType = "run_completed"
	RunFailed    EventType = "run_failed"
	RunCancelled EventType = "run_cancelled"

	StepScheduled EventType = "step_scheduled"
	StepStarted   EventType = "step_started"
	StepCompleted EventType = "step_completed"
	StepFailed    EventType = "step_failed"
	StepSkipped   EventType = "step_skipped"

	AgentMessage EventType = "agent_message"

	ToolCallProposed EventType = "tool_call_proposed"
	ToolCallApproved EventType = "tool_call_approved"
	ToolCallDenied   EventType = "tool_call_denied"
	ToolCallExecuted EventType = "tool_call_executed"

	ApprovalRequested EventType = "approval_requested"
	ApprovalGranted   EventType = "approval_granted"
	ApprovalRejected  EventType = "approval_rejected"

	ArtifactProduced EventType = "artifact_produced"

	ConfigProposalCreated EventType = "config_proposal_created"
	ConfigDiffGenerated   EventType = "config_diff_generated"
	ConfigApplied         EventType = "config_applied"
	ConfigRolledBack      EventType = "config_rolled_back"

	CapacitySourceUsed      EventType = "capacity_source_used"
	CapacitySourceThrottled EventType = "capacity_source_throttled"
)

// Message directions for AgentMessage events.
const (
	DirectionToAgent   = "to_agent"
	DirectionFromAgent = "from_agent"
)

// Event is one record in a run's event stream.
type Event struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent creates an event for runID stamped with the current time.
func NewEvent(runID string, eventType EventType, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Payload:   payload,
	}
}
