// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package configchange gates configuration changes behind an optional
// approval before they can be applied.
package configchange

import (
	"errors"
	"time"
)

// Status is a proposal's lifecycle state.
type Status string

const (
	StatusProposed        Status = "proposed"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusApplied         Status = "applied"
	StatusRejected        Status = "rejected"
	StatusFailed          Status = "failed"
)

// Change is one proposed configuration mutation.
type Change struct {
	ID          string                 `json:"id"`
	Target      string                 `json:"target"`
	Description string                 `json:"description,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Status      Status                 `json:"status"`
	ApprovalID  string                 `json:"approval_id,omitempty"`
	ProposedBy  string                 `json:"proposed_by,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

var (
	// ErrChangeNotFound is returned when a change id is unknown
	ErrChangeNotFound = errors.New("config change not found")

	// ErrNotApproved is returned when applying a change whose linked
	// approval is not approved
	ErrNotApproved = errors.New("config change not approved")

	// ErrInvalidTransition is returned when a change is not in a state
	// that permits the requested transition
	ErrInvalidTransition = errors.New("invalid config change transition")
)
