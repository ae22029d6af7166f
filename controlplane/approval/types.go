// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package approval implements approval boards, vote casting and quorum
// resolution for gated operations.
package approval

import (
	"errors"
	"time"
)

// QuorumKind selects the resolution rule for a board.
type QuorumKind string

const (
	QuorumUnanimous  QuorumKind = "unanimous"
	QuorumMajority   QuorumKind = "majority"
	QuorumMinCount   QuorumKind = "min_count"
	QuorumPercentage QuorumKind = "percentage"
)

// Quorum is the resolution rule plus its parameter.
type Quorum struct {
	Kind QuorumKind `json:"kind"`
	// MinCount is the n for QuorumMinCount.
	MinCount int `json:"min_count,omitempty"`
	// Percentage is the p for QuorumPercentage, in [0,100].
	Percentage int `json:"percentage,omitempty"`
}

// Board names a fixed set of approvers and a quorum rule.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Approvers []string  `json:"approvers"`
	Quorum    Quorum    `json:"quorum"`
	CreatedAt time.Time `json:"created_at"`
}

// Decision is a single voter's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAbstain Decision = "abstain"
)

// Vote is one cast ballot.
type Vote struct {
	Voter    string    `json:"voter"`
	Decision Decision  `json:"decision"`
	Comment  string    `json:"comment,omitempty"`
	CastAt   time.Time `json:"cast_at"`
}

// Status is an approval's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Approval is one pending or resolved decision before a board.
type Approval struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"board_id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Votes       []Vote     `json:"votes"`
	RequestedBy string     `json:"requested_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

var (
	// ErrBoardNotFound is returned when a board id is unknown
	ErrBoardNotFound = errors.New("approval board not found")

	// ErrBoardExists is returned when creating a duplicate board id
	ErrBoardExists = errors.New("approval board already exists")

	// ErrApprovalNotFound is returned when an approval id is unknown
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrAlreadyResolved is returned when voting on a non-pending approval
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrNotAVoter is returned when the voter is not on the board
	ErrNotAVoter = errors.New("voter is not on the approval board")

	// ErrDuplicateVote is returned when a voter votes twice
	ErrDuplicateVote = errors.New("voter has already voted")

	// ErrNoApprovers is returned when creating a board with no approvers
	ErrNoApprovers = errors.New("board requires at least one approver")

	// ErrBoardInUse is returned when deleting a board with pending approvals
	ErrBoardInUse = errors.New("board has pending approvals")
)
