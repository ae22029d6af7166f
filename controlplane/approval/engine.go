// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"maestro/platform/shared/logger"
)

// Engine owns boards and approvals and evaluates quorums after each vote.
type Engine struct {
	mu        sync.RWMutex
	boards    map[string]*Board
	approvals map[string]*Approval
	log       *logger.Logger
}

// NewEngine creates an empty approval engine.
func NewEngine() *Engine {
	return &Engine{
		boards:    make(map[string]*Board),
		approvals: make(map[string]*Approval),
		log:       logger.New("approval-engine"),
	}
}

// CreateBoard registers a board with its approver set and quorum rule.
func (e *Engine) CreateBoard(id, name string, approvers []string, quorum Quorum) (*Board, error) {
	if len(approvers) == 0 {
		return nil, ErrNoApprovers
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.boards[id]; exists {
		return nil, ErrBoardExists
	}
	board := &Board{
		ID:        id,
		Name:      name,
		Approvers: append([]string(nil), approvers...),
		Quorum:    quorum,
		CreatedAt: time.Now().UTC(),
	}
	e.boards[id] = board
	clone := cloneBoard(board)
	return &clone, nil
}

// GetBoard returns a board by id.
func (e *Engine) GetBoard(id string) (*Board, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	board, ok := e.boards[id]
	if !ok {
		return nil, ErrBoardNotFound
	}
	clone := cloneBoard(board)
	return &clone, nil
}

// ListBoards returns all boards sorted by id.
func (e *Engine) ListBoards() []*Board {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Board, 0, len(e.boards))
	for _, board := range e.boards {
		clone := cloneBoard(board)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteBoard removes a board. A board with pending approvals cannot be
// deleted; resolve or reject them first.
func (e *Engine) DeleteBoard(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.boards[id]; !ok {
		return ErrBoardNotFound
	}
	for _, approval := range e.approvals {
		if approval.BoardID == id && approval.Status == StatusPending {
			return ErrBoardInUse
		}
	}
	delete(e.boards, id)
	return nil
}

// Request opens a new pending approval before the given board.
func (e *Engine) Request(boardID, subject, description, requestedBy string) (*Approval, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.boards[boardID]; !ok {
		return nil, ErrBoardNotFound
	}
	approval := &Approval{
		ID:          uuid.New().String(),
		BoardID:     boardID,
		Subject:     subject,
		Description: description,
		Status:      StatusPending,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now().UTC(),
	}
	e.approvals[approval.ID] = approval
	clone := cloneApproval(approval)
	return &clone, nil
}

// Get returns an approval by id.
func (e *Engine) Get(id string) (*Approval, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	approval, ok := e.approvals[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	clone := cloneApproval(approval)
	return &clone, nil
}

// List returns all approvals, newest first.
func (e *Engine) List() []*Approval {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Approval, 0, len(e.approvals))
	for _, approval := range e.approvals {
		clone := cloneApproval(approval)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CastVote records a ballot and re-evaluates the quorum. Voting on a
// resolved approval, by a non-approver, or twice by the same voter fails.
func (e *Engine) CastVote(approvalID, voter string, decision Decision, comment string) (*Approval, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	approval, ok := e.approvals[approvalID]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	if approval.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}
	board := e.boards[approval.BoardID]

	isApprover := false
	for _, a := range board.Approvers {
		if a == voter {
			isApprover = true
			break
		}
	}
	if !isApprover {
		return nil, ErrNotAVoter
	}
	for _, v := range approval.Votes {
		if v.Voter == voter {
			return nil, ErrDuplicateVote
		}
	}

	approval.Votes = append(approval.Votes, Vote{
		Voter:    voter,
		Decision: decision,
		Comment:  comment,
		CastAt:   time.Now().UTC(),
	})

	status := resolve(board.Quorum, len(board.Approvers), approval.Votes)
	if status != StatusPending {
		now := time.Now().UTC()
		approval.Status = status
		approval.ResolvedAt = &now
		e.log.Info("", "", "approval resolved", map[string]interface{}{
			"approval_id": approval.ID,
			"board_id":    approval.BoardID,
			"status":      string(status),
			"votes":       len(approval.Votes),
		})
	}

	clone := cloneApproval(approval)
	return &clone, nil
}

// resolve applies the board's quorum rule to the current tallies.
func resolve(q Quorum, approvers int, votes []Vote) Status {
	var approve, reject, abstain int
	for _, v := range votes {
		switch v.Decision {
		case DecisionApprove:
			approve++
		case DecisionReject:
			reject++
		case DecisionAbstain:
			abstain++
		}
	}

	switch q.Kind {
	case QuorumUnanimous:
		if reject > 0 {
			return StatusDenied
		}
		if approve == approvers {
			return StatusApproved
		}
		return StatusPending

	case QuorumMajority:
		required := approvers/2 + 1
		if approve >= required {
			return StatusApproved
		}
		if reject >= required {
			return StatusDenied
		}
		// All ballots in, neither side reached the bar.
		if approve+reject+abstain == approvers {
			return StatusDenied
		}
		return StatusPending

	case QuorumMinCount:
		if approve >= q.MinCount {
			return StatusApproved
		}
		if approvers-reject < q.MinCount {
			return StatusDenied
		}
		return StatusPending

	case QuorumPercentage:
		required := (approvers*q.Percentage + 99) / 100
		if approve >= required {
			return StatusApproved
		}
		if approvers-reject < required {
			return StatusDenied
		}
		return StatusPending
	}

	return StatusPending
}

func cloneBoard(b *Board) Board {
	clone := *b
	clone.Approvers = append([]string(nil), b.Approvers...)
	return clone
}

func cloneApproval(a *Approval) Approval {
	clone := *a
	clone.Votes = append([]Vote(nil), a.Votes...)
	if a.ResolvedAt != nil {
		ts := *a.ResolvedAt
		clone.ResolvedAt = &ts
	}
	return clone
}
