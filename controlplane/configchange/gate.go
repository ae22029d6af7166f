// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package configchange

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"maestro/platform/controlplane/approval"
	"maestro/platform/controlplane/eventlog"
	"maestro/platform/shared/logger"
)

// ApprovalLookup resolves the status of a linked approval.
type ApprovalLookup interface {
	Get(id string) (*approval.Approval, error)
}

// Applier carries out an approved change against its target. A nil
// Applier makes apply a status-only transition.
type Applier func(change *Change) error

// Gate owns config-change proposals and enforces the approval gate.
type Gate struct {
	mu        sync.RWMutex
	changes   map[string]*Change
	approvals ApprovalLookup
	apply     Applier
	events    *eventlog.Log
	log       *logger.Logger
}

// NewGate creates a gate. approvals may be nil when no proposal will
// link an approval.
func NewGate(approvals ApprovalLookup, apply Applier) *Gate {
	return &Gate{
		changes:   make(map[string]*Change),
		approvals: approvals,
		apply:     apply,
		log:       logger.New("config-change-gate"),
	}
}

// SetEventLog attaches the event log. Each change's lifecycle is then
// recorded as a stream keyed by the change id.
func (g *Gate) SetEventLog(events *eventlog.Log) {
	g.events = events
}

// Propose opens a change. A non-empty approvalID moves it straight to
// PendingApproval.
func (g *Gate) Propose(target, description, proposedBy, approvalID string, payload map[string]interface{}) (*Change, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	change := &Change{
		ID:          uuid.New().String(),
		Target:      target,
		Description: description,
		Payload:     payload,
		Status:      StatusProposed,
		ApprovalID:  approvalID,
		ProposedBy:  proposedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if approvalID != "" {
		change.Status = StatusPendingApproval
	}
	g.changes[change.ID] = change

	g.emit(change.ID, eventlog.ConfigProposalCreated, map[string]interface{}{
		"target":      change.Target,
		"proposed_by": change.ProposedBy,
		"approval_id": change.ApprovalID,
	})
	if len(payload) > 0 {
		fields := make([]string, 0, len(payload))
		for field := range payload {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		g.emit(change.ID, eventlog.ConfigDiffGenerated, map[string]interface{}{
			"target": change.Target,
			"fields": fields,
		})
	}

	clone := *change
	return &clone, nil
}

// Get returns a change by id.
func (g *Gate) Get(id string) (*Change, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	change, ok := g.changes[id]
	if !ok {
		return nil, ErrChangeNotFound
	}
	clone := *change
	return &clone, nil
}

// List returns all changes, newest first.
func (g *Gate) List() []*Change {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Change, 0, len(g.changes))
	for _, change := range g.changes {
		clone := *change
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Apply transitions a change to Applied. A change linked to an approval
// may only apply once that approval is approved; an apply hook failure
// moves the change to Failed.
func (g *Gate) Apply(id string) (*Change, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	change, ok := g.changes[id]
	if !ok {
		return nil, ErrChangeNotFound
	}
	if change.Status != StatusProposed && change.Status != StatusPendingApproval && change.Status != StatusApproved {
		return nil, ErrInvalidTransition
	}

	if change.ApprovalID != "" {
		linked, err := g.approvals.Get(change.ApprovalID)
		if err != nil {
			return nil, err
		}
		if linked.Status != approval.StatusApproved {
			return nil, ErrNotApproved
		}
		change.Status = StatusApproved
	}

	now := time.Now().UTC()
	if g.apply != nil {
		if err := g.apply(change); err != nil {
			change.Status = StatusFailed
			change.Error = err.Error()
			change.ResolvedAt = &now
			g.log.ErrorWithErr("", "", "config change apply failed", err, map[string]interface{}{
				"change_id": change.ID,
				"target":    change.Target,
			})
			// A failed apply hook leaves the target unchanged.
			g.emit(change.ID, eventlog.ConfigRolledBack, map[string]interface{}{
				"target": change.Target,
				"error":  change.Error,
			})
			clone := *change
			return &clone, err
		}
	}

	change.Status = StatusApplied
	change.ResolvedAt = &now
	g.emit(change.ID, eventlog.ConfigApplied, map[string]interface{}{
		"target": change.Target,
	})
	clone := *change
	return &clone, nil
}

// emit appends a lifecycle event to the change's stream.
func (g *Gate) emit(changeID string, eventType eventlog.EventType, payload map[string]interface{}) {
	if g.events == nil {
		return
	}
	_ = g.events.Append(eventlog.NewEvent(changeID, eventType, payload))
}

// Reject transitions a pending change to Rejected.
func (g *Gate) Reject(id, reason string) (*Change, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	change, ok := g.changes[id]
	if !ok {
		return nil, ErrChangeNotFound
	}
	if change.Status != StatusProposed && change.Status != StatusPendingApproval {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	change.Status = StatusRejected
	change.Error = reason
	change.ResolvedAt = &now
	clone := *change
	return &clone, nil
}
