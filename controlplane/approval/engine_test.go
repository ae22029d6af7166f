// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBoard(t *testing.T, e *Engine, approvers []string, quorum Quorum) *Approval {
	t.Helper()
	_, err := e.CreateBoard("board", "Release board", approvers, quorum)
	require.NoError(t, err)
	approval, err := e.Request("board", "deploy v2", "", "alice")
	require.NoError(t, err)
	return approval
}

func TestMajorityQuorum(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b", "c"}, Quorum{Kind: QuorumMajority})

	got, err := e.CastVote(approval.ID, "a", DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got, err = e.CastVote(approval.ID, "b", DecisionApprove, "lgtm")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	_, err = e.CastVote(approval.ID, "c", DecisionApprove, "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestMajorityDeniedOnSplit(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b", "c", "d"}, Quorum{Kind: QuorumMajority})

	_, err := e.CastVote(approval.ID, "a", DecisionApprove, "")
	require.NoError(t, err)
	_, err = e.CastVote(approval.ID, "b", DecisionReject, "")
	require.NoError(t, err)
	_, err = e.CastVote(approval.ID, "c", DecisionAbstain, "")
	require.NoError(t, err)

	// All ballots in, neither side reached 3 of 4.
	got, err := e.CastVote(approval.ID, "d", DecisionReject, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, got.Status)
}

func TestUnanimousQuorum(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b"}, Quorum{Kind: QuorumUnanimous})

	got, err := e.CastVote(approval.ID, "a", DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got, err = e.CastVote(approval.ID, "b", DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestUnanimousDeniedOnSingleReject(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b", "c"}, Quorum{Kind: QuorumUnanimous})

	got, err := e.CastVote(approval.ID, "a", DecisionReject, "no")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, got.Status)
}

func TestMinCountQuorum(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b", "c"}, Quorum{Kind: QuorumMinCount, MinCount: 2})

	got, err := e.CastVote(approval.ID, "a", DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got, err = e.CastVote(approval.ID, "b", DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestMinCountDeniedWhenUnreachable(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b", "c"}, Quorum{Kind: QuorumMinCount, MinCount: 2})

	_, err := e.CastVote(approval.ID, "a", DecisionReject, "")
	require.NoError(t, err)

	// Two rejections leave only one possible approve; n=2 is unreachable.
	got, err := e.CastVote(approval.ID, "b", DecisionReject, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, got.Status)
}

func TestMinCountAboveBoardSize(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b"}, Quorum{Kind: QuorumMinCount, MinCount: 5})

	// n exceeds the board size, so a single reject makes it unreachable.
	got, err := e.CastVote(approval.ID, "a", DecisionReject, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, got.Status)
}

func TestPercentageQuorum(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b", "c", "d"}, Quorum{Kind: QuorumPercentage, Percentage: 75})

	// required = ceil(4*75/100) = 3.
	_, err := e.CastVote(approval.ID, "a", DecisionApprove, "")
	require.NoError(t, err)
	_, err = e.CastVote(approval.ID, "b", DecisionApprove, "")
	require.NoError(t, err)

	got, err := e.CastVote(approval.ID, "c", DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestVoteValidation(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a", "b", "c"}, Quorum{Kind: QuorumUnanimous})

	_, err := e.CastVote(approval.ID, "stranger", DecisionApprove, "")
	assert.ErrorIs(t, err, ErrNotAVoter)

	_, err = e.CastVote(approval.ID, "a", DecisionApprove, "")
	require.NoError(t, err)
	_, err = e.CastVote(approval.ID, "a", DecisionReject, "")
	assert.ErrorIs(t, err, ErrDuplicateVote)

	_, err = e.CastVote("missing", "a", DecisionApprove, "")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestBoardValidation(t *testing.T) {
	e := NewEngine()

	_, err := e.CreateBoard("b1", "empty", nil, Quorum{Kind: QuorumMajority})
	assert.ErrorIs(t, err, ErrNoApprovers)

	_, err = e.CreateBoard("b2", "ok", []string{"a"}, Quorum{Kind: QuorumMajority})
	require.NoError(t, err)
	_, err = e.CreateBoard("b2", "dup", []string{"a"}, Quorum{Kind: QuorumMajority})
	assert.ErrorIs(t, err, ErrBoardExists)

	_, err = e.Request("missing", "x", "", "")
	assert.ErrorIs(t, err, ErrBoardNotFound)
}

func TestDeleteBoard(t *testing.T) {
	e := NewEngine()
	approval := newBoard(t, e, []string{"a"}, Quorum{Kind: QuorumUnanimous})

	// Pending approvals pin the board.
	assert.ErrorIs(t, e.DeleteBoard(approval.BoardID), ErrBoardInUse)

	_, err := e.CastVote(approval.ID, "a", DecisionApprove, "")
	require.NoError(t, err)

	require.NoError(t, e.DeleteBoard(approval.BoardID))
	assert.ErrorIs(t, e.DeleteBoard(approval.BoardID), ErrBoardNotFound)
}
