// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndHeartbeat(t *testing.T) {
	m := NewManager(30 * time.Second)

	node, err := m.Register("n1", "10.0.0.1:8081")
	require.NoError(t, err)
	assert.Equal(t, NodeHealthy, node.Status)
	assert.Equal(t, RoleFollower, node.Role)

	_, err = m.Register("n1", "10.0.0.2:8081")
	assert.ErrorIs(t, err, ErrNodeExists)

	before, _ := m.Get("n1")
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Heartbeat("n1"))
	after, _ := m.Get("n1")
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))

	assert.ErrorIs(t, m.Heartbeat("ghost"), ErrNodeNotFound)
}

func TestCheckStaleNodes(t *testing.T) {
	m := NewManager(10 * time.Millisecond)

	_, err := m.Register("stale", "a:1")
	require.NoError(t, err)
	_, err = m.Register("fresh", "b:1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Heartbeat("fresh"))

	stale := m.CheckStaleNodes()
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0])

	node, _ := m.Get("stale")
	assert.Equal(t, NodeUnhealthy, node.Status)

	// Second pass does not re-report.
	assert.Empty(t, m.CheckStaleNodes())
}

func TestHealthSummary(t *testing.T) {
	m := NewManager(time.Minute)
	_, _ = m.Register("n1", "a:1")
	_, _ = m.Register("n2", "b:1")
	require.NoError(t, m.SetRole("n1", RoleLeader))

	h := m.Health()
	assert.Equal(t, 2, h.TotalNodes)
	assert.Equal(t, 2, h.HealthyNodes)
	assert.Equal(t, "n1", h.LeaderID)
}

func TestLockAcquireRelease(t *testing.T) {
	lock := NewDistributedLock()

	require.NoError(t, lock.Acquire("k", "a", time.Minute))
	assert.ErrorIs(t, lock.Acquire("k", "b", time.Minute), ErrLockHeld)

	// Renewal by the holder succeeds.
	require.NoError(t, lock.Acquire("k", "a", time.Minute))

	assert.ErrorIs(t, lock.Release("k", "b"), ErrNotHolder)
	require.NoError(t, lock.Release("k", "a"))
	require.NoError(t, lock.Acquire("k", "b", time.Minute))
}

func TestLockExpiry(t *testing.T) {
	lock := NewDistributedLock()

	require.NoError(t, lock.Acquire("k", "a", 5*time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	// Expired holder loses the lock to the next acquirer.
	require.NoError(t, lock.Acquire("k", "b", time.Minute))
	holder, ok := lock.Holder("k")
	require.True(t, ok)
	assert.Equal(t, "b", holder)
}

func TestLeaderElection(t *testing.T) {
	m := NewManager(time.Minute)
	_, _ = m.Register("n1", "a:1")
	_, _ = m.Register("n2", "b:1")
	lock := NewDistributedLock()

	e1 := NewLeaderElector(lock, m, "n1", time.Minute)
	e2 := NewLeaderElector(lock, m, "n2", time.Minute)

	assert.True(t, e1.TryAcquire())
	assert.False(t, e2.TryAcquire())
	assert.True(t, e1.IsLeader())
	assert.False(t, e2.IsLeader())

	leader, ok := e2.Leader()
	require.True(t, ok)
	assert.Equal(t, "n1", leader)

	node, _ := m.Get("n1")
	assert.Equal(t, RoleLeader, node.Role)
}
