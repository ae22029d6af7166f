// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"time"

	"maestro/platform/shared/logger"
)

// leaderLockKey is the fixed advisory-lock key contended for leadership.
const leaderLockKey = "maestro/leader"

// LeaderElector wraps the distributed lock into a renewable leader lease.
type LeaderElector struct {
	lock    *DistributedLock
	manager *Manager
	nodeID  string
	lease   time.Duration
	log     *logger.Logger
}

// NewLeaderElector creates an elector for nodeID with the given lease TTL.
func NewLeaderElector(lock *DistributedLock, manager *Manager, nodeID string, lease time.Duration) *LeaderElector {
	if lease <= 0 {
		lease = 15 * time.Second
	}
	return &LeaderElector{
		lock:    lock,
		manager: manager,
		nodeID:  nodeID,
		lease:   lease,
		log:     logger.New("leader-elector"),
	}
}

// TryAcquire attempts to take (or renew) the leader lease once.
func (e *LeaderElector) TryAcquire() bool {
	err := e.lock.Acquire(leaderLockKey, e.nodeID, e.lease)
	if err != nil {
		_ = e.manager.SetRole(e.nodeID, RoleFollower)
		return false
	}
	_ = e.manager.SetRole(e.nodeID, RoleLeader)
	return true
}

// IsLeader reports whether this node currently holds the lease.
func (e *LeaderElector) IsLeader() bool {
	holder, ok := e.lock.Holder(leaderLockKey)
	return ok && holder == e.nodeID
}

// Leader returns the current lease holder, if any.
func (e *LeaderElector) Leader() (string, bool) {
	return e.lock.Holder(leaderLockKey)
}

// Run renews the lease at half the TTL until ctx is cancelled, releasing
// it on the way out.
func (e *LeaderElector) Run(ctx context.Context) {
	ticker := time.NewTicker(e.lease / 2)
	defer ticker.Stop()

	e.TryAcquire()
	for {
		select {
		case <-ctx.Done():
			if e.IsLeader() {
				_ = e.lock.Release(leaderLockKey, e.nodeID)
				_ = e.manager.SetRole(e.nodeID, RoleFollower)
			}
			return
		case <-ticker.C:
			if !e.TryAcquire() {
				e.log.Warn("", "", "lost leader lease", map[string]interface{}{"node_id": e.nodeID})
			}
		}
	}
}
