// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package cluster tracks control-plane nodes, heartbeats and advisory
// locks. The in-memory TTL lock is sufficient for single-node leader
// election; multi-node deployments need an external coordination service.
package cluster

import (
	"errors"
	"time"
)

// NodeStatus is a node's health state.
type NodeStatus string

const (
	NodeHealthy   NodeStatus = "healthy"
	NodeDegraded  NodeStatus = "degraded"
	NodeUnhealthy NodeStatus = "unhealthy"
	NodeOffline   NodeStatus = "offline"
)

// NodeRole is a node's role in leader election.
type NodeRole string

const (
	RoleLeader    NodeRole = "leader"
	RoleFollower  NodeRole = "follower"
	RoleCandidate NodeRole = "candidate"
)

// Node is one registered control-plane process.
type Node struct {
	ID            string     `json:"id"`
	Address       string     `json:"address"`
	Status        NodeStatus `json:"status"`
	Role          NodeRole   `json:"role"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	RegisteredAt  time.Time  `json:"registered_at"`
}

// Health summarizes the cluster for the health endpoint.
type Health struct {
	TotalNodes     int    `json:"total_nodes"`
	HealthyNodes   int    `json:"healthy_nodes"`
	UnhealthyNodes int    `json:"unhealthy_nodes"`
	LeaderID       string `json:"leader_id,omitempty"`
}

var (
	// ErrNodeNotFound is returned when a node id is unknown
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeExists is returned when registering a duplicate node id
	ErrNodeExists = errors.New("node already exists")

	// ErrLockHeld is returned when a lock is held by another holder
	ErrLockHeld = errors.New("lock held by another holder")

	// ErrNotHolder is returned when releasing a lock the caller does not hold
	ErrNotHolder = errors.New("lock not held by caller")
)
