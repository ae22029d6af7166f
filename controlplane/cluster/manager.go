// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"sync"
	"time"
)

// Manager owns the node registry.
type Manager struct {
	mu               sync.RWMutex
	nodes            map[string]*Node
	heartbeatTimeout time.Duration
}

// NewManager creates a manager. Nodes missing a heartbeat for longer than
// timeout are marked unhealthy by CheckStaleNodes.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		nodes:            make(map[string]*Node),
		heartbeatTimeout: timeout,
	}
}

// Register adds a node to the registry.
func (m *Manager) Register(id, address string) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[id]; exists {
		return nil, ErrNodeExists
	}

	now := time.Now().UTC()
	node := &Node{
		ID:            id,
		Address:       address,
		Status:        NodeHealthy,
		Role:          RoleFollower,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	m.nodes[id] = node
	clone := *node
	return &clone, nil
}

// Get returns a node by id.
func (m *Manager) Get(id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	clone := *node
	return &clone, nil
}

// List returns all registered nodes.
func (m *Manager) List() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		clone := *node
		out = append(out, &clone)
	}
	return out
}

// Remove deletes a node from the registry.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	delete(m.nodes, id)
	return nil
}

// Heartbeat stamps the node's heartbeat and marks it healthy.
func (m *Manager) Heartbeat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	node.LastHeartbeat = time.Now().UTC()
	node.Status = NodeHealthy
	return nil
}

// SetRole updates a node's election role.
func (m *Manager) SetRole(id string, role NodeRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	node.Role = role
	return nil
}

// CheckStaleNodes marks nodes past the heartbeat timeout as unhealthy and
// returns the ids it transitioned.
func (m *Manager) CheckStaleNodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var stale []string
	for id, node := range m.nodes {
		if node.Status == NodeOffline {
			continue
		}
		if now.Sub(node.LastHeartbeat) > m.heartbeatTimeout && node.Status != NodeUnhealthy {
			node.Status = NodeUnhealthy
			stale = append(stale, id)
		}
	}
	return stale
}

// Health summarizes the registry.
func (m *Manager) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := Health{TotalNodes: len(m.nodes)}
	for _, node := range m.nodes {
		switch node.Status {
		case NodeHealthy, NodeDegraded:
			h.HealthyNodes++
		default:
			h.UnhealthyNodes++
		}
		if node.Role == RoleLeader {
			h.LeaderID = node.ID
		}
	}
	return h
}
