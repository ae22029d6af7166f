// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package rbac implements role-based access control with wildcard
// permission matching.
package rbac

import (
	"errors"
	"time"
)

// Resource is the kind of object a permission governs.
type Resource string

const (
	ResourceAll      Resource = "*"
	ResourceWorkflow Resource = "workflow"
	ResourceRoutine  Resource = "routine"
	ResourceSecret   Resource = "secret"
	ResourceTenant   Resource = "tenant"
	ResourceTemplate Resource = "template"
	ResourceApproval Resource = "approval"
	ResourceConfig   Resource = "config"
	ResourceAudit    Resource = "audit"
	ResourceCluster  Resource = "cluster"
)

// Action is the operation a permission governs.
type Action string

const (
	ActionAll     Action = "*"
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExecute Action = "execute"
	ActionApprove Action = "approve"
)

// Permission grants an action on a resource, optionally scoped to one
// resource instance.
type Permission struct {
	Resource   Resource `json:"resource"`
	Action     Action   `json:"action"`
	ResourceID string   `json:"resource_id,omitempty"`
}

// Matches reports whether p satisfies the required permission. The All
// element on either side matches any value; an empty ResourceID on the
// grant matches any instance.
func (p Permission) Matches(required Permission) bool {
	if p.Resource != ResourceAll && required.Resource != ResourceAll && p.Resource != required.Resource {
		return false
	}
	if p.Action != ActionAll && required.Action != ActionAll && p.Action != required.Action {
		return false
	}
	if p.ResourceID != "" && p.ResourceID != required.ResourceID {
		return false
	}
	return true
}

// Role is a named set of permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
}

// User is a principal with zero or more assigned roles.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RoleIDs   []string  `json:"role_ids"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	// ErrRoleNotFound is returned when a role id is unknown
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleExists is returned when creating a duplicate role id
	ErrRoleExists = errors.New("role already exists")

	// ErrUserNotFound is returned when a user id is unknown
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating a duplicate user id
	ErrUserExists = errors.New("user already exists")
)
