// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package tenant manages the top-level isolation boundary: tenant records,
// quota admission checks and per-tenant storage roots.
package tenant

import "time"

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDisabled  Status = "disabled"
)

// Quota caps a tenant's resource consumption. A nil cap means unlimited.
type Quota struct {
	MaxWorkflows      *int   `json:"max_workflows,omitempty"`
	MaxRoutines       *int   `json:"max_routines,omitempty"`
	MaxStorageBytes   *int64 `json:"max_storage_bytes,omitempty"`
	MaxRequestsPerDay *int   `json:"max_requests_per_day,omitempty"`
	MaxConcurrentRuns *int   `json:"max_concurrent_runs,omitempty"`
}

// Usage is a tenant's current consumption, compared against Quota on
// admission.
type Usage struct {
	Workflows      int   `json:"workflows"`
	Routines       int   `json:"routines"`
	StorageBytes   int64 `json:"storage_bytes"`
	RequestsToday  int   `json:"requests_today"`
	ConcurrentRuns int   `json:"concurrent_runs"`
}

// ResourceUse describes the increment a caller wants to admit.
type ResourceUse struct {
	Workflows      int
	Routines       int
	StorageBytes   int64
	Requests       int
	ConcurrentRuns int
}

// Tenant is one isolated organization on the control plane.
type Tenant struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Quota     Quota             `json:"quota"`
	Settings  map[string]string `json:"settings,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// StorageStats reports a tenant's on-disk footprint.
type StorageStats struct {
	TenantID   string `json:"tenant_id"`
	TotalBytes int64  `json:"total_bytes"`
	FileCount  int    `json:"file_count"`
	BlobBytes  int64  `json:"blob_bytes"`
	EventBytes int64  `json:"event_bytes"`
}
