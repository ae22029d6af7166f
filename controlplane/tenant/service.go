// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"sync"
	"time"
)

// Service owns the tenant registry and usage accounting.
type Service struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	usage   map[string]*Usage
	storage *Storage
}

// NewService creates a tenant service. storage may be nil when per-tenant
// storage roots are not needed (tests).
func NewService(storage *Storage) *Service {
	return &Service{
		tenants: make(map[string]*Tenant),
		usage:   make(map[string]*Usage),
		storage: storage,
	}
}

// Register creates a new tenant and provisions its storage root.
func (s *Service) Register(t *Tenant) error {
	if t == nil || t.ID == "" || t.Name == "" {
		return ErrInvalidTenant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[t.ID]; exists {
		return ErrExists
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusActive
	}

	clone := *t
	s.tenants[t.ID] = &clone
	s.usage[t.ID] = &Usage{}

	if s.storage != nil {
		if err := s.storage.Provision(t.ID); err != nil {
			delete(s.tenants, t.ID)
			delete(s.usage, t.ID)
			return err
		}
	}
	return nil
}

// Get returns a tenant by id.
func (s *Service) Get(id string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

// List returns all tenants.
func (s *Service) List() []*Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		clone := *t
		out = append(out, &clone)
	}
	return out
}

// Update replaces a tenant's name, quota and settings.
func (s *Service) Update(id string, name string, quota Quota, settings map[string]string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	if name != "" {
		t.Name = name
	}
	t.Quota = quota
	if settings != nil {
		t.Settings = settings
	}
	t.UpdatedAt = time.Now().UTC()
	clone := *t
	return &clone, nil
}

// Suspend transitions a tenant to suspended.
func (s *Service) Suspend(id string) error {
	return s.setStatus(id, StatusSuspended)
}

// Activate transitions a tenant to active.
func (s *Service) Activate(id string) error {
	return s.setStatus(id, StatusActive)
}

// Delete disables a tenant and forgets it. Storage is left on disk for
// operator-driven cleanup.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(s.tenants, id)
	delete(s.usage, id)
	return nil
}

func (s *Service) setStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// CheckQuota admits a resource increment for the tenant or fails with a
// QuotaExceededError naming the limit that would be crossed.
func (s *Service) CheckQuota(id string, use ResourceUse) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusActive {
		return ErrNotActive
	}
	u := s.usage[id]

	if t.Quota.MaxWorkflows != nil && use.Workflows > 0 &&
		u.Workflows+use.Workflows > *t.Quota.MaxWorkflows {
		return &QuotaExceededError{TenantID: id, Limit: "max_workflows",
			Capacity: int64(*t.Quota.MaxWorkflows), Have: int64(u.Workflows), Want: int64(use.Workflows)}
	}
	if t.Quota.MaxRoutines != nil && use.Routines > 0 &&
		u.Routines+use.Routines > *t.Quota.MaxRoutines {
		return &QuotaExceededError{TenantID: id, Limit: "max_routines",
			Capacity: int64(*t.Quota.MaxRoutines), Have: int64(u.Routines), Want: int64(use.Routines)}
	}
	if t.Quota.MaxStorageBytes != nil && use.StorageBytes > 0 &&
		u.StorageBytes+use.StorageBytes > *t.Quota.MaxStorageBytes {
		return &QuotaExceededError{TenantID: id, Limit: "max_storage_bytes",
			Capacity: *t.Quota.MaxStorageBytes, Have: u.StorageBytes, Want: use.StorageBytes}
	}
	if t.Quota.MaxRequestsPerDay != nil && use.Requests > 0 &&
		u.RequestsToday+use.Requests > *t.Quota.MaxRequestsPerDay {
		return &QuotaExceededError{TenantID: id, Limit: "max_requests_per_day",
			Capacity: int64(*t.Quota.MaxRequestsPerDay), Have: int64(u.RequestsToday), Want: int64(use.Requests)}
	}
	if t.Quota.MaxConcurrentRuns != nil && use.ConcurrentRuns > 0 &&
		u.ConcurrentRuns+use.ConcurrentRuns > *t.Quota.MaxConcurrentRuns {
		return &QuotaExceededError{TenantID: id, Limit: "max_concurrent_runs",
			Capacity: int64(*t.Quota.MaxConcurrentRuns), Have: int64(u.ConcurrentRuns), Want: int64(use.ConcurrentRuns)}
	}
	return nil
}

// RecordUse applies an admitted increment to the tenant's usage counters.
// Negative values release (e.g. a finished run).
func (s *Service) RecordUse(id string, use ResourceUse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usage[id]
	if !ok {
		return
	}
	u.Workflows += use.Workflows
	u.Routines += use.Routines
	u.StorageBytes += use.StorageBytes
	u.RequestsToday += use.Requests
	u.ConcurrentRuns += use.ConcurrentRuns
	if u.ConcurrentRuns < 0 {
		u.ConcurrentRuns = 0
	}
}

// GetUsage returns the tenant's current usage counters.
func (s *Service) GetUsage(id string) (*Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usage[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

// StorageStats computes the tenant's on-disk footprint on demand.
func (s *Service) StorageStats(id string) (*StorageStats, error) {
	s.mu.RLock()
	_, ok := s.tenants[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.storage == nil {
		return &StorageStats{TenantID: id}, nil
	}
	return s.storage.Stats(id)
}
