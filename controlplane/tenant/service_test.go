// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestRegisterAndGet(t *testing.T) {
	s := NewService(nil)

	require.NoError(t, s.Register(&Tenant{ID: "t1", Name: "Acme"}))

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRegisterDuplicate(t *testing.T) {
	s := NewService(nil)
	require.NoError(t, s.Register(&Tenant{ID: "t1", Name: "Acme"}))
	assert.ErrorIs(t, s.Register(&Tenant{ID: "t1", Name: "Other"}), ErrExists)
}

func TestRegisterInvalid(t *testing.T) {
	s := NewService(nil)
	assert.ErrorIs(t, s.Register(&Tenant{ID: "", Name: "x"}), ErrInvalidTenant)
	assert.ErrorIs(t, s.Register(&Tenant{ID: "x", Name: ""}), ErrInvalidTenant)
}

func TestSuspendActivateDelete(t *testing.T) {
	s := NewService(nil)
	require.NoError(t, s.Register(&Tenant{ID: "t1", Name: "Acme"}))

	require.NoError(t, s.Suspend("t1"))
	got, _ := s.Get("t1")
	assert.Equal(t, StatusSuspended, got.Status)

	// Suspended tenants fail admission.
	err := s.CheckQuota("t1", ResourceUse{Workflows: 1})
	assert.ErrorIs(t, err, ErrNotActive)

	require.NoError(t, s.Activate("t1"))
	assert.NoError(t, s.CheckQuota("t1", ResourceUse{Workflows: 1}))

	require.NoError(t, s.Delete("t1"))
	_, err = s.Get("t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckQuotaLimits(t *testing.T) {
	s := NewService(nil)
	require.NoError(t, s.Register(&Tenant{
		ID:   "t1",
		Name: "Acme",
		Quota: Quota{
			MaxWorkflows:    intPtr(2),
			MaxStorageBytes: int64Ptr(1000),
		},
	}))

	require.NoError(t, s.CheckQuota("t1", ResourceUse{Workflows: 2}))
	s.RecordUse("t1", ResourceUse{Workflows: 2})

	err := s.CheckQuota("t1", ResourceUse{Workflows: 1})
	require.Error(t, err)
	require.True(t, IsQuotaExceeded(err))
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "max_workflows", qe.Limit)

	// A different resource still admits.
	assert.NoError(t, s.CheckQuota("t1", ResourceUse{StorageBytes: 500}))

	err = s.CheckQuota("t1", ResourceUse{StorageBytes: 1500})
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "max_storage_bytes", qe.Limit)
}

func TestNilCapsAreUnlimited(t *testing.T) {
	s := NewService(nil)
	require.NoError(t, s.Register(&Tenant{ID: "t1", Name: "Acme"}))
	assert.NoError(t, s.CheckQuota("t1", ResourceUse{Workflows: 1 << 20, StorageBytes: 1 << 40}))
}

func TestRecordUseRelease(t *testing.T) {
	s := NewService(nil)
	require.NoError(t, s.Register(&Tenant{
		ID: "t1", Name: "Acme",
		Quota: Quota{MaxConcurrentRuns: intPtr(1)},
	}))

	require.NoError(t, s.CheckQuota("t1", ResourceUse{ConcurrentRuns: 1}))
	s.RecordUse("t1", ResourceUse{ConcurrentRuns: 1})
	assert.Error(t, s.CheckQuota("t1", ResourceUse{ConcurrentRuns: 1}))

	s.RecordUse("t1", ResourceUse{ConcurrentRuns: -1})
	assert.NoError(t, s.CheckQuota("t1", ResourceUse{ConcurrentRuns: 1}))
}

func TestStorageProvisionAndStats(t *testing.T) {
	dir := t.TempDir()
	storage := NewStorage(dir)
	s := NewService(storage)

	require.NoError(t, s.Register(&Tenant{ID: "t1", Name: "Acme"}))

	// Layout exists.
	_, err := os.Stat(filepath.Join(dir, "tenants", "t1", "blobs"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "tenants", "t1", "events.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "tenants", "t1", "index"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(storage.BlobDir("t1"), "ab"), []byte("12345"), 0o644))

	stats, err := s.StorageStats("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.BlobBytes)
	assert.Equal(t, 3, stats.FileCount)
	assert.Equal(t, int64(5), stats.TotalBytes)
}
