// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage lays out per-tenant storage roots:
//
//	<root>/tenants/<tenant_id>/blobs/
//	<root>/tenants/<tenant_id>/events.jsonl
//	<root>/tenants/<tenant_id>/index
type Storage struct {
	root string
}

// NewStorage creates a storage manager rooted at dataDir.
func NewStorage(dataDir string) *Storage {
	return &Storage{root: dataDir}
}

// Root returns the storage root for a tenant.
func (s *Storage) Root(tenantID string) string {
	return filepath.Join(s.root, "tenants", tenantID)
}

// BlobDir returns the tenant's blob directory.
func (s *Storage) BlobDir(tenantID string) string {
	return filepath.Join(s.Root(tenantID), "blobs")
}

// Provision creates the tenant's directory skeleton.
func (s *Storage) Provision(tenantID string) error {
	root := s.Root(tenantID)
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0o755); err != nil {
		return fmt.Errorf("failed to provision tenant storage: %w", err)
	}
	for _, name := range []string{"events.jsonl", "index"} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				return fmt.Errorf("failed to provision tenant storage: %w", err)
			}
		}
	}
	return nil
}

// Stats walks the tenant's root and totals bytes and files.
func (s *Storage) Stats(tenantID string) (*StorageStats, error) {
	stats := &StorageStats{TenantID: tenantID}
	root := s.Root(tenantID)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.TotalBytes += info.Size()
		stats.FileCount++
		switch {
		case strings.Contains(path, string(filepath.Separator)+"blobs"+string(filepath.Separator)):
			stats.BlobBytes += info.Size()
		case strings.HasSuffix(path, "events.jsonl"):
			stats.EventBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat tenant storage: %w", err)
	}
	return stats, nil
}
