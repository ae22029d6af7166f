// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"sync"
	"time"
)

// lockEntry records one held advisory lock.
type lockEntry struct {
	holder    string
	expiresAt time.Time
}

// DistributedLock is an in-memory TTL'd advisory lock table. Expired locks
// are reclaimed lazily on the next acquire.
type DistributedLock struct {
	mu    sync.Mutex
	locks map[string]lockEntry
}

// NewDistributedLock creates an empty lock table.
func NewDistributedLock() *DistributedLock {
	return &DistributedLock{locks: make(map[string]lockEntry)}
}

// Acquire takes the lock for holder. It succeeds when the key is unheld,
// already held by the same holder (renewal), or held by an expired holder.
func (d *DistributedLock) Acquire(key, holder string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	if entry, ok := d.locks[key]; ok {
		if entry.holder != holder && entry.expiresAt.After(now) {
			return ErrLockHeld
		}
	}
	d.locks[key] = lockEntry{holder: holder, expiresAt: now.Add(ttl)}
	return nil
}

// Release frees the lock. Only the recorded holder may release.
func (d *DistributedLock) Release(key, holder string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.locks[key]
	if !ok || entry.holder != holder {
		return ErrNotHolder
	}
	delete(d.locks, key)
	return nil
}

// Holder returns the current unexpired holder of key, if any.
func (d *DistributedLock) Holder(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.locks[key]
	if !ok || !entry.expiresAt.After(time.Now().UTC()) {
		return "", false
	}
	return entry.holder, true
}
