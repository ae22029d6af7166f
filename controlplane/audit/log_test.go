// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Record(CategoryWorkflow, SeverityInfo,
			map[string]interface{}{"op": "run_started", "seq": i},
			RecordOptions{UserID: "u1", TenantID: "t1"})
		require.NoError(t, err)
	}
}

func TestChainVerifies(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)

	record(t, l, 5)
	assert.Empty(t, l.VerifyChain())

	entries := l.Entries(0)
	require.Len(t, entries, 5)
	assert.Empty(t, entries[0].PreviousHash)
	for i := 1; i < 5; i++ {
		assert.Equal(t, entries[i-1].EntryHash, entries[i].PreviousHash)
	}
}

func TestTamperDetection(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)
	record(t, l, 5)

	// Mutate a field in the first entry behind the log's back.
	l.mu.Lock()
	l.entries[0].UserID = "attacker"
	l.mu.Unlock()

	errs := l.VerifyChain()
	require.NotEmpty(t, errs)
	assert.Equal(t, 0, errs[0].Index)
}

func TestTamperedLinkDetection(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)
	record(t, l, 3)

	// Replace a middle entry wholesale with a self-consistent one; the
	// next entry's back-link must still expose it.
	l.mu.Lock()
	forged := l.entries[1]
	forged.Action = map[string]interface{}{"op": "forged"}
	hash, hashErr := computeEntryHash(forged)
	require.NoError(t, hashErr)
	forged.EntryHash = hash
	l.entries[1] = forged
	l.mu.Unlock()

	errs := l.VerifyChain()
	require.NotEmpty(t, errs)
	assert.Equal(t, 2, errs[0].Index)
	assert.Equal(t, "chain link mismatch", errs[0].Reason)
}

func TestPersistenceReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l, err := Open(path)
	require.NoError(t, err)
	record(t, l, 4)
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Len(t, reopened.Entries(0), 4)
	assert.Empty(t, reopened.VerifyChain())

	// The chain continues from the replayed head.
	record(t, reopened, 1)
	entries := reopened.Entries(0)
	assert.Equal(t, entries[3].EntryHash, entries[4].PreviousHash)
}

func TestEntriesLimit(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)
	record(t, l, 10)

	assert.Len(t, l.Entries(3), 3)
	assert.Len(t, l.Entries(0), 10)
	assert.Len(t, l.Entries(100), 10)
}

func TestStatistics(t *testing.T) {
	l, err := Open("")
	require.NoError(t, err)
	record(t, l, 2)
	_, err = l.Record(CategoryAuth, SeverityCritical, map[string]interface{}{"op": "login_failed"}, RecordOptions{})
	require.NoError(t, err)

	stats := l.Statistics()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.ByCategory[CategoryWorkflow])
	assert.Equal(t, 1, stats.ByCategory[CategoryAuth])
	assert.Equal(t, 1, stats.BySeverity[SeverityCritical])
	require.NotNil(t, stats.OldestEntry)
	require.NotNil(t, stats.NewestEntry)
}
