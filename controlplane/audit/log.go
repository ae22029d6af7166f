// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is the append-only, hash-chained audit log. Entries are held in
// memory and mirrored to a JSONL file; the file is replayed on open so the
// chain survives restarts.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	file    *os.File
}

// Open creates (or reopens) an audit log persisted at path. Pass an empty
// path for a memory-only log (tests).
func Open(path string) (*Log, error) {
	l := &Log{}
	if path == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}

	if data, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(data)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var e Entry
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				_ = data.Close()
				return nil, fmt.Errorf("failed to replay audit log: %w", err)
			}
			l.entries = append(l.entries, e)
		}
		_ = data.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to replay audit log: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	l.file = f
	return l, nil
}

// Close releases the backing file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// RecordOptions carries the optional identity fields of an audit entry.
type RecordOptions struct {
	UserID    string
	TenantID  string
	IPAddress string
	Metadata  map[string]string
}

// Record appends a new entry linked to the current chain head and returns it.
func (l *Log) Record(category Category, severity Severity, action map[string]interface{}, opts RecordOptions) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Category:  category,
		Severity:  severity,
		Action:    action,
		UserID:    opts.UserID,
		TenantID:  opts.TenantID,
		IPAddress: opts.IPAddress,
		Metadata:  opts.Metadata,
	}
	if n := len(l.entries); n > 0 {
		entry.PreviousHash = l.entries[n-1].EntryHash
	}

	hash, err := computeEntryHash(entry)
	if err != nil {
		return Entry{}, err
	}
	entry.EntryHash = hash

	if l.file != nil {
		line, err := json.Marshal(entry)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to encode audit entry: %w", err)
		}
		if _, err := l.file.Write(append(line, '\n')); err != nil {
			return Entry{}, fmt.Errorf("failed to persist audit entry: %w", err)
		}
	}

	l.entries = append(l.entries, entry)
	return entry, nil
}

// Entries returns a copy of the chain, oldest first. limit <= 0 returns all.
func (l *Log) Entries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit > 0 && limit < n {
		return append([]Entry(nil), l.entries[n-limit:]...)
	}
	return append([]Entry(nil), l.entries...)
}

// EntriesSince returns entries recorded at or after cutoff.
func (l *Log) EntriesSince(cutoff time.Time) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// VerifyChain recomputes every entry hash and checks the back-links. It
// reports all violations; it never repairs anything.
func (l *Log) VerifyChain() []VerifyError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verify(l.entries)
}

// Statistics aggregates the log by category and severity.
func (l *Log) Statistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Statistics{
		TotalEntries: len(l.entries),
		ByCategory:   make(map[Category]int),
		BySeverity:   make(map[Severity]int),
	}
	for i := range l.entries {
		e := &l.entries[i]
		stats.ByCategory[e.Category]++
		stats.BySeverity[e.Severity]++
	}
	if len(l.entries) > 0 {
		oldest := l.entries[0].Timestamp
		newest := l.entries[len(l.entries)-1].Timestamp
		stats.OldestEntry = &oldest
		stats.NewestEntry = &newest
	}
	return stats
}

func verify(entries []Entry) []VerifyError {
	var errs []VerifyError
	for i := range entries {
		e := entries[i]
		hash, err := computeEntryHash(e)
		if err != nil {
			errs = append(errs, VerifyError{Index: i, EntryID: e.ID, Reason: "unhashable entry"})
			continue
		}
		if hash != e.EntryHash {
			errs = append(errs, VerifyError{Index: i, EntryID: e.ID, Reason: "entry hash mismatch"})
		}
		if i == 0 {
			if e.PreviousHash != "" {
				errs = append(errs, VerifyError{Index: i, EntryID: e.ID, Reason: "first entry has previous hash"})
			}
			continue
		}
		if e.PreviousHash != entries[i-1].EntryHash {
			errs = append(errs, VerifyError{Index: i, EntryID: e.ID, Reason: "chain link mismatch"})
		}
	}
	return errs
}

// computeEntryHash hashes the entry's identifying content plus the previous
// hash. EntryHash itself is excluded.
func computeEntryHash(e Entry) (string, error) {
	actionJSON, err := json.Marshal(e.Action)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit action: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(e.ID))
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(e.Category))
	h.Write([]byte(e.Severity))
	h.Write(actionJSON)
	h.Write([]byte(e.UserID))
	h.Write([]byte(e.TenantID))
	h.Write([]byte(e.PreviousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}
