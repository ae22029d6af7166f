// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package runindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrNotFound is returned when no run exists for an id.
var ErrNotFound = errors.New("run not found")

// Store is a single-file key-value index of runs. All mutations serialize
// the full table back to disk; run volumes are small enough that a single
// file plus an in-memory map is the entire story.
type Store struct {
	path string

	mu   sync.RWMutex
	runs map[string]*Run
}

// Open loads (or creates) the index file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}

	s := &Store{path: path, runs: make(map[string]*Run)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.runs); err != nil {
			return nil, fmt.Errorf("failed to decode index: %w", err)
		}
	}
	return s, nil
}

// PutRun inserts or replaces a run record.
func (s *Store) PutRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = cloneRun(run)
	return s.persistLocked()
}

// GetRun returns the run stored under id.
func (s *Store) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns all runs sorted by StartedAt descending.
func (s *Store) ListRuns() ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// UpdateRunStatus applies fn to the stored run under the store's write
// lock. Concurrent read-modify-write cycles are serialized here.
func (s *Store) UpdateRunStatus(id string, fn func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	fn(run)
	return s.persistLocked()
}

// cloneRun deep-copies a run. Stored records must never share slices or
// pointers with callers: the store's mutex only protects what it owns.
func cloneRun(run *Run) *Run {
	clone := *run
	if run.CompletedAt != nil {
		ts := *run.CompletedAt
		clone.CompletedAt = &ts
	}
	if run.Steps != nil {
		clone.Steps = make([]StepExecution, len(run.Steps))
		for i, step := range run.Steps {
			clone.Steps[i] = cloneStep(step)
		}
	}
	return &clone
}

func cloneStep(step StepExecution) StepExecution {
	if step.StartedAt != nil {
		ts := *step.StartedAt
		step.StartedAt = &ts
	}
	if step.CompletedAt != nil {
		ts := *step.CompletedAt
		step.CompletedAt = &ts
	}
	if step.Artifacts != nil {
		step.Artifacts = append([]string(nil), step.Artifacts...)
	}
	return step
}

// persistLocked writes the table atomically. Caller holds s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.runs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}
