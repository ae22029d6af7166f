// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// flushThreshold is the soft cap on buffered events before a flush.
const flushThreshold = 100

// Log is a date-partitioned, per-run event log. Events are buffered in
// memory and flushed to <root>/YYYY/MM/DD/<run_id>.jsonl.gz either when the
// buffer exceeds the threshold or when a reader asks for a run's events.
// Each flush appends a gzip member; Go's gzip reader transparently decodes
// concatenated members on read.
type Log struct {
	root string

	mu     sync.Mutex
	buffer []Event
}

// New creates an event log rooted at dir.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log root: %w", err)
	}
	return &Log{root: dir}, nil
}

// Append adds an event to the log. Durability: the event is persisted no
// later than the next flush or read of its run.
func (l *Log) Append(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) > flushThreshold {
		return l.flushLocked()
	}
	return nil
}

// Flush persists all buffered events.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// GetRunEvents returns every event appended for runID, sorted by timestamp
// ascending. Once an event is returned here it has been persisted.
func (l *Log) GetRunEvents(runID string) ([]Event, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}

	var events []Event
	files, err := l.runFiles(runID)
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		fileEvents, err := readEventFile(path)
		if err != nil {
			return nil, err
		}
		events = append(events, fileEvents...)
	}

	// Re-sort globally: buffering may interleave partitions and clocks
	// may drift across flushes.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// GetRunEventsRange returns runID's events with start <= timestamp < end.
func (l *Log) GetRunEventsRange(runID string, start, end time.Time) ([]Event, error) {
	all, err := l.GetRunEvents(runID)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, e := range all {
		if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
			events = append(events, e)
		}
	}
	return events, nil
}

// flushLocked writes the buffer out grouped by (date partition, run).
// Caller holds l.mu.
func (l *Log) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	type partition struct {
		date  string
		runID string
	}
	groups := make(map[partition][]Event)
	for _, e := range l.buffer {
		p := partition{date: e.Timestamp.UTC().Format("2006/01/02"), runID: e.RunID}
		groups[p] = append(groups[p], e)
	}

	for p, events := range groups {
		dir := filepath.Join(l.root, p.date)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create event partition: %w", err)
		}
		path := filepath.Join(dir, p.runID+".jsonl.gz")
		if err := appendEvents(path, events); err != nil {
			return err
		}
	}

	l.buffer = l.buffer[:0]
	return nil
}

func appendEvents(path string, events []Event) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event file: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz := gzip.NewWriter(f)
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if _, err := gz.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish event file: %w", err)
	}
	return nil
}

func readEventFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	defer func() { _ = gz.Close() }()

	var events []Event
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event file: %w", err)
	}
	return events, nil
}

// runFiles walks the date partitions and returns every file for runID.
func (l *Log) runFiles(runID string) ([]string, error) {
	var files []string
	name := runID + ".jsonl.gz"
	err := filepath.WalkDir(l.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan event partitions: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
