// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestAppendAndRead(t *testing.T) {
	l := newTestLog(t)
	runID := "run-1"

	for i := 0; i < 5; i++ {
		e := NewEvent(runID, StepStarted, map[string]interface{}{"step_id": fmt.Sprintf("s%d", i)})
		require.NoError(t, l.Append(e))
	}

	events, err := l.GetRunEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestReadSortsByTimestamp(t *testing.T) {
	l := newTestLog(t)
	runID := "run-sorted"

	now := time.Now().UTC()
	// Append out of order; the read path must re-sort.
	for _, offset := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		e := NewEvent(runID, StepStarted, nil)
		e.Timestamp = now.Add(offset)
		require.NoError(t, l.Append(e))
	}

	events, err := l.GetRunEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, now.Add(time.Second), events[0].Timestamp)
	assert.Equal(t, now.Add(3*time.Second), events[2].Timestamp)
}

func TestFlushThreshold(t *testing.T) {
	l := newTestLog(t)
	runID := "run-flush"

	// One past the threshold forces a flush without any reader.
	for i := 0; i <= flushThreshold; i++ {
		require.NoError(t, l.Append(NewEvent(runID, StepStarted, nil)))
	}

	l.mu.Lock()
	buffered := len(l.buffer)
	l.mu.Unlock()
	assert.Zero(t, buffered)

	// The partition file exists on disk.
	date := time.Now().UTC().Format("2006/01/02")
	_, err := os.Stat(filepath.Join(l.root, date, runID+".jsonl.gz"))
	assert.NoError(t, err)
}

func TestMultipleFlushesAppend(t *testing.T) {
	l := newTestLog(t)
	runID := "run-multi"

	require.NoError(t, l.Append(NewEvent(runID, RunStarted, nil)))
	require.NoError(t, l.Flush())
	require.NoError(t, l.Append(NewEvent(runID, RunCompleted, nil)))
	require.NoError(t, l.Flush())

	events, err := l.GetRunEvents(runID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRunIsolation(t *testing.T) {
	l := newTestLog(t)

	require.NoError(t, l.Append(NewEvent("run-a", RunStarted, nil)))
	require.NoError(t, l.Append(NewEvent("run-b", RunStarted, nil)))
	require.NoError(t, l.Append(NewEvent("run-a", RunCompleted, nil)))

	a, err := l.GetRunEvents("run-a")
	require.NoError(t, err)
	assert.Len(t, a, 2)

	b, err := l.GetRunEvents("run-b")
	require.NoError(t, err)
	assert.Len(t, b, 1)
}

func TestGetRunEventsRange(t *testing.T) {
	l := newTestLog(t)
	runID := "run-range"
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		e := NewEvent(runID, StepStarted, nil)
		e.Timestamp = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, l.Append(e))
	}

	events, err := l.GetRunEventsRange(runID, now.Add(time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEmptyRun(t *testing.T) {
	l := newTestLog(t)
	events, err := l.GetRunEvents("never-ran")
	require.NoError(t, err)
	assert.Empty(t, events)
}
