// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package capacity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"maestro/platform/controlplane/eventlog"
	"maestro/platform/controlplane/metrics"
	"maestro/platform/shared/logger"
)

const (
	rateWindow     = 60 * time.Second
	defaultBackoff = 60 * time.Second
)

// sourceState pairs a source's configuration with its live accounting.
type sourceState struct {
	source Source
	state  RateLimitState
}

// Broker routes LLM requests to the best eligible source, queueing when
// nothing can serve.
type Broker struct {
	mu       sync.Mutex
	sources  map[string]*sourceState
	usage    []Usage
	queue    *Queue
	provider Provider
	cache    ResponseCache
	registry *metrics.Registry
	events   *eventlog.Log
	log      *logger.Logger

	// now is swapped in tests to step through rate windows.
	now func() time.Time
}

// NewBroker creates a broker. cache and registry may be nil.
func NewBroker(provider Provider, queue *Queue, cache ResponseCache, registry *metrics.Registry) *Broker {
	if queue == nil {
		queue = NewQueue(0)
	}
	return &Broker{
		sources:  make(map[string]*sourceState),
		queue:    queue,
		provider: provider,
		cache:    cache,
		registry: registry,
		log:      logger.New("capacity-broker"),
		now:      time.Now,
	}
}

// SetEventLog attaches the per-run event log. Run-scoped requests then
// record which source served or throttled them.
func (b *Broker) SetEventLog(events *eventlog.Log) {
	b.events = events
}

// AddSource registers a source with a fresh rate-limit window.
func (b *Broker) AddSource(src Source) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.sources[src.ID]; exists {
		return ErrSourceExists
	}
	now := b.now().UTC()
	b.sources[src.ID] = &sourceState{
		source: src,
		state: RateLimitState{
			WindowStart:  now,
			DailyResetAt: now.Add(24 * time.Hour),
		},
	}
	return nil
}

// GetSource returns a source's configuration.
func (b *Broker) GetSource(id string) (*Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ss, ok := b.sources[id]
	if !ok {
		return nil, ErrSourceNotFound
	}
	clone := ss.source
	return &clone, nil
}

// ListSources returns all sources sorted by priority descending.
func (b *Broker) ListSources() []*Source {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Source, 0, len(b.sources))
	for _, ss := range b.sources {
		clone := ss.source
		out = append(out, &clone)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// UpdateSource replaces a source's configuration, keeping its accounting.
func (b *Broker) UpdateSource(src Source) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ss, ok := b.sources[src.ID]
	if !ok {
		return ErrSourceNotFound
	}
	ss.source = src
	return nil
}

// RemoveSource deletes a source and its accounting.
func (b *Broker) RemoveSource(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sources[id]; !ok {
		return ErrSourceNotFound
	}
	delete(b.sources, id)
	return nil
}

// State returns a source's current rate-limit accounting.
func (b *Broker) State(id string) (*RateLimitState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ss, ok := b.sources[id]
	if !ok {
		return nil, ErrSourceNotFound
	}
	clone := ss.state
	if ss.state.BackoffUntil != nil {
		ts := *ss.state.BackoffUntil
		clone.BackoffUntil = &ts
	}
	return &clone, nil
}

// SelectSource picks the highest-priority enabled source able to serve
// requiredTokens, advancing rate windows as a side effect.
func (b *Broker) SelectSource(requiredTokens int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selectSourceLocked(requiredTokens)
}

func (b *Broker) selectSourceLocked(requiredTokens int64) (string, bool) {
	now := b.now().UTC()

	candidates := make([]*sourceState, 0, len(b.sources))
	for _, ss := range b.sources {
		if ss.source.Enabled {
			candidates = append(candidates, ss)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].source.Priority > candidates[j].source.Priority
	})

	for _, ss := range candidates {
		st := &ss.state
		if !now.Before(st.WindowStart.Add(rateWindow)) {
			st.WindowStart = now
			st.RequestsInWindow = 0
			st.TokensInWindow = 0
		}
		if !now.Before(st.DailyResetAt) {
			st.DailyTokens = 0
			st.DailyResetAt = now.Add(24 * time.Hour)
		}
		if st.BackoffUntil != nil {
			if st.BackoffUntil.After(now) {
				continue
			}
			st.BackoffUntil = nil
		}

		limits := ss.source.RateLimits
		if st.RequestsInWindow+1 > limits.RPM {
			continue
		}
		if st.TokensInWindow+requiredTokens > limits.TPM {
			continue
		}
		if limits.TPD != nil && st.DailyTokens+requiredTokens > *limits.TPD {
			continue
		}
		return ss.source.ID, true
	}
	return "", false
}

// Reserve books requiredTokens and one request against the source before
// the upstream call. The reservation is pessimistic: it is never rolled
// back on failure, biasing the broker toward throttling.
func (b *Broker) Reserve(sourceID string, requiredTokens int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ss, ok := b.sources[sourceID]
	if !ok {
		return ErrSourceNotFound
	}
	ss.state.RequestsInWindow++
	ss.state.TokensInWindow += requiredTokens
	ss.state.DailyTokens += requiredTokens
	return nil
}

// ApplyBackoff sidelines a source until now + retryAfter (or the default
// backoff when retryAfter is zero).
func (b *Broker) ApplyBackoff(sourceID string, retryAfter time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ss, ok := b.sources[sourceID]
	if !ok {
		return ErrSourceNotFound
	}
	if retryAfter <= 0 {
		retryAfter = defaultBackoff
	}
	until := b.now().UTC().Add(retryAfter)
	ss.state.BackoffUntil = &until
	b.log.Warn("", "", "source backed off", map[string]interface{}{
		"source_id":   sourceID,
		"retry_after": retryAfter.String(),
	})
	return nil
}

// ExecuteRequest runs the full call lifecycle: cache probe, source
// selection, pessimistic reservation, provider call, usage recording.
// When no source can serve, the request is queued and ErrNoCapacity is
// returned.
func (b *Broker) ExecuteRequest(ctx context.Context, req Request) (*Result, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = b.now().UTC()
	}

	b.mu.Lock()
	sourceID, ok := b.selectSourceLocked(req.MaxTokens)
	if !ok {
		b.mu.Unlock()
		return nil, b.enqueue(&req)
	}
	ss := b.sources[sourceID]
	src := ss.source

	if b.cache != nil {
		if content, hit := b.cache.Get(ctx, CacheKey(req.Prompt, src.Model)); hit {
			b.mu.Unlock()
			b.observe(sourceID, "cache_hit")
			b.emitRunEvent(req.RunID, eventlog.CapacitySourceUsed, map[string]interface{}{
				"step_id":   req.StepID,
				"source_id": sourceID,
				"cached":    true,
			})
			return &Result{Content: content, Cached: true, SourceID: sourceID}, nil
		}
	}

	ss.state.RequestsInWindow++
	ss.state.TokensInWindow += req.MaxTokens
	ss.state.DailyTokens += req.MaxTokens
	b.mu.Unlock()

	req.Attempts++
	result, err := b.provider.Complete(ctx, src, req)
	if err != nil {
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			_ = b.ApplyBackoff(sourceID, rl.RetryAfter)
			b.observe(sourceID, "rate_limited")
			b.emitRunEvent(req.RunID, eventlog.CapacitySourceThrottled, map[string]interface{}{
				"step_id":          req.StepID,
				"source_id":        sourceID,
				"retry_after_secs": rl.RetryAfter.Seconds(),
			})
			return nil, b.enqueue(&req)
		}
		b.observe(sourceID, "error")
		return nil, err
	}

	result.SourceID = sourceID
	b.recordUsage(Usage{
		SourceID:     sourceID,
		Timestamp:    b.now().UTC(),
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		Cost:         float64(result.InputTokens+result.OutputTokens) * src.CostPerToken,
		RequestCount: 1,
		RunID:        req.RunID,
		StepID:       req.StepID,
	})
	b.observe(sourceID, "success")
	b.emitRunEvent(req.RunID, eventlog.CapacitySourceUsed, map[string]interface{}{
		"step_id":       req.StepID,
		"source_id":     sourceID,
		"input_tokens":  result.InputTokens,
		"output_tokens": result.OutputTokens,
	})

	if b.cache != nil {
		b.cache.Set(ctx, CacheKey(req.Prompt, src.Model), result.Content)
	}
	return result, nil
}

// DrainQueued attempts to re-execute up to limit queued requests,
// stopping at the first that still finds no source. It returns the
// number of requests completed.
func (b *Broker) DrainQueued(ctx context.Context, limit int) int {
	drained := 0
	for drained < limit {
		req, ok := b.queue.Dequeue()
		if !ok {
			return drained
		}
		if _, err := b.ExecuteRequest(ctx, *req); err != nil {
			// ExecuteRequest re-queued it (or failed hard); stop here.
			return drained
		}
		drained++
	}
	return drained
}

// QueueLen reports the number of requests waiting for capacity.
func (b *Broker) QueueLen() int { return b.queue.Len() }

// UsageRecords returns a copy of all usage records.
func (b *Broker) UsageRecords() []Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Usage(nil), b.usage...)
}

// TotalCost sums cost across all usage records, optionally filtered by
// source id ("" = all).
func (b *Broker) TotalCost(sourceID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total float64
	for _, u := range b.usage {
		if sourceID == "" || u.SourceID == sourceID {
			total += u.Cost
		}
	}
	return total
}

func (b *Broker) enqueue(req *Request) error {
	if err := b.queue.Enqueue(req); err != nil {
		b.log.Warn("", "", "request dropped, queue full", map[string]interface{}{
			"request_id": req.ID,
			"priority":   req.Priority,
		})
		return ErrNoCapacity
	}
	return ErrNoCapacity
}

func (b *Broker) recordUsage(u Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = append(b.usage, u)
}

// emitRunEvent appends a capacity event to the run's stream. Requests
// without a run id (ad-hoc API calls, queue drains of such) stay silent.
func (b *Broker) emitRunEvent(runID string, eventType eventlog.EventType, payload map[string]interface{}) {
	if b.events == nil || runID == "" {
		return
	}
	_ = b.events.Append(eventlog.NewEvent(runID, eventType, payload))
}

func (b *Broker) observe(sourceID, outcome string) {
	if b.registry == nil {
		return
	}
	b.registry.IncCounter("capacity_requests_total", metrics.Labels{
		"source":  sourceID,
		"outcome": outcome,
	}, 1)
}
