// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package capacity brokers LLM requests across rate-limited sources with
// priority queueing and per-source backoff.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimits caps a source's throughput. TPD is nil when the source has
// no daily token ceiling.
type RateLimits struct {
	RPM int64  `json:"rpm"`
	TPM int64  `json:"tpm"`
	TPD *int64 `json:"tpd,omitempty"`
}

// Source is one LLM capacity source.
type Source struct {
	ID           string     `json:"id"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	RateLimits   RateLimits `json:"rate_limits"`
	CostPerToken float64    `json:"cost_per_token"`
	Priority     uint8      `json:"priority"`
	Enabled      bool       `json:"enabled"`
}

// RateLimitState is the sliding-window accounting for one source.
type RateLimitState struct {
	WindowStart      time.Time  `json:"window_start"`
	RequestsInWindow int64      `json:"requests_in_window"`
	TokensInWindow   int64      `json:"tokens_in_window"`
	DailyTokens      int64      `json:"daily_tokens"`
	DailyResetAt     time.Time  `json:"daily_reset_at"`
	BackoffUntil     *time.Time `json:"backoff_until,omitempty"`
}

// Request is one LLM call to place through the broker.
type Request struct {
	ID        string    `json:"id"`
	Priority  uint8     `json:"priority"`
	RunID     string    `json:"run_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Prompt    string    `json:"prompt"`
	MaxTokens int64     `json:"max_tokens"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

// Usage is one append-only usage record.
type Usage struct {
	SourceID     string    `json:"source_id"`
	Timestamp    time.Time `json:"timestamp"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	RequestCount int64     `json:"request_count"`
	RunID        string    `json:"run_id,omitempty"`
	StepID       string    `json:"step_id,omitempty"`
}

// Result is a provider's successful completion.
type Result struct {
	Content      string `json:"content"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Cached       bool   `json:"cached"`
	SourceID     string `json:"source_id"`
}

// Provider executes a request against a concrete upstream model.
type Provider interface {
	Complete(ctx context.Context, source Source, req Request) (*Result, error)
}

// RateLimitedError signals an upstream 429. RetryAfter is zero when the
// upstream gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

var (
	// ErrSourceNotFound is returned when a source id is unknown
	ErrSourceNotFound = errors.New("capacity source not found")

	// ErrSourceExists is returned when adding a duplicate source id
	ErrSourceExists = errors.New("capacity source already exists")

	// ErrNoCapacity is returned when no source can serve and the request
	// was queued (or the queue was full)
	ErrNoCapacity = errors.New("no capacity available")
)
