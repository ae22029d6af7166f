// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit provides the tamper-evident audit log. Entries form a hash
// chain: each entry's hash covers its own content plus the previous entry's
// hash, so any mutation anywhere breaks verification.
package audit

import "time"

// Category groups audit entries by subsystem.
type Category string

const (
	CategoryAuth       Category = "auth"
	CategoryWorkflow   Category = "workflow"
	CategoryApproval   Category = "approval"
	CategoryConfig     Category = "config"
	CategoryCapacity   Category = "capacity"
	CategorySecrets    Category = "secrets"
	CategoryTenant     Category = "tenant"
	CategoryCluster    Category = "cluster"
	CategoryRBAC       Category = "rbac"
	CategoryCompliance Category = "compliance"
)

// Severity grades audit entries.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is one hash-chained audit record.
type Entry struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Category     Category               `json:"category"`
	Severity     Severity               `json:"severity"`
	Action       map[string]interface{} `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	TenantID     string                 `json:"tenant_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
	PreviousHash string                 `json:"previous_hash,omitempty"`
	EntryHash    string                 `json:"entry_hash"`
}

// VerifyError describes one broken link found by VerifyChain.
type VerifyError struct {
	Index   int    `json:"index"`
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// Statistics aggregates the audit log for the statistics endpoint.
type Statistics struct {
	TotalEntries int                `json:"total_entries"`
	ByCategory   map[Category]int   `json:"by_category"`
	BySeverity   map[Severity]int   `json:"by_severity"`
	OldestEntry  *time.Time         `json:"oldest_entry,omitempty"`
	NewestEntry  *time.Time         `json:"newest_entry,omitempty"`
}
