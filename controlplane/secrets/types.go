// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package secrets provides versioned secret storage with rotation policies.
// Values are encrypted at rest with an authenticated cipher; metadata reads
// never expose plaintext.
package secrets

import "time"

// RotationPolicy controls automatic rotation reminders for a secret.
type RotationPolicy struct {
	Enabled      bool          `json:"enabled"`
	Interval     time.Duration `json:"interval"`
	NotifyBefore time.Duration `json:"notify_before,omitempty"`
}

// Secret is the stored metadata for one secret. The encrypted value never
// leaves the store through this struct.
type Secret struct {
	ID            string         `json:"id"`
	Description   string         `json:"description,omitempty"`
	ValueHash     string         `json:"value_hash"`
	Version       int            `json:"version"`
	Rotation      RotationPolicy `json:"rotation"`
	TenantID      string         `json:"tenant_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastRotatedAt *time.Time     `json:"last_rotated_at,omitempty"`
}

// Version is one historical value of a secret.
type Version struct {
	Number       int        `json:"number"`
	ValueHash    string     `json:"value_hash"`
	CreatedAt    time.Time  `json:"created_at"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}
