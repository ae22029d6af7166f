// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package compliance derives framework requirement statuses from the
// audit log. It counts and labels; it does not judge business logic.
package compliance

import (
	"fmt"
	"time"

	"maestro/platform/controlplane/audit"
)

// RequirementStatus is a requirement's evaluated state.
type RequirementStatus string

const (
	StatusCompliant    RequirementStatus = "compliant"
	StatusNonCompliant RequirementStatus = "non_compliant"
	StatusNotAssessed  RequirementStatus = "not_assessed"
)

// Requirement is one framework control with its evidence.
type Requirement struct {
	ID        string            `json:"id"`
	Framework string            `json:"framework"`
	Name      string            `json:"name"`
	Status    RequirementStatus `json:"status"`
	Evidence  []string          `json:"evidence"`
	Findings  []string          `json:"findings,omitempty"`
}

// Report is one compliance evaluation over a window.
type Report struct {
	GeneratedAt  time.Time     `json:"generated_at"`
	WindowStart  time.Time     `json:"window_start"`
	Requirements []Requirement `json:"requirements"`
}

// Checker evaluates requirements against the audit log.
type Checker struct {
	auditLog *audit.Log
}

// NewChecker creates a checker over the given audit log.
func NewChecker(auditLog *audit.Log) *Checker {
	return &Checker{auditLog: auditLog}
}

// Evaluate derives the requirement list from audit entries recorded in
// the window ending now.
func (c *Checker) Evaluate(window time.Duration) Report {
	now := time.Now().UTC()
	cutoff := now.Add(-window)

	entries := c.auditLog.EntriesSince(cutoff)
	violations := c.auditLog.VerifyChain()

	byCategory := make(map[audit.Category]int)
	bySeverity := make(map[audit.Severity]int)
	for _, entry := range entries {
		byCategory[entry.Category]++
		bySeverity[entry.Severity]++
	}

	report := Report{
		GeneratedAt: now,
		WindowStart: cutoff,
	}

	// CC7.2 — security events are being monitored.
	cc72 := Requirement{
		ID:        "CC7.2",
		Framework: "SOC2",
		Name:      "Security event monitoring",
		Evidence: []string{
			fmt.Sprintf("%d audit entries recorded in window", len(entries)),
			fmt.Sprintf("%d auth entries in window", byCategory[audit.CategoryAuth]),
		},
	}
	if len(entries) > 0 {
		cc72.Status = StatusCompliant
	} else {
		cc72.Status = StatusNotAssessed
		cc72.Findings = append(cc72.Findings, "no audit activity observed in window")
	}
	report.Requirements = append(report.Requirements, cc72)

	// CC7.3 — audit trail integrity: chain verifies and events exist.
	cc73 := Requirement{
		ID:        "CC7.3",
		Framework: "SOC2",
		Name:      "Audit trail integrity",
		Evidence: []string{
			fmt.Sprintf("%d chain violations", len(violations)),
			fmt.Sprintf("%d entries in window", len(entries)),
		},
	}
	switch {
	case len(violations) > 0:
		cc73.Status = StatusNonCompliant
		for _, v := range violations {
			cc73.Findings = append(cc73.Findings, fmt.Sprintf("entry %d (%s): %s", v.Index, v.EntryID, v.Reason))
		}
	case len(entries) == 0:
		cc73.Status = StatusNotAssessed
		cc73.Findings = append(cc73.Findings, "no entries in window to attest")
	default:
		cc73.Status = StatusCompliant
	}
	report.Requirements = append(report.Requirements, cc73)

	// CC8.1 — changes go through the approval gate.
	cc81 := Requirement{
		ID:        "CC8.1",
		Framework: "SOC2",
		Name:      "Change management",
		Evidence: []string{
			fmt.Sprintf("%d config entries in window", byCategory[audit.CategoryConfig]),
			fmt.Sprintf("%d approval entries in window", byCategory[audit.CategoryApproval]),
		},
	}
	switch {
	case byCategory[audit.CategoryConfig] == 0:
		cc81.Status = StatusNotAssessed
		cc81.Findings = append(cc81.Findings, "no configuration changes in window")
	case byCategory[audit.CategoryApproval] > 0:
		cc81.Status = StatusCompliant
	default:
		cc81.Status = StatusNonCompliant
		cc81.Findings = append(cc81.Findings, "configuration changes without approval activity")
	}
	report.Requirements = append(report.Requirements, cc81)

	// CC6.1 — access control events are recorded.
	cc61 := Requirement{
		ID:        "CC6.1",
		Framework: "SOC2",
		Name:      "Logical access controls",
		Evidence: []string{
			fmt.Sprintf("%d rbac entries in window", byCategory[audit.CategoryRBAC]),
			fmt.Sprintf("%d critical entries in window", bySeverity[audit.SeverityCritical]),
		},
	}
	if byCategory[audit.CategoryRBAC] > 0 || byCategory[audit.CategoryAuth] > 0 {
		cc61.Status = StatusCompliant
	} else {
		cc61.Status = StatusNotAssessed
		cc61.Findings = append(cc61.Findings, "no access-control activity in window")
	}
	report.Requirements = append(report.Requirements, cc61)

	return report
}
