// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/platform/controlplane/audit"
)

func requirementByID(t *testing.T, report Report, id string) Requirement {
	t.Helper()
	for _, req := range report.Requirements {
		if req.ID == id {
			return req
		}
	}
	t.Fatalf("requirement %s missing from report", id)
	return Requirement{}
}

func TestEmptyWindowNotAssessed(t *testing.T) {
	log, err := audit.Open("")
	require.NoError(t, err)
	checker := NewChecker(log)

	report := checker.Evaluate(24 * time.Hour)
	assert.Equal(t, StatusNotAssessed, requirementByID(t, report, "CC7.2").Status)
	assert.Equal(t, StatusNotAssessed, requirementByID(t, report, "CC7.3").Status)
}

func TestIntegrityCompliant(t *testing.T) {
	log, err := audit.Open("")
	require.NoError(t, err)
	_, err = log.Record(audit.CategoryAuth, audit.SeverityInfo,
		map[string]interface{}{"op": "login"}, audit.RecordOptions{UserID: "alice"})
	require.NoError(t, err)
	_, err = log.Record(audit.CategoryConfig, audit.SeverityInfo,
		map[string]interface{}{"op": "propose"}, audit.RecordOptions{})
	require.NoError(t, err)
	_, err = log.Record(audit.CategoryApproval, audit.SeverityInfo,
		map[string]interface{}{"op": "vote"}, audit.RecordOptions{})
	require.NoError(t, err)

	report := NewChecker(log).Evaluate(24 * time.Hour)
	assert.Equal(t, StatusCompliant, requirementByID(t, report, "CC7.2").Status)
	assert.Equal(t, StatusCompliant, requirementByID(t, report, "CC7.3").Status)
	assert.Equal(t, StatusCompliant, requirementByID(t, report, "CC8.1").Status)
	assert.Equal(t, StatusCompliant, requirementByID(t, report, "CC6.1").Status)
}

func TestConfigWithoutApprovalNonCompliant(t *testing.T) {
	log, err := audit.Open("")
	require.NoError(t, err)
	_, err = log.Record(audit.CategoryConfig, audit.SeverityInfo,
		map[string]interface{}{"op": "apply"}, audit.RecordOptions{})
	require.NoError(t, err)

	report := NewChecker(log).Evaluate(24 * time.Hour)
	cc81 := requirementByID(t, report, "CC8.1")
	assert.Equal(t, StatusNonCompliant, cc81.Status)
	assert.NotEmpty(t, cc81.Findings)
}
