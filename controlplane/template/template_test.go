// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/platform/controlplane/workflow"
)

func strptr(s string) *string { return &s }

func incidentTemplate() Template {
	return Template{
		ID:   "incident-response",
		Name: "Incident response",
		Parameters: []Parameter{
			{Name: "severity", Type: ParamString},
			{Name: "analyst", Type: ParamPersonID},
			{Name: "max_lines", Type: ParamNumber, DefaultValue: strptr("100")},
			{Name: "notify", Type: ParamBoolean, DefaultValue: strptr("true")},
		},
		Workflow: workflow.Spec{
			Name: "respond to {{severity}} incident",
			Steps: []workflow.StepSpec{
				{
					ID:   "triage",
					Name: "triage {{severity}}",
					Action: workflow.Action{
						Type:   workflow.ActionAgentTask,
						Prompt: "Triage a {{severity}} incident, report at most {{max_lines}} lines",
					},
				},
				{
					ID:   "collect",
					Name: "collect logs",
					Action: workflow.Action{
						Type:    workflow.ActionScript,
						Command: "collect-logs",
						Args:    []string{"--lines", "{{max_lines}}"},
					},
				},
				{
					ID:   "signoff",
					Name: "sign off",
					Action: workflow.Action{
						Type:      workflow.ActionManualApproval,
						Approvers: []string{"{{analyst}}"},
					},
				},
			},
			Dependencies: map[string][]string{
				"collect": {"triage"},
				"signoff": {"collect"},
			},
		},
	}
}

func TestInstantiateSubstitutesEverywhere(t *testing.T) {
	tmpl := incidentTemplate()

	spec, err := tmpl.Instantiate(map[string]string{
		"severity": "sev1",
		"analyst":  "alice",
	})
	require.NoError(t, err)

	assert.Equal(t, "respond to sev1 incident", spec.Name)
	assert.Equal(t, "triage sev1", spec.Steps[0].Name)
	assert.Equal(t, "Triage a sev1 incident, report at most 100 lines", spec.Steps[0].Action.Prompt)
	assert.Equal(t, []string{"--lines", "100"}, spec.Steps[1].Action.Args)
	assert.Equal(t, []string{"alice"}, spec.Steps[2].Action.Approvers)

	// The instantiated spec builds a valid DAG.
	_, err = workflow.BuildDAG(*spec)
	assert.NoError(t, err)
}

func TestMissingParam(t *testing.T) {
	tmpl := incidentTemplate()

	_, err := tmpl.Instantiate(map[string]string{"severity": "sev1"})
	var missing *MissingParamError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "analyst", missing.Name)
}

func TestParamValidation(t *testing.T) {
	tmpl := incidentTemplate()

	_, err := tmpl.Instantiate(map[string]string{
		"severity": "sev1", "analyst": "alice", "max_lines": "not-a-number",
	})
	var invalid *InvalidParamError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "max_lines", invalid.Name)

	_, err = tmpl.Instantiate(map[string]string{
		"severity": "sev1", "analyst": "alice", "notify": "maybe",
	})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "notify", invalid.Name)

	_, err = tmpl.Instantiate(map[string]string{
		"severity": "sev1", "analyst": "   ",
	})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "analyst", invalid.Name)
}

func TestTemplateDoesNotMutate(t *testing.T) {
	tmpl := incidentTemplate()

	_, err := tmpl.Instantiate(map[string]string{"severity": "sev1", "analyst": "alice"})
	require.NoError(t, err)

	// The template itself keeps its placeholders.
	assert.Equal(t, "respond to {{severity}} incident", tmpl.Workflow.Name)
	assert.Equal(t, []string{"{{analyst}}"}, tmpl.Workflow.Steps[2].Action.Approvers)
}

func TestRegistry(t *testing.T) {
	s := NewService()

	created, err := s.Create(incidentTemplate())
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = s.Create(incidentTemplate())
	assert.ErrorIs(t, err, ErrTemplateExists)

	got, err := s.Get("incident-response")
	require.NoError(t, err)
	assert.Equal(t, "Incident response", got.Name)

	assert.Len(t, s.List(), 1)
	require.NoError(t, s.Delete("incident-response"))
	_, err = s.Get("incident-response")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}
