// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package template instantiates workflow templates by substituting
// {{name}} placeholders with validated parameter values.
package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"maestro/platform/controlplane/workflow"
)

// ParamType is the declared type of a template parameter.
type ParamType string

const (
	ParamString   ParamType = "string"
	ParamNumber   ParamType = "number"
	ParamBoolean  ParamType = "boolean"
	ParamRoleID   ParamType = "role_id"
	ParamTeamID   ParamType = "team_id"
	ParamPersonID ParamType = "person_id"
)

// Parameter declares one substitutable value.
type Parameter struct {
	Name         string    `json:"name" yaml:"name"`
	Type         ParamType `json:"type" yaml:"type"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultValue *string   `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Required     bool      `json:"required,omitempty" yaml:"required,omitempty"`
}

// Template is a parameterized workflow spec.
type Template struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Parameters  []Parameter   `json:"parameters"`
	Workflow    workflow.Spec `json:"workflow"`
	CreatedAt   time.Time     `json:"created_at"`
}

// MissingParamError reports a parameter with no value and no default.
type MissingParamError struct {
	Name string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

// InvalidParamError reports a value that fails its type's validation.
type InvalidParamError struct {
	Name   string
	Type   ParamType
	Reason string
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("parameter %q (%s): %s", e.Name, e.Type, e.Reason)
}

var (
	// ErrTemplateNotFound is returned when a template id is unknown
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateExists is returned when creating a duplicate template id
	ErrTemplateExists = errors.New("template already exists")
)

// resolveParams merges provided values with defaults and validates each
// against its declared type.
func resolveParams(params []Parameter, values map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(params))
	for _, param := range params {
		value, ok := values[param.Name]
		if !ok {
			if param.DefaultValue == nil {
				return nil, &MissingParamError{Name: param.Name}
			}
			value = *param.DefaultValue
		}
		if err := validateParam(param, value); err != nil {
			return nil, err
		}
		resolved[param.Name] = value
	}
	return resolved, nil
}

func validateParam(param Parameter, value string) error {
	switch param.Type {
	case ParamNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return &InvalidParamError{Name: param.Name, Type: param.Type, Reason: "not a number"}
		}
	case ParamBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return &InvalidParamError{Name: param.Name, Type: param.Type, Reason: "not a boolean"}
		}
	case ParamRoleID, ParamTeamID, ParamPersonID:
		if strings.TrimSpace(value) == "" {
			return &InvalidParamError{Name: param.Name, Type: param.Type, Reason: "id must be non-empty"}
		}
	}
	return nil
}

// substitute replaces every {{name}} token in s.
func substitute(s string, params map[string]string) string {
	for name, value := range params {
		s = strings.ReplaceAll(s, "{{"+name+"}}", value)
	}
	return s
}

func substituteList(list []string, params map[string]string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = substitute(s, params)
	}
	return out
}

// Instantiate materializes the template's workflow with the given
// parameter values. Substitution covers step names, prompts, commands,
// args and approver lists.
func (t *Template) Instantiate(values map[string]string) (*workflow.Spec, error) {
	params, err := resolveParams(t.Parameters, values)
	if err != nil {
		return nil, err
	}

	spec := workflow.Spec{
		ID:   t.Workflow.ID,
		Name: substitute(t.Workflow.Name, params),
	}
	if t.Workflow.Dependencies != nil {
		spec.Dependencies = make(map[string][]string, len(t.Workflow.Dependencies))
		for id, deps := range t.Workflow.Dependencies {
			spec.Dependencies[id] = append([]string(nil), deps...)
		}
	}

	for _, step := range t.Workflow.Steps {
		step.Name = substitute(step.Name, params)
		step.Action.Prompt = substitute(step.Action.Prompt, params)
		step.Action.Command = substitute(step.Action.Command, params)
		step.Action.Args = substituteList(step.Action.Args, params)
		step.Action.Approvers = substituteList(step.Action.Approvers, params)
		spec.Steps = append(spec.Steps, step)
	}
	return &spec, nil
}
