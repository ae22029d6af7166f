// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package org validates organization definitions: referential integrity
// across people, teams and roles, plus an acyclic reporting graph.
package org

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Person is one member of the organization.
type Person struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RoleID    string `json:"role_id,omitempty"`
	ReportsTo string `json:"reports_to,omitempty"`
}

// Team groups people under a lead, optionally nested under a parent.
type Team struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	LeadID     string   `json:"lead_id,omitempty"`
	ParentTeam string   `json:"parent_team,omitempty"`
	Members    []string `json:"members,omitempty"`
}

// Role names a function people can hold.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Chart is the reporting structure rooted at RootTeam.
type Chart struct {
	RootTeam string `json:"root_team"`
}

// Organization is a complete definition subject to validation.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	People    []Person  `json:"people"`
	Teams     []Team    `json:"teams"`
	Roles     []Role    `json:"roles"`
	OrgChart  Chart     `json:"org_chart"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidationError aggregates every violation found in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("organization invalid: %d violation(s), first: %s", len(e.Violations), e.Violations[0])
}

var (
	// ErrOrgNotFound is returned when an organization id is unknown
	ErrOrgNotFound = errors.New("organization not found")

	// ErrOrgExists is returned when creating a duplicate organization id
	ErrOrgExists = errors.New("organization already exists")
)

// Validate checks referential integrity and the reporting DAG, returning
// every violation rather than stopping at the first.
func Validate(o Organization) error {
	var violations []string

	people := make(map[string]*Person, len(o.People))
	for i := range o.People {
		people[o.People[i].ID] = &o.People[i]
	}
	teams := make(map[string]bool, len(o.Teams))
	for _, team := range o.Teams {
		teams[team.ID] = true
	}
	roles := make(map[string]bool, len(o.Roles))
	for _, role := range o.Roles {
		roles[role.ID] = true
	}

	for _, person := range o.People {
		if person.RoleID != "" && !roles[person.RoleID] {
			violations = append(violations, fmt.Sprintf("person %s references unknown role %s", person.ID, person.RoleID))
		}
		if person.ReportsTo != "" {
			if _, ok := people[person.ReportsTo]; !ok {
				violations = append(violations, fmt.Sprintf("person %s reports to unknown person %s", person.ID, person.ReportsTo))
			}
		}
	}

	for _, team := range o.Teams {
		if team.LeadID != "" {
			if _, ok := people[team.LeadID]; !ok {
				violations = append(violations, fmt.Sprintf("team %s has unknown lead %s", team.ID, team.LeadID))
			}
		}
		if team.ParentTeam != "" && !teams[team.ParentTeam] {
			violations = append(violations, fmt.Sprintf("team %s has unknown parent team %s", team.ID, team.ParentTeam))
		}
		for _, member := range team.Members {
			if _, ok := people[member]; !ok {
				violations = append(violations, fmt.Sprintf("team %s has unknown member %s", team.ID, member))
			}
		}
	}

	if o.OrgChart.RootTeam == "" {
		violations = append(violations, "org_chart.root_team is empty")
	} else if !teams[o.OrgChart.RootTeam] {
		violations = append(violations, fmt.Sprintf("org_chart.root_team %s does not exist", o.OrgChart.RootTeam))
	}

	violations = append(violations, reportingCycles(o.People, people)...)

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// reportingCycles follows each person's reports_to chain with a visited
// set; revisiting a person on the current chain is a cycle.
func reportingCycles(all []Person, people map[string]*Person) []string {
	var violations []string
	checked := make(map[string]bool, len(all))

	for _, start := range all {
		if checked[start.ID] {
			continue
		}
		onChain := make(map[string]bool)
		id := start.ID
		for id != "" {
			if onChain[id] {
				violations = append(violations, fmt.Sprintf("reporting cycle through person %s", id))
				break
			}
			if checked[id] {
				break
			}
			onChain[id] = true
			person, ok := people[id]
			if !ok {
				break
			}
			id = person.ReportsTo
		}
		for id := range onChain {
			checked[id] = true
		}
	}
	return violations
}

// Service owns validated organizations.
type Service struct {
	mu   sync.RWMutex
	orgs map[string]*Organization
}

// NewService creates an empty registry.
func NewService() *Service {
	return &Service{orgs: make(map[string]*Organization)}
}

// Create validates and stores an organization.
func (s *Service) Create(o Organization) (*Organization, error) {
	if err := Validate(o); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orgs[o.ID]; exists {
		return nil, ErrOrgExists
	}
	o.CreatedAt = time.Now().UTC()
	stored := o
	s.orgs[o.ID] = &stored
	clone := stored
	return &clone, nil
}

// Get returns an organization by id.
func (s *Service) Get(id string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orgs[id]
	if !ok {
		return nil, ErrOrgNotFound
	}
	clone := *o
	return &clone, nil
}

// List returns all organizations sorted by id.
func (s *Service) List() []*Organization {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		clone := *o
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes an organization.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[id]; !ok {
		return ErrOrgNotFound
	}
	delete(s.orgs, id)
	return nil
}
