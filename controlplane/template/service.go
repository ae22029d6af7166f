// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"sort"
	"sync"
	"time"
)

// Service owns the template registry.
type Service struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewService creates an empty registry.
func NewService() *Service {
	return &Service{templates: make(map[string]*Template)}
}

// Create registers a template.
func (s *Service) Create(t Template) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[t.ID]; exists {
		return nil, ErrTemplateExists
	}
	t.CreatedAt = time.Now().UTC()
	stored := t
	s.templates[t.ID] = &stored
	clone := stored
	return &clone, nil
}

// Get returns a template by id.
func (s *Service) Get(id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	clone := *t
	return &clone, nil
}

// List returns all templates sorted by id.
func (s *Service) List() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		clone := *t
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a template.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(s.templates, id)
	return nil
}
