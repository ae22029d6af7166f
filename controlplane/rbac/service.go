// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package rbac

import (
	"sort"
	"sync"
	"time"
)

// Service owns roles and user-role assignments.
type Service struct {
	mu    sync.RWMutex
	roles map[string]*Role
	users map[string]*User
}

// NewService creates an empty RBAC service.
func NewService() *Service {
	return &Service{
		roles: make(map[string]*Role),
		users: make(map[string]*User),
	}
}

// CreateRole registers a new role.
func (s *Service) CreateRole(id, name, description string, perms []Permission) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roles[id]; exists {
		return nil, ErrRoleExists
	}
	role := &Role{
		ID:          id,
		Name:        name,
		Description: description,
		Permissions: append([]Permission(nil), perms...),
		CreatedAt:   time.Now().UTC(),
	}
	s.roles[id] = role
	clone := cloneRole(role)
	return &clone, nil
}

// GetRole returns a role by id.
func (s *Service) GetRole(id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	clone := cloneRole(role)
	return &clone, nil
}

// ListRoles returns all roles sorted by id.
func (s *Service) ListRoles() []*Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Role, 0, len(s.roles))
	for _, role := range s.roles {
		clone := cloneRole(role)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteRole removes a role and unassigns it from all users.
func (s *Service) DeleteRole(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[id]; !ok {
		return ErrRoleNotFound
	}
	delete(s.roles, id)
	for _, user := range s.users {
		kept := user.RoleIDs[:0]
		for _, rid := range user.RoleIDs {
			if rid != id {
				kept = append(kept, rid)
			}
		}
		user.RoleIDs = kept
	}
	return nil
}

// CreateUser registers a new user.
func (s *Service) CreateUser(id, name string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[id]; exists {
		return nil, ErrUserExists
	}
	user := &User{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	s.users[id] = user
	clone := cloneUser(user)
	return &clone, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := cloneUser(user)
	return &clone, nil
}

// ListUsers returns all users sorted by id.
func (s *Service) ListUsers() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.users))
	for _, user := range s.users {
		clone := cloneUser(user)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AssignRole grants a role to a user. Assigning an already-held role is a
// no-op.
func (s *Service) AssignRole(userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	for _, rid := range user.RoleIDs {
		if rid == roleID {
			return nil
		}
	}
	user.RoleIDs = append(user.RoleIDs, roleID)
	return nil
}

// RevokeRole removes a role assignment from a user.
func (s *Service) RevokeRole(userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	kept := user.RoleIDs[:0]
	for _, rid := range user.RoleIDs {
		if rid != roleID {
			kept = append(kept, rid)
		}
	}
	user.RoleIDs = kept
	return nil
}

// CheckPermission reports whether any of the user's roles carries a
// permission matching required.
func (s *Service) CheckPermission(userID string, required Permission) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	for _, rid := range user.RoleIDs {
		role, ok := s.roles[rid]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if perm.Matches(required) {
				return true, nil
			}
		}
	}
	return false, nil
}

func cloneRole(r *Role) Role {
	clone := *r
	clone.Permissions = append([]Permission(nil), r.Permissions...)
	return clone
}

func cloneUser(u *User) User {
	clone := *u
	clone.RoleIDs = append([]string(nil), u.RoleIDs...)
	return clone
}
