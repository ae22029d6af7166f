// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// stored pairs a secret's metadata with its encrypted value history.
type stored struct {
	secret   Secret
	value    []byte // encrypted current value
	versions []storedVersion
}

type storedVersion struct {
	meta  Version
	value []byte // encrypted
}

// Service owns the secret registry.
type Service struct {
	mu      sync.RWMutex
	cipher  Cipher
	secrets map[string]*stored
}

// NewService creates a secret service backed by cipher.
func NewService(cipher Cipher) *Service {
	return &Service{
		cipher:  cipher,
		secrets: make(map[string]*stored),
	}
}

// Create stores a new secret at version 1.
func (s *Service) Create(id, description string, value []byte, rotation RotationPolicy, tenantID string) (*Secret, error) {
	if id == "" || len(value) == 0 {
		return nil, ErrInvalidSecret
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.secrets[id]; exists {
		return nil, ErrExists
	}

	encrypted, err := s.cipher.Encrypt(value)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	secret := Secret{
		ID:          id,
		Description: description,
		ValueHash:   hashValue(value),
		Version:     1,
		Rotation:    rotation,
		TenantID:    tenantID,
		CreatedAt:   now,
	}
	s.secrets[id] = &stored{
		secret: secret,
		value:  encrypted,
		versions: []storedVersion{{
			meta:  Version{Number: 1, ValueHash: secret.ValueHash, CreatedAt: now},
			value: encrypted,
		}},
	}
	clone := secret
	return &clone, nil
}

// Get returns a secret's metadata; the value is never included.
func (s *Service) Get(id string) (*Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := st.secret
	return &clone, nil
}

// List returns metadata for all secrets.
func (s *Service) List() []*Secret {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Secret, 0, len(s.secrets))
	for _, st := range s.secrets {
		clone := st.secret
		out = append(out, &clone)
	}
	return out
}

// GetValue decrypts and returns the current value.
func (s *Service) GetValue(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.cipher.Decrypt(st.value)
}

// GetValueVersion decrypts and returns a specific historical version.
func (s *Service) GetValueVersion(id string, version int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	for i := range st.versions {
		if st.versions[i].meta.Number == version {
			return s.cipher.Decrypt(st.versions[i].value)
		}
	}
	return nil, ErrVersionNotFound
}

// Versions returns the version history, newest last.
func (s *Service) Versions(id string) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Version, len(st.versions))
	for i := range st.versions {
		out[i] = st.versions[i].meta
	}
	return out, nil
}

// Rotate replaces the value, bumps the version and deprecates the previous
// version.
func (s *Service) Rotate(id string, newValue []byte) (*Secret, error) {
	if len(newValue) == 0 {
		return nil, ErrInvalidSecret
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}

	encrypted, err := s.cipher.Encrypt(newValue)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if n := len(st.versions); n > 0 {
		st.versions[n-1].meta.DeprecatedAt = &now
	}

	st.secret.Version++
	st.secret.ValueHash = hashValue(newValue)
	st.secret.LastRotatedAt = &now
	st.value = encrypted
	st.versions = append(st.versions, storedVersion{
		meta:  Version{Number: st.secret.Version, ValueHash: st.secret.ValueHash, CreatedAt: now},
		value: encrypted,
	})

	clone := st.secret
	return &clone, nil
}

// Update replaces description and rotation policy.
func (s *Service) Update(id, description string, rotation RotationPolicy) (*Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	st.secret.Description = description
	st.secret.Rotation = rotation
	clone := st.secret
	return &clone, nil
}

// Delete removes a secret and its history.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[id]; !ok {
		return ErrNotFound
	}
	delete(s.secrets, id)
	return nil
}

// NeedingRotation returns secrets whose rotation policy is enabled and
// whose rotation interval has elapsed since the last rotation (or since
// creation, for never-rotated secrets).
func (s *Service) NeedingRotation(now time.Time) []*Secret {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Secret
	for _, st := range s.secrets {
		policy := st.secret.Rotation
		if !policy.Enabled || policy.Interval <= 0 {
			continue
		}
		last := st.secret.CreatedAt
		if st.secret.LastRotatedAt != nil {
			last = *st.secret.LastRotatedAt
		}
		if !now.Before(last.Add(policy.Interval)) {
			clone := st.secret
			out = append(out, &clone)
		}
	}
	return out
}

// hashValue is SHA-256 of the plaintext, kept for verification only.
func hashValue(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}
