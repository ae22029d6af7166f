// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import "errors"

var (
	// ErrNotFound is returned when a secret does not exist
	ErrNotFound = errors.New("secret not found")

	// ErrExists is returned when creating a secret whose id is taken
	ErrExists = errors.New("secret already exists")

	// ErrVersionNotFound is returned when a secret version does not exist
	ErrVersionNotFound = errors.New("secret version not found")

	// ErrInvalidSecret is returned for secrets missing required fields
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrDecryptFailed is returned when a stored value fails authentication
	ErrDecryptFailed = errors.New("failed to decrypt secret value")
)
