// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a tenant does not exist
	ErrNotFound = errors.New("tenant not found")

	// ErrExists is returned when registering a tenant whose id is taken
	ErrExists = errors.New("tenant already exists")

	// ErrInvalidTenant is returned for tenants missing required fields
	ErrInvalidTenant = errors.New("invalid tenant")

	// ErrNotActive is returned when an operation requires an active tenant
	ErrNotActive = errors.New("tenant is not active")
)

// QuotaExceededError reports which limit would be crossed by an admission.
type QuotaExceededError struct {
	TenantID string
	Limit    string
	Capacity int64
	Have     int64
	Want     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for tenant %s: %s (have %d, want %d, cap %d)",
		e.TenantID, e.Limit, e.Have, e.Want, e.Capacity)
}

// IsQuotaExceeded reports whether err is a quota admission failure.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
