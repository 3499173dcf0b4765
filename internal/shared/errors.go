package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTenantRequired occurs when an operation runs without tenant scope.
	ErrTenantRequired = errors.New("tenant scope required")
)
