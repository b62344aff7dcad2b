package core

import "errors"

// Sentinel error classes surfaced by the services. Adapters map them to
// transport codes; none of them is retriable by the caller.
var (
	ErrValidation       = errors.New("validation error")
	ErrConflict         = errors.New("session already pending or active")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid session state")
	ErrPermissionDenied = errors.New("permission denied")
)
