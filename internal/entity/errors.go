package entity

import "errors"

// Error kinds. Specific errors across the module wrap one of these with %w
// so callers can branch on the kind without knowing every sentinel.
var (
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)
