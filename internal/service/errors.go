package service

import "errors"

// Sentinel errors used across services so handlers can map them to HTTP
// status codes with errors.Is.
var (
	// ErrNotFound means the record does not exist or is of another kind.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the acting user may not perform this action.
	// Raised before any state is touched.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict means a business rule refused the change: an undeclared
	// transition, a terminal status, or a slot claimed by someone who
	// acted first.
	ErrConflict = errors.New("conflict")
)
