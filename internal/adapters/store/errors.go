package store

import "errors"

// Sentinel kinds for registry errors.
var (
	// ErrStoreUnavailable marks infrastructure failures. A run aborts on it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrIntegrityViolation marks a constraint rejection for one candidate.
	// The run records the candidate as rejected and continues.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrApplyTimeout marks an apply that exceeded its deadline.
	ErrApplyTimeout = errors.New("apply timed out")

	// ErrNotFound marks a lookup of an id with no row.
	ErrNotFound = errors.New("entity not found")

	// ErrTombstone marks a write addressed to a merged-away entity.
	ErrTombstone = errors.New("entity is merged into another")
)
