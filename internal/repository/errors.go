package repository

import "errors"

// Repository errors
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrUniquenessConflict indicates a commit-time uniqueness violation.
	// It is distinct from generic persistence failure so handlers can map
	// a lost create race to the domain's "already exists" error.
	ErrUniquenessConflict = errors.New("uniqueness conflict")

	// ErrUnitOfWorkDone indicates the unit of work was already committed
	// or rolled back.
	ErrUnitOfWorkDone = errors.New("unit of work already completed")
)
