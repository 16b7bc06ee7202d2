// Package repository defines data access interfaces for Meridian Identity.
// These interfaces abstract database operations, allowing for different
// implementations (PostgreSQL, SQLite, in-memory for testing) while keeping
// the command handlers clean.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/domain"
)

// UserRepository defines aggregate access within one unit of work. Changes
// staged through Add, Update, and Delete become durable only when the owning
// unit of work commits.
type UserRepository interface {
	// Find retrieves a user aggregate by ID with all owned collections.
	Find(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// FindByEmailAddress retrieves a user by email, case-insensitively.
	FindByEmailAddress(ctx context.Context, emailAddress string) (*domain.User, error)

	// FindBySecurityToken retrieves the user owning an unused token with
	// the given ID and purpose that is still valid as of asOf.
	FindBySecurityToken(ctx context.Context, tokenID uuid.UUID, purpose domain.TokenPurpose, asOf time.Time) (*domain.User, error)

	// Add stages a new aggregate for insertion.
	Add(ctx context.Context, user *domain.User) error

	// Update stages the aggregate's current state for persistence.
	Update(ctx context.Context, user *domain.User) error

	// Delete stages removal of the aggregate. Normal operation never
	// deletes users; this exists for administrative cleanup.
	Delete(ctx context.Context, id uuid.UUID) error
}

// UnitOfWork is a single atomic commit boundary covering all changes staged
// during one request. SaveEntities commits; a uniqueness violation detected
// at commit time is reported as ErrUniquenessConflict so callers can tell a
// concurrent-create race apart from an infrastructure failure.
//
// After a successful commit the unit of work drains the domain events
// buffered on the staged aggregates and hands them to the event dispatcher.
type UnitOfWork interface {
	// Users returns the repository bound to this unit of work.
	Users() UserRepository

	// SaveEntities commits all staged changes atomically.
	SaveEntities(ctx context.Context) error

	// Rollback abandons the unit of work. Safe to call after a commit.
	Rollback(ctx context.Context) error
}

// UnitOfWorkFactory begins a new unit of work per request.
type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}
