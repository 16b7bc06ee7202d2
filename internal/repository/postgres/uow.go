package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/events"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

// Factory creates PostgreSQL-backed units of work.
type Factory struct {
	db         *DB
	dispatcher events.Dispatcher
	logger     zerolog.Logger
}

// NewFactory creates a unit of work factory. A nil dispatcher discards
// domain events.
func NewFactory(db *DB, dispatcher events.Dispatcher, logger zerolog.Logger) *Factory {
	if dispatcher == nil {
		dispatcher = events.NopDispatcher{}
	}
	return &Factory{
		db:         db,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "postgres_uow").Logger(),
	}
}

// Begin starts a new unit of work.
func (f *Factory) Begin(_ context.Context) (repository.UnitOfWork, error) {
	uow := &unitOfWork{
		db:         f.db,
		dispatcher: f.dispatcher,
		logger:     f.logger,
	}
	uow.repo = &userRepository{db: f.db, uow: uow}
	return uow, nil
}

// unitOfWork stages aggregate changes in memory and flushes them in a
// single transaction. Reads bypass the staging area entirely.
type unitOfWork struct {
	db         *DB
	repo       *userRepository
	dispatcher events.Dispatcher
	logger     zerolog.Logger

	done    bool
	added   []*domain.User
	updated []*domain.User
	deleted []uuid.UUID
}

// Users returns the repository bound to this unit of work.
func (u *unitOfWork) Users() repository.UserRepository {
	return u.repo
}

func (u *unitOfWork) stageAdd(user *domain.User) error {
	if u.done {
		return repository.ErrUnitOfWorkDone
	}
	u.added = append(u.added, user)
	return nil
}

func (u *unitOfWork) stageUpdate(user *domain.User) error {
	if u.done {
		return repository.ErrUnitOfWorkDone
	}
	for _, staged := range u.updated {
		if staged == user {
			return nil
		}
	}
	u.updated = append(u.updated, user)
	return nil
}

func (u *unitOfWork) stageDelete(id uuid.UUID) error {
	if u.done {
		return repository.ErrUnitOfWorkDone
	}
	u.deleted = append(u.deleted, id)
	return nil
}

// SaveEntities commits all staged changes atomically. A unique constraint
// violation is reported as repository.ErrUniquenessConflict. Domain events
// buffered on the staged aggregates are drained and dispatched only after
// the commit succeeds.
func (u *unitOfWork) SaveEntities(ctx context.Context) error {
	if u.done {
		return repository.ErrUnitOfWorkDone
	}
	u.done = true

	if len(u.added) == 0 && len(u.updated) == 0 && len(u.deleted) == 0 {
		return nil
	}

	tx, err := u.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := u.flush(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", repository.ErrUniquenessConflict, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", repository.ErrUniquenessConflict, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.dispatchEvents(ctx)
	return nil
}

// Rollback abandons the unit of work. Safe to call after a commit.
func (u *unitOfWork) Rollback(_ context.Context) error {
	u.done = true
	u.added = nil
	u.updated = nil
	u.deleted = nil
	return nil
}

func (u *unitOfWork) flush(ctx context.Context, tx pgx.Tx) error {
	for _, user := range u.added {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
	}
	for _, user := range u.updated {
		if err := updateUser(ctx, tx, user); err != nil {
			return err
		}
	}
	for _, id := range u.deleted {
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String()); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
	}
	return nil
}

func (u *unitOfWork) dispatchEvents(ctx context.Context) {
	var drained []domain.Event
	for _, user := range u.added {
		drained = append(drained, user.DrainEvents()...)
	}
	for _, user := range u.updated {
		drained = append(drained, user.DrainEvents()...)
	}
	if len(drained) > 0 {
		u.dispatcher.Dispatch(ctx, drained)
	}
}

func insertUser(ctx context.Context, tx pgx.Tx, user *domain.User) error {
	query := `
		INSERT INTO users (
			id, email_address, password_hash, first_name, last_name,
			is_lockable, when_locked, attempts_since_last_authentication,
			when_last_authenticated, is_admin, is_verified, security_stamp,
			when_created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := tx.Exec(ctx, query,
		user.ID.String(),
		user.EmailAddress,
		user.PasswordHash,
		user.Profile.FirstName,
		user.Profile.LastName,
		user.IsLockable,
		user.WhenLocked,
		user.AttemptsSinceLastAuthentication,
		user.WhenLastAuthenticated,
		user.IsAdmin,
		user.IsVerified,
		user.SecurityStamp,
		user.WhenCreated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return writeChildren(ctx, tx, user)
}

func updateUser(ctx context.Context, tx pgx.Tx, user *domain.User) error {
	query := `
		UPDATE users SET
			email_address = $1,
			password_hash = $2,
			first_name = $3,
			last_name = $4,
			is_lockable = $5,
			when_locked = $6,
			attempts_since_last_authentication = $7,
			when_last_authenticated = $8,
			is_admin = $9,
			is_verified = $10,
			security_stamp = $11
		WHERE id = $12
	`

	_, err := tx.Exec(ctx, query,
		user.EmailAddress,
		user.PasswordHash,
		user.Profile.FirstName,
		user.Profile.LastName,
		user.IsLockable,
		user.WhenLocked,
		user.AttemptsSinceLastAuthentication,
		user.WhenLastAuthenticated,
		user.IsAdmin,
		user.IsVerified,
		user.SecurityStamp,
		user.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return writeChildren(ctx, tx, user)
}

// writeChildren persists the owned collections. History is append-only, so
// existing rows are skipped; tokens, apps, and devices are upserted; roles
// are replaced wholesale.
func writeChildren(ctx context.Context, tx pgx.Tx, user *domain.User) error {
	for _, entry := range user.AuthenticationHistory {
		_, err := tx.Exec(ctx, `
			INSERT INTO authentication_history (id, user_id, when_happened, type, stage)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`,
			entry.ID.String(),
			user.ID.String(),
			entry.WhenHappened,
			string(entry.Type),
			string(entry.Stage),
		)
		if err != nil {
			return fmt.Errorf("failed to write history entry: %w", err)
		}
	}

	for _, token := range user.SecurityTokens {
		_, err := tx.Exec(ctx, `
			INSERT INTO security_tokens (id, user_id, purpose, when_created, when_expires, when_used)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET when_used = excluded.when_used
		`,
			token.ID.String(),
			user.ID.String(),
			string(token.Purpose),
			token.WhenCreated,
			token.WhenExpires,
			token.WhenUsed,
		)
		if err != nil {
			return fmt.Errorf("failed to write security token: %w", err)
		}
	}

	for _, app := range user.AuthenticatorApps {
		_, err := tx.Exec(ctx, `
			INSERT INTO authenticator_apps (id, user_id, shared_key, when_enrolled, when_revoked)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET when_revoked = excluded.when_revoked
		`,
			app.ID.String(),
			user.ID.String(),
			app.SharedKey,
			app.WhenEnrolled,
			app.WhenRevoked,
		)
		if err != nil {
			return fmt.Errorf("failed to write authenticator app: %w", err)
		}
	}

	for _, device := range user.AuthenticatorDevices {
		_, err := tx.Exec(ctx, `
			INSERT INTO authenticator_devices (
				id, user_id, name, when_enrolled, when_last_used,
				credential_id, public_key, aaguid, counter, cred_type, when_revoked
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				when_last_used = excluded.when_last_used,
				counter = excluded.counter,
				when_revoked = excluded.when_revoked
		`,
			device.ID.String(),
			user.ID.String(),
			device.Name,
			device.WhenEnrolled,
			device.WhenLastUsed,
			device.CredentialID,
			device.PublicKey,
			device.AAGUID,
			int64(device.Counter),
			device.CredType,
			device.WhenRevoked,
		)
		if err != nil {
			return fmt.Errorf("failed to write authenticator device: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, user.ID.String()); err != nil {
		return fmt.Errorf("failed to clear user roles: %w", err)
	}
	for _, role := range user.Roles {
		_, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
			user.ID.String(), role.RoleID.String())
		if err != nil {
			return fmt.Errorf("failed to write user role: %w", err)
		}
	}
	return nil
}
