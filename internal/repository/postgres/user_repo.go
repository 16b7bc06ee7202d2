package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

// userRepository implements repository.UserRepository for PostgreSQL.
// Reads go straight to the pool; writes are staged on the owning unit of
// work and flushed in one transaction by SaveEntities.
type userRepository struct {
	db  *DB
	uow *unitOfWork
}

// Find retrieves a user aggregate by ID with all owned collections.
func (r *userRepository) Find(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.loadOne(ctx, `WHERE id = $1`, id.String())
}

// FindByEmailAddress retrieves a user by email, case-insensitively.
func (r *userRepository) FindByEmailAddress(ctx context.Context, emailAddress string) (*domain.User, error) {
	return r.loadOne(ctx, `WHERE LOWER(email_address) = LOWER($1)`, emailAddress)
}

// FindBySecurityToken retrieves the user owning a usable token.
func (r *userRepository) FindBySecurityToken(ctx context.Context, tokenID uuid.UUID, purpose domain.TokenPurpose, asOf time.Time) (*domain.User, error) {
	query := `
		SELECT user_id::text FROM security_tokens
		WHERE id = $1 AND purpose = $2 AND when_used IS NULL AND when_expires > $3
	`

	var rawUserID string
	err := r.db.Pool.QueryRow(ctx, query, tokenID.String(), string(purpose), asOf).Scan(&rawUserID)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve security token: %w", err)
	}

	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user ID: %w", err)
	}
	return r.Find(ctx, userID)
}

// Add stages a new aggregate for insertion.
func (r *userRepository) Add(_ context.Context, user *domain.User) error {
	return r.uow.stageAdd(user)
}

// Update stages the aggregate's current state for persistence.
func (r *userRepository) Update(_ context.Context, user *domain.User) error {
	return r.uow.stageUpdate(user)
}

// Delete stages removal of the aggregate.
func (r *userRepository) Delete(_ context.Context, id uuid.UUID) error {
	return r.uow.stageDelete(id)
}

func (r *userRepository) loadOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	query := `
		SELECT id::text, email_address, password_hash, first_name, last_name,
		       is_lockable, when_locked, attempts_since_last_authentication,
		       when_last_authenticated, is_admin, is_verified, security_stamp,
		       when_created
		FROM users ` + where

	user := &domain.User{}
	var rawID string

	err := r.db.Pool.QueryRow(ctx, query, arg).Scan(
		&rawID,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.Profile.FirstName,
		&user.Profile.LastName,
		&user.IsLockable,
		&user.WhenLocked,
		&user.AttemptsSinceLastAuthentication,
		&user.WhenLastAuthenticated,
		&user.IsAdmin,
		&user.IsVerified,
		&user.SecurityStamp,
		&user.WhenCreated,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("failed to parse user ID: %w", err)
	}

	if err := r.loadChildren(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) loadChildren(ctx context.Context, user *domain.User) error {
	if err := r.loadHistory(ctx, user); err != nil {
		return err
	}
	if err := r.loadTokens(ctx, user); err != nil {
		return err
	}
	if err := r.loadApps(ctx, user); err != nil {
		return err
	}
	if err := r.loadDevices(ctx, user); err != nil {
		return err
	}
	return r.loadRoles(ctx, user)
}

func (r *userRepository) loadHistory(ctx context.Context, user *domain.User) error {
	query := `
		SELECT id::text, when_happened, type, stage
		FROM authentication_history
		WHERE user_id = $1
		ORDER BY when_happened, id
	`

	rows, err := r.db.Pool.Query(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load authentication history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry     domain.AuthenticationHistory
			rawID     string
			entryType string
			stage     string
		)
		if err := rows.Scan(&rawID, &entry.WhenHappened, &entryType, &stage); err != nil {
			return fmt.Errorf("failed to scan history entry: %w", err)
		}
		if entry.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("failed to parse history ID: %w", err)
		}
		entry.Type = domain.AuthenticationHistoryType(entryType)
		entry.Stage = domain.AuthenticationStage(stage)
		user.AuthenticationHistory = append(user.AuthenticationHistory, entry)
	}
	return rows.Err()
}

func (r *userRepository) loadTokens(ctx context.Context, user *domain.User) error {
	query := `
		SELECT id::text, purpose, when_created, when_expires, when_used
		FROM security_tokens
		WHERE user_id = $1
		ORDER BY when_created, id
	`

	rows, err := r.db.Pool.Query(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load security tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			token   domain.SecurityTokenMapping
			rawID   string
			purpose string
		)
		if err := rows.Scan(&rawID, &purpose, &token.WhenCreated, &token.WhenExpires, &token.WhenUsed); err != nil {
			return fmt.Errorf("failed to scan security token: %w", err)
		}
		if token.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("failed to parse token ID: %w", err)
		}
		token.Purpose = domain.TokenPurpose(purpose)
		user.SecurityTokens = append(user.SecurityTokens, token)
	}
	return rows.Err()
}

func (r *userRepository) loadApps(ctx context.Context, user *domain.User) error {
	query := `
		SELECT id::text, shared_key, when_enrolled, when_revoked
		FROM authenticator_apps
		WHERE user_id = $1
		ORDER BY when_enrolled, id
	`

	rows, err := r.db.Pool.Query(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load authenticator apps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			app   domain.AuthenticatorApp
			rawID string
		)
		if err := rows.Scan(&rawID, &app.SharedKey, &app.WhenEnrolled, &app.WhenRevoked); err != nil {
			return fmt.Errorf("failed to scan authenticator app: %w", err)
		}
		if app.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("failed to parse app ID: %w", err)
		}
		user.AuthenticatorApps = append(user.AuthenticatorApps, app)
	}
	return rows.Err()
}

func (r *userRepository) loadDevices(ctx context.Context, user *domain.User) error {
	query := `
		SELECT id::text, name, when_enrolled, when_last_used, credential_id,
		       public_key, aaguid, counter, cred_type, when_revoked
		FROM authenticator_devices
		WHERE user_id = $1
		ORDER BY when_enrolled, id
	`

	rows, err := r.db.Pool.Query(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load authenticator devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			device  domain.AuthenticatorDevice
			rawID   string
			counter int64
		)
		if err := rows.Scan(
			&rawID,
			&device.Name,
			&device.WhenEnrolled,
			&device.WhenLastUsed,
			&device.CredentialID,
			&device.PublicKey,
			&device.AAGUID,
			&counter,
			&device.CredType,
			&device.WhenRevoked,
		); err != nil {
			return fmt.Errorf("failed to scan authenticator device: %w", err)
		}
		if device.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("failed to parse device ID: %w", err)
		}
		device.Counter = uint32(counter)
		user.AuthenticatorDevices = append(user.AuthenticatorDevices, device)
	}
	return rows.Err()
}

func (r *userRepository) loadRoles(ctx context.Context, user *domain.User) error {
	query := `SELECT role_id::text FROM user_roles WHERE user_id = $1 ORDER BY role_id`

	rows, err := r.db.Pool.Query(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load user roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawRoleID string
		if err := rows.Scan(&rawRoleID); err != nil {
			return fmt.Errorf("failed to scan user role: %w", err)
		}
		roleID, err := uuid.Parse(rawRoleID)
		if err != nil {
			return fmt.Errorf("failed to parse role ID: %w", err)
		}
		user.Roles = append(user.Roles, domain.UserRole{RoleID: roleID})
	}
	return rows.Err()
}
