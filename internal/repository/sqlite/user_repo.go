package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite. Reads go
// straight to the database; writes are staged on the owning unit of work
// and flushed in one transaction by SaveEntities.
type userRepository struct {
	db  *DB
	uow *unitOfWork
}

// Find retrieves a user aggregate by ID with all owned collections.
func (r *userRepository) Find(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.loadOne(ctx, `WHERE id = ?`, id.String())
}

// FindByEmailAddress retrieves a user by email, case-insensitively.
func (r *userRepository) FindByEmailAddress(ctx context.Context, emailAddress string) (*domain.User, error) {
	return r.loadOne(ctx, `WHERE LOWER(email_address) = LOWER(?)`, emailAddress)
}

// FindBySecurityToken retrieves the user owning a usable token.
func (r *userRepository) FindBySecurityToken(ctx context.Context, tokenID uuid.UUID, purpose domain.TokenPurpose, asOf time.Time) (*domain.User, error) {
	query := `
		SELECT user_id FROM security_tokens
		WHERE id = ? AND purpose = ? AND when_used IS NULL AND when_expires > ?
	`

	var rawUserID string
	err := r.db.QueryRowContext(ctx, query, tokenID.String(), string(purpose), formatTime(asOf)).Scan(&rawUserID)
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
		SELECT id, email_address, password_hash, first_name, last_name,
		       is_lockable, when_locked, attempts_since_last_authentication,
		       when_last_authenticated, is_admin, is_verified, security_stamp,
		       when_created
		FROM users ` + where

	user := &domain.User{}
	var (
		rawID                 string
		isLockable            int
		whenLocked            sql.NullString
		whenLastAuthenticated sql.NullString
		isAdmin               int
		isVerified            int
		whenCreated           string
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&rawID,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.Profile.FirstName,
		&user.Profile.LastName,
		&isLockable,
		&whenLocked,
		&user.AttemptsSinceLastAuthentication,
		&whenLastAuthenticated,
		&isAdmin,
		&isVerified,
		&user.SecurityStamp,
		&whenCreated,
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
	user.IsLockable = isLockable != 0
	user.IsAdmin = isAdmin != 0
	user.IsVerified = isVerified != 0
	if user.WhenCreated, err = parseTime(whenCreated); err != nil {
		return nil, err
	}
	if user.WhenLocked, err = parseTimePtr(whenLocked); err != nil {
		return nil, err
	}
	if user.WhenLastAuthenticated, err = parseTimePtr(whenLastAuthenticated); err != nil {
		return nil, err
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
		SELECT id, when_happened, type, stage
		FROM authentication_history
		WHERE user_id = ?
		ORDER BY when_happened, id
	`

	rows, err := r.db.QueryContext(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load authentication history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry        domain.AuthenticationHistory
			rawID        string
			whenHappened string
			entryType    string
			stage        string
		)
		if err := rows.Scan(&rawID, &whenHappened, &entryType, &stage); err != nil {
			return fmt.Errorf("failed to scan history entry: %w", err)
		}
		if entry.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("failed to parse history ID: %w", err)
		}
		if entry.WhenHappened, err = parseTime(whenHappened); err != nil {
			return err
		}
		entry.Type = domain.AuthenticationHistoryType(entryType)
		entry.Stage = domain.AuthenticationStage(stage)
		user.AuthenticationHistory = append(user.AuthenticationHistory, entry)
	}
	return rows.Err()
}

func (r *userRepository) loadTokens(ctx context.Context, user *domain.User) error {
	query := `
		SELECT id, purpose, when_created, when_expires, when_used
		FROM security_tokens
		WHERE user_id = ?
		ORDER BY when_created, id
	`

	rows, err := r.db.QueryContext(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load security tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			token       domain.SecurityTokenMapping
			rawID       string
			purpose     string
			whenCreated string
			whenExpires string
			whenUsed    sql.NullString
		)
		if err := rows.Scan(&rawID, &purpose, &whenCreated, &whenExpires, &whenUsed); err != nil {
			return fmt.Errorf("failed to scan security token: %w", err)
		}
		if token.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("failed to parse token ID: %w", err)
		}
		token.Purpose = domain.TokenPurpose(purpose)
		if token.WhenCreated, err = parseTime(whenCreated); err != nil {
			return err
		}
		if token.WhenExpires, err = parseTime(whenExpires); err != nil {
			return err
		}
		if token.WhenUsed, err = parseTimePtr(whenUsed); err != nil {
			return err
		}
		user.SecurityTokens = append(user.SecurityTokens, token)
	}
	return rows.Err()
}

func (r *userRepository) loadApps(ctx context.Context, user *domain.User) error {
	query := `
		SELECT id, shared_key, when_enrolled, when_revoked
		FROM authenticator_apps
		WHERE user_id = ?
		ORDER BY when_enrolled, id
	`

	rows, err := r.db.QueryContext(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load authenticator apps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			app          domain.AuthenticatorApp
			rawID        string
			whenEnrolled string
			whenRevoked  sql.NullString
		)
		if err := rows.Scan(&rawID, &app.SharedKey, &whenEnrolled, &whenRevoked); err != nil {
			return fmt.Errorf("failed to scan authenticator app: %w", err)
		}
		if app.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("failed to parse app ID: %w", err)
		}
		if app.WhenEnrolled, err = parseTime(whenEnrolled); err != nil {
			return err
		}
		if app.WhenRevoked, err = parseTimePtr(whenRevoked); err != nil {
			return err
		}
		user.AuthenticatorApps = append(user.AuthenticatorApps, app)
	}
	return rows.Err()
}

func (r *userRepository) loadDevices(ctx context.Context, user *domain.User) error {
	query := `
		SELECT id, name, when_enrolled, when_last_used, credential_id,
		       public_key, aaguid, counter, cred_type, when_revoked
		FROM authenticator_devices
		WHERE user_id = ?
		ORDER BY when_enrolled, id
	`

	rows, err := r.db.QueryContext(ctx, query, user.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load authenticator devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			device       domain.AuthenticatorDevice
			rawID        string
			whenEnrolled string
			whenLastUsed sql.NullString
			whenRevoked  sql.NullString
		)
		if err := rows.Scan(
			&rawID,
			&device.Name,
			&whenEnrolled,
			&whenLastUsed,
			&device.CredentialID,
			&device.PublicKey,
			&device.AAGUID,
			&device.Counter,
			&device.CredType,
			&whenRevoked,
		); err != nil {
			return fmt.Errorf("failed to scan authenticator device: %w", err)
		}
		if device.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("failed to parse device ID: %w", err)
		}
		if device.WhenEnrolled, err = parseTime(whenEnrolled); err != nil {
			return err
		}
		if device.WhenLastUsed, err = parseTimePtr(whenLastUsed); err != nil {
			return err
		}
		if device.WhenRevoked, err = parseTimePtr(whenRevoked); err != nil {
			return err
		}
		user.AuthenticatorDevices = append(user.AuthenticatorDevices, device)
	}
	return rows.Err()
}

func (r *userRepository) loadRoles(ctx context.Context, user *domain.User) error {
	query := `SELECT role_id FROM user_roles WHERE user_id = ? ORDER BY role_id`

	rows, err := r.db.QueryContext(ctx, query, user.ID.String())
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

// Time columns are stored as RFC 3339 UTC strings, which compare correctly
// both in SQL and lexicographically.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
