package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/query"
)

// userQueries implements query.UserQueries for SQLite.
type userQueries struct {
	db *DB
}

// NewUserQueries creates the SQLite read side.
func NewUserQueries(db *DB) query.UserQueries {
	return &userQueries{db: db}
}

// CheckForPresenceOfUserByEmailAddress reports whether any user holds the
// email address, case-insensitively.
func (q *userQueries) CheckForPresenceOfUserByEmailAddress(ctx context.Context, emailAddress string) (bool, error) {
	var exists int
	err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email_address) = LOWER(?))`,
		emailAddress,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email presence: %w", err)
	}
	return exists != 0, nil
}

// GetDetailsOfUserByID returns the detailed read model, or nil when no
// user exists.
func (q *userQueries) GetDetailsOfUserByID(ctx context.Context, id uuid.UUID) (*query.DetailedUserModel, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, email_address, first_name, last_name, is_admin,
		       is_verified, is_lockable, when_locked, when_last_authenticated,
		       when_created
		FROM users
		WHERE id = ?
	`, id.String())

	model := &query.DetailedUserModel{}
	var (
		rawID                 string
		isAdmin               int
		isVerified            int
		isLockable            int
		whenLocked            sql.NullString
		whenLastAuthenticated sql.NullString
		whenCreated           string
	)
	err := row.Scan(
		&rawID,
		&model.EmailAddress,
		&model.FirstName,
		&model.LastName,
		&isAdmin,
		&isVerified,
		&isLockable,
		&whenLocked,
		&whenLastAuthenticated,
		&whenCreated,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load user details: %w", err)
	}

	if model.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("failed to parse user ID: %w", err)
	}
	model.IsAdmin = isAdmin != 0
	model.IsVerified = isVerified != 0
	model.IsLockable = isLockable != 0
	if model.WhenCreated, err = parseTime(whenCreated); err != nil {
		return nil, err
	}
	if model.WhenLocked, err = parseTimePtr(whenLocked); err != nil {
		return nil, err
	}
	if model.WhenLastAuthenticated, err = parseTimePtr(whenLastAuthenticated); err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx, `SELECT role_id FROM user_roles WHERE user_id = ? ORDER BY role_id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rawRoleID string
		if err := rows.Scan(&rawRoleID); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roleID, err := uuid.Parse(rawRoleID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse role ID: %w", err)
		}
		model.RoleIDs = append(model.RoleIDs, roleID)
	}
	return model, rows.Err()
}

// ListUsers returns a page of user summaries ordered by email address.
func (q *userQueries) ListUsers(ctx context.Context, opts query.ListOptions) (*query.ListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	result := &query.ListResult{Items: []query.UserSummaryModel{}}

	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, email_address, first_name, last_name, is_admin, when_locked
		FROM users
		ORDER BY LOWER(email_address)
		LIMIT ? OFFSET ?
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item       query.UserSummaryModel
			rawID      string
			isAdmin    int
			whenLocked sql.NullString
		)
		if err := rows.Scan(&rawID, &item.EmailAddress, &item.FirstName, &item.LastName, &isAdmin, &whenLocked); err != nil {
			return nil, fmt.Errorf("failed to scan user summary: %w", err)
		}
		if item.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("failed to parse user ID: %w", err)
		}
		item.IsAdmin = isAdmin != 0
		item.IsLocked = whenLocked.Valid
		result.Items = append(result.Items, item)
	}
	return result, rows.Err()
}
