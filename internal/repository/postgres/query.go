package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/query"
)

// userQueries implements query.UserQueries for PostgreSQL.
type userQueries struct {
	db *DB
}

// NewUserQueries creates the PostgreSQL read side.
func NewUserQueries(db *DB) query.UserQueries {
	return &userQueries{db: db}
}

// CheckForPresenceOfUserByEmailAddress reports whether any user holds the
// email address, case-insensitively.
func (q *userQueries) CheckForPresenceOfUserByEmailAddress(ctx context.Context, emailAddress string) (bool, error) {
	var exists bool
	err := q.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email_address) = LOWER($1))`,
		emailAddress,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email presence: %w", err)
	}
	return exists, nil
}

// GetDetailsOfUserByID returns the detailed read model, or nil when no
// user exists.
func (q *userQueries) GetDetailsOfUserByID(ctx context.Context, id uuid.UUID) (*query.DetailedUserModel, error) {
	row := q.db.Pool.QueryRow(ctx, `
		SELECT id::text, email_address, first_name, last_name, is_admin,
		       is_verified, is_lockable, when_locked, when_last_authenticated,
		       when_created
		FROM users
		WHERE id = $1
	`, id.String())

	model := &query.DetailedUserModel{}
	var rawID string
	err := row.Scan(
		&rawID,
		&model.EmailAddress,
		&model.FirstName,
		&model.LastName,
		&model.IsAdmin,
		&model.IsVerified,
		&model.IsLockable,
		&model.WhenLocked,
		&model.WhenLastAuthenticated,
		&model.WhenCreated,
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

	rows, err := q.db.Pool.Query(ctx, `SELECT role_id::text FROM user_roles WHERE user_id = $1 ORDER BY role_id`, id.String())
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

	if err := q.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := q.db.Pool.Query(ctx, `
		SELECT id::text, email_address, first_name, last_name, is_admin,
		       when_locked IS NOT NULL
		FROM users
		ORDER BY LOWER(email_address)
		LIMIT $1 OFFSET $2
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item  query.UserSummaryModel
			rawID string
		)
		if err := rows.Scan(&rawID, &item.EmailAddress, &item.FirstName, &item.LastName, &item.IsAdmin, &item.IsLocked); err != nil {
			return nil, fmt.Errorf("failed to scan user summary: %w", err)
		}
		if item.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("failed to parse user ID: %w", err)
		}
		result.Items = append(result.Items, item)
	}
	return result, rows.Err()
}
