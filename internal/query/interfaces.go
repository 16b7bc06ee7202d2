// Package query defines the read-only lookup services used by command
// handlers for presence checks and by the admin surface for listings. Query
// services read the store directly and bypass the aggregate entirely.
package query

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DetailedUserModel is the read model returned by GetDetailsOfUserByID.
type DetailedUserModel struct {
	ID                    uuid.UUID   `json:"id"`
	EmailAddress          string      `json:"email_address"`
	FirstName             string      `json:"first_name"`
	LastName              string      `json:"last_name"`
	IsAdmin               bool        `json:"is_admin"`
	IsVerified            bool        `json:"is_verified"`
	IsLockable            bool        `json:"is_lockable"`
	WhenLocked            *time.Time  `json:"when_locked,omitempty"`
	WhenLastAuthenticated *time.Time  `json:"when_last_authenticated,omitempty"`
	WhenCreated           time.Time   `json:"when_created"`
	RoleIDs               []uuid.UUID `json:"role_ids"`
}

// UserSummaryModel is one row of a user listing.
type UserSummaryModel struct {
	ID           uuid.UUID `json:"id"`
	EmailAddress string    `json:"email_address"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	IsAdmin      bool      `json:"is_admin"`
	IsLocked     bool      `json:"is_locked"`
}

// ListOptions contains pagination options for listings.
type ListOptions struct {
	Offset int
	Limit  int
}

// ListResult is a paginated listing result.
type ListResult struct {
	Items []UserSummaryModel `json:"items"`
	Total int64              `json:"total"`
}

// UserQueries is the read side consumed by command handlers and the admin
// surface. GetDetailsOfUserByID returns (nil, nil) when no user exists;
// absence is an expected outcome, not an error.
type UserQueries interface {
	// CheckForPresenceOfUserByEmailAddress reports whether any user holds
	// the email address, case-insensitively.
	CheckForPresenceOfUserByEmailAddress(ctx context.Context, emailAddress string) (bool, error)

	// GetDetailsOfUserByID returns the detailed read model, or nil.
	GetDetailsOfUserByID(ctx context.Context, id uuid.UUID) (*DetailedUserModel, error)

	// ListUsers returns a page of user summaries.
	ListUsers(ctx context.Context, opts ListOptions) (*ListResult, error)
}
