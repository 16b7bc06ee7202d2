package domain

import "github.com/google/uuid"

// Event is a domain event recorded by aggregate mutators. Events are
// buffered on the aggregate and dispatched by the transaction boundary
// after a successful commit, never before.
type Event interface {
	// EventName returns a stable name for routing and logging.
	EventName() string
}

// PasswordResetTokenGenerated is raised when a password reset token is
// issued (or an existing valid one re-issued). Delivery of the token to
// the user is outside the identity core.
type PasswordResetTokenGenerated struct {
	UserID       uuid.UUID
	EmailAddress string
	FirstName    string
	Token        string
}

// EventName implements Event.
func (PasswordResetTokenGenerated) EventName() string { return "password-reset-token-generated" }

// AccountConfirmationTokenGenerated is raised when an account confirmation
// token is issued.
type AccountConfirmationTokenGenerated struct {
	UserID       uuid.UUID
	EmailAddress string
	FirstName    string
	Token        string
}

// EventName implements Event.
func (AccountConfirmationTokenGenerated) EventName() string {
	return "account-confirmation-token-generated"
}
