package domain

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// TokenPurpose identifies what a security token may be exchanged for.
type TokenPurpose string

const (
	// TokenPurposePasswordReset tokens complete the password reset flow.
	TokenPurposePasswordReset TokenPurpose = "password-reset"

	// TokenPurposeAccountConfirmation tokens verify a new account and set
	// its first password.
	TokenPurposeAccountConfirmation TokenPurpose = "account-confirmation"
)

// SecurityTokenMapping is a single-use token owned by the User aggregate.
// The ID doubles as the externally presented token via base64url encoding.
// At most one unused, unexpired token per purpose exists at a time.
type SecurityTokenMapping struct {
	ID          uuid.UUID    `json:"id"`
	Purpose     TokenPurpose `json:"purpose"`
	WhenCreated time.Time    `json:"when_created"`
	WhenExpires time.Time    `json:"when_expires"`
	WhenUsed    *time.Time   `json:"when_used,omitempty"`
}

// IsUsable reports whether the token is unused and unexpired as of the
// given time.
func (t *SecurityTokenMapping) IsUsable(asOf time.Time) bool {
	return t.WhenUsed == nil && asOf.Before(t.WhenExpires)
}

// ExternalToken returns the representation presented outside the system,
// e.g. embedded in a reset link.
func (t *SecurityTokenMapping) ExternalToken() string {
	return base64.RawURLEncoding.EncodeToString(t.ID[:])
}

// ParseExternalToken decodes an externally presented token back into the
// token ID it was derived from.
func ParseExternalToken(external string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(external)
	if err != nil {
		return uuid.Nil, ErrTokenMalformed
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, ErrTokenMalformed
	}
	return id, nil
}
