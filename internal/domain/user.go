// Package domain contains the core business entities for Meridian Identity.
// These are pure Go structs with no external dependencies, representing
// the identity aggregate and its owned sub-entities. All state changes go
// through methods on the User aggregate root; persistence is the caller's job.
package domain

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Profile is the owned value object holding a user's display name.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserRole links a user to a role by ID. Role definitions live outside
// the identity aggregate.
type UserRole struct {
	RoleID uuid.UUID `json:"role_id"`
}

// User is the identity aggregate root. It owns the authentication history,
// lockout state, single-use security tokens, MFA enrollments, and the
// security stamp used to invalidate stale sessions.
//
// A User is loaded, mutated, and committed within a single request scope.
// It is not safe for concurrent use.
type User struct {
	// ID is the unique identifier for the user.
	ID uuid.UUID `json:"id"`

	// EmailAddress is unique across all active users.
	EmailAddress string `json:"email_address"`

	// PasswordHash is the bcrypt hash of the user's password.
	// Empty until the account confirmation flow sets the first password.
	PasswordHash string `json:"-"`

	// Profile holds the user's display name.
	Profile Profile `json:"profile"`

	// IsLockable indicates whether failed authentication attempts may
	// lock this account. Bootstrap admin accounts are typically not lockable.
	IsLockable bool `json:"is_lockable"`

	// WhenLocked is set when a lockout is applied and cleared on a
	// successful authentication or an explicit unlock.
	WhenLocked *time.Time `json:"when_locked,omitempty"`

	// AttemptsSinceLastAuthentication counts consecutive failures.
	AttemptsSinceLastAuthentication int `json:"attempts_since_last_authentication"`

	// WhenLastAuthenticated is the time of the last fully successful login.
	WhenLastAuthenticated *time.Time `json:"when_last_authenticated,omitempty"`

	// IsAdmin indicates whether the user has administrative privileges.
	IsAdmin bool `json:"is_admin"`

	// IsVerified is set once the account confirmation token is used.
	IsVerified bool `json:"is_verified"`

	// SecurityStamp is an opaque value regenerated on every credential or
	// trust-boundary change. Sessions carry the stamp they were issued
	// under; a mismatch marks them stale.
	SecurityStamp string `json:"-"`

	// WhenCreated is the timestamp when the user was created.
	WhenCreated time.Time `json:"when_created"`

	// AuthenticationHistory is append-only; entries are never mutated.
	AuthenticationHistory []AuthenticationHistory `json:"authentication_history"`

	// SecurityTokens holds single-use password-reset and
	// account-confirmation tokens.
	SecurityTokens []SecurityTokenMapping `json:"security_tokens"`

	// AuthenticatorApps holds TOTP enrollments. At most one is active;
	// revocation sets WhenRevoked rather than deleting.
	AuthenticatorApps []AuthenticatorApp `json:"authenticator_apps"`

	// AuthenticatorDevices holds hardware credential enrollments.
	AuthenticatorDevices []AuthenticatorDevice `json:"authenticator_devices"`

	// Roles holds the user's role memberships.
	Roles []UserRole `json:"roles"`

	events []Event
}

// NewUser creates a new User aggregate. The password hash may be empty; the
// account confirmation flow sets the first password.
func NewUser(emailAddress, firstName, lastName, passwordHash string, isLockable bool, now time.Time) *User {
	return &User{
		ID:            uuid.New(),
		EmailAddress:  emailAddress,
		PasswordHash:  passwordHash,
		Profile:       Profile{FirstName: firstName, LastName: lastName},
		IsLockable:    isLockable,
		SecurityStamp: newSecurityStamp(),
		WhenCreated:   now,
	}
}

// IsLocked reports whether a lockout is currently applied.
func (u *User) IsLocked() bool {
	return u.WhenLocked != nil
}

// HasSecondFactor reports whether any MFA enrollment is active.
func (u *User) HasSecondFactor() bool {
	return u.ActiveAuthenticatorApp() != nil || len(u.ActiveDevices()) > 0
}

// ProcessSuccessfulAuthenticationAttempt records a fully successful login:
// a Success history entry is appended, the lock is cleared, and the
// consecutive-failure counter resets to zero.
func (u *User) ProcessSuccessfulAuthenticationAttempt(now time.Time) {
	u.appendHistory(now, HistoryTypeSuccess, "")
	u.WhenLastAuthenticated = &now
	u.WhenLocked = nil
	u.AttemptsSinceLastAuthentication = 0
}

// ProcessPartialSuccessfulAuthenticationAttempt records an intermediate
// stage of a multi-step login (password verified, MFA pending). Lock and
// attempt state are untouched.
func (u *User) ProcessPartialSuccessfulAuthenticationAttempt(now time.Time, stage AuthenticationStage) {
	u.appendHistory(now, HistoryTypePartial, stage)
}

// ProcessUnsuccessfulAuthenticationAttempt records a failed login. The lock
// is applied only when the caller requests it and the user is lockable; the
// lockout policy itself is external to the aggregate.
func (u *User) ProcessUnsuccessfulAuthenticationAttempt(now time.Time, applyLock bool) {
	u.appendHistory(now, HistoryTypeFailure, "")
	u.AttemptsSinceLastAuthentication++
	if applyLock && u.IsLockable {
		u.WhenLocked = &now
	}
}

// Unlock clears an applied lockout and resets the failure counter.
func (u *User) Unlock() {
	u.WhenLocked = nil
	u.AttemptsSinceLastAuthentication = 0
}

// GenerateNewPasswordResetToken returns a usable password-reset token,
// reusing an existing unexpired, unused one when present. A
// PasswordResetTokenGenerated event is recorded either way so the token can
// be delivered out of band.
func (u *User) GenerateNewPasswordResetToken(now time.Time, validFor time.Duration) *SecurityTokenMapping {
	token := u.generateToken(TokenPurposePasswordReset, now, validFor)
	u.recordEvent(PasswordResetTokenGenerated{
		UserID:       u.ID,
		EmailAddress: u.EmailAddress,
		FirstName:    u.Profile.FirstName,
		Token:        token.ExternalToken(),
	})
	return token
}

// GenerateNewAccountConfirmationToken returns a usable account-confirmation
// token with the same idempotent-reuse policy as password reset.
func (u *User) GenerateNewAccountConfirmationToken(now time.Time, validFor time.Duration) *SecurityTokenMapping {
	token := u.generateToken(TokenPurposeAccountConfirmation, now, validFor)
	u.recordEvent(AccountConfirmationTokenGenerated{
		UserID:       u.ID,
		EmailAddress: u.EmailAddress,
		FirstName:    u.Profile.FirstName,
		Token:        token.ExternalToken(),
	})
	return token
}

func (u *User) generateToken(purpose TokenPurpose, now time.Time, validFor time.Duration) *SecurityTokenMapping {
	if existing := u.UsableToken(purpose, now); existing != nil {
		return existing
	}
	u.SecurityTokens = append(u.SecurityTokens, SecurityTokenMapping{
		ID:          uuid.New(),
		Purpose:     purpose,
		WhenCreated: now,
		WhenExpires: now.Add(validFor),
	})
	return &u.SecurityTokens[len(u.SecurityTokens)-1]
}

// UsableToken returns the unused, unexpired token for the given purpose, or
// nil. At most one such token exists at a time.
func (u *User) UsableToken(purpose TokenPurpose, asOf time.Time) *SecurityTokenMapping {
	for i := range u.SecurityTokens {
		t := &u.SecurityTokens[i]
		if t.Purpose == purpose && t.IsUsable(asOf) {
			return t
		}
	}
	return nil
}

// CompleteTokenLifecycle marks a token as used. Callers must verify the
// token is usable before invoking this; marking is unconditional.
func (u *User) CompleteTokenLifecycle(tokenID uuid.UUID, now time.Time) error {
	for i := range u.SecurityTokens {
		if u.SecurityTokens[i].ID == tokenID {
			u.SecurityTokens[i].WhenUsed = &now
			return nil
		}
	}
	return ErrTokenNotFound
}

// ChangePassword replaces the password hash and rotates the security stamp.
func (u *User) ChangePassword(passwordHash string) {
	u.PasswordHash = passwordHash
	u.SecurityStamp = newSecurityStamp()
}

// ConfirmAccount marks the account verified.
func (u *User) ConfirmAccount() {
	u.IsVerified = true
}

// UpdateProfile replaces the user's display name.
func (u *User) UpdateProfile(firstName, lastName string) {
	u.Profile = Profile{FirstName: firstName, LastName: lastName}
}

// UpdateSystemAccessDetails changes the email address and lockable flag.
// Both sit on the trust boundary, so the security stamp rotates.
func (u *User) UpdateSystemAccessDetails(emailAddress string, isLockable bool) {
	u.EmailAddress = emailAddress
	u.IsLockable = isLockable
	u.SecurityStamp = newSecurityStamp()
}

// SetRoles replaces the user's role memberships and rotates the stamp.
func (u *User) SetRoles(roleIDs []uuid.UUID) {
	roles := make([]UserRole, 0, len(roleIDs))
	for _, id := range roleIDs {
		roles = append(roles, UserRole{RoleID: id})
	}
	u.Roles = roles
	u.SecurityStamp = newSecurityStamp()
}

// SetAdminStatus changes the admin flag and rotates the stamp.
func (u *User) SetAdminStatus(isAdmin bool) {
	u.IsAdmin = isAdmin
	u.SecurityStamp = newSecurityStamp()
}

// EmailAddressMatches compares an email address against the user's own,
// ignoring case. Used to exclude the user from its own uniqueness check
// on a no-op rename.
func (u *User) EmailAddressMatches(emailAddress string) bool {
	return strings.EqualFold(u.EmailAddress, emailAddress)
}

func (u *User) appendHistory(now time.Time, historyType AuthenticationHistoryType, stage AuthenticationStage) {
	u.AuthenticationHistory = append(u.AuthenticationHistory, AuthenticationHistory{
		ID:           uuid.New(),
		WhenHappened: now,
		Type:         historyType,
		Stage:        stage,
	})
}

func (u *User) recordEvent(event Event) {
	u.events = append(u.events, event)
}

// DrainEvents returns the buffered domain events and clears the buffer.
// The unit of work drains and dispatches them only after a successful
// commit, so no event describes state that was rolled back.
func (u *User) DrainEvents() []Event {
	events := u.events
	u.events = nil
	return events
}

// newSecurityStamp returns 32 bytes of randomness, base64url encoded.
func newSecurityStamp() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failing means the process cannot continue safely.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}
