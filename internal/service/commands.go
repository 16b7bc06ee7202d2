// Package service implements the command handlers for the identity
// aggregate. Each handler loads the aggregate through a unit of work,
// applies a mutation, commits, and maps the commit outcome onto the
// pipeline's result model.
package service

import (
	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/pkg/fido"
)

// Command names, used for handler and validator registration and in the
// audit log.
const (
	CommandCreateUser                   = "create-user"
	CommandUpdateUserDetails            = "update-user-details"
	CommandChangeUserPassword           = "change-user-password"
	CommandSetUserRoles                 = "set-user-roles"
	CommandSetUserAdminStatus           = "set-user-admin-status"
	CommandUnlockAccount                = "unlock-account"
	CommandProcessAuthenticationAttempt = "process-authentication-attempt"
	CommandValidateAppCode              = "validate-authenticator-app-code"
	CommandRequestPasswordReset         = "request-password-reset"
	CommandCompletePasswordReset        = "complete-password-reset"
	CommandRequestAccountConfirmation   = "request-account-confirmation"
	CommandCompleteAccountConfirmation  = "complete-account-confirmation"
	CommandInitiateAppEnrollment        = "initiate-authenticator-app-enrollment"
	CommandCompleteAppEnrollment        = "complete-authenticator-app-enrollment"
	CommandRevokeAuthenticatorApp       = "revoke-authenticator-app"
	CommandInitiateDeviceRegistration   = "initiate-device-registration"
	CommandCompleteDeviceRegistration   = "complete-device-registration"
	CommandInitiateDeviceAssertion      = "initiate-device-assertion"
	CommandCompleteDeviceAssertion      = "complete-device-assertion"
	CommandRevokeAuthenticatorDevice    = "revoke-authenticator-device"
)

// CreateUser creates a new identity. When Password is empty the account is
// created unverified and an account-confirmation token event is raised.
type CreateUser struct {
	EmailAddress string      `json:"email_address"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	Password     string      `json:"-"`
	IsLockable   bool        `json:"is_lockable"`
	IsAdmin      bool        `json:"is_admin"`
	RoleIDs      []uuid.UUID `json:"role_ids"`
}

// CommandName implements command.Command.
func (CreateUser) CommandName() string { return CommandCreateUser }

// CreateUserPayload is returned on successful creation.
type CreateUserPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// UpdateUserDetails renames and re-profiles an existing user. A rename to
// the user's own address skips the uniqueness check.
type UpdateUserDetails struct {
	UserID       uuid.UUID   `json:"user_id"`
	EmailAddress string      `json:"email_address"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	IsLockable   bool        `json:"is_lockable"`
	RoleIDs      []uuid.UUID `json:"role_ids"`
}

// CommandName implements command.Command.
func (UpdateUserDetails) CommandName() string { return CommandUpdateUserDetails }

// ChangeUserPassword replaces a user's password after re-verifying the
// current one.
type ChangeUserPassword struct {
	UserID          uuid.UUID `json:"user_id"`
	CurrentPassword string    `json:"-"`
	NewPassword     string    `json:"-"`
}

// CommandName implements command.Command.
func (ChangeUserPassword) CommandName() string { return CommandChangeUserPassword }

// SetUserRoles replaces a user's role memberships.
type SetUserRoles struct {
	UserID  uuid.UUID   `json:"user_id"`
	RoleIDs []uuid.UUID `json:"role_ids"`
}

// CommandName implements command.Command.
func (SetUserRoles) CommandName() string { return CommandSetUserRoles }

// SetUserAdminStatus grants or removes administrative privileges.
type SetUserAdminStatus struct {
	UserID  uuid.UUID `json:"user_id"`
	IsAdmin bool      `json:"is_admin"`
}

// CommandName implements command.Command.
func (SetUserAdminStatus) CommandName() string { return CommandSetUserAdminStatus }

// UnlockAccount clears an applied lockout.
type UnlockAccount struct {
	UserID uuid.UUID `json:"user_id"`
}

// CommandName implements command.Command.
func (UnlockAccount) CommandName() string { return CommandUnlockAccount }

// ProcessAuthenticationAttempt performs the password stage of a login.
type ProcessAuthenticationAttempt struct {
	EmailAddress string `json:"email_address"`
	Password     string `json:"-"`
	SessionID    string `json:"session_id"`
}

// CommandName implements command.Command.
func (ProcessAuthenticationAttempt) CommandName() string { return CommandProcessAuthenticationAttempt }

// AuthenticationPayload reports the state a login reached.
type AuthenticationPayload struct {
	UserID               uuid.UUID `json:"user_id"`
	SecondFactorRequired bool      `json:"second_factor_required"`
	SecurityStamp        string    `json:"security_stamp,omitempty"`
}

// ValidateAuthenticatorAppCode performs the TOTP stage of a login. It runs
// in the partially authenticated session scope; the fronting session layer
// is responsible for only routing it after a successful password stage.
type ValidateAuthenticatorAppCode struct {
	UserID uuid.UUID `json:"user_id"`
	Code   string    `json:"-"`
}

// CommandName implements command.Command.
func (ValidateAuthenticatorAppCode) CommandName() string { return CommandValidateAppCode }

// RequestPasswordReset issues (or re-issues) a password reset token.
type RequestPasswordReset struct {
	EmailAddress string `json:"email_address"`
}

// CommandName implements command.Command.
func (RequestPasswordReset) CommandName() string { return CommandRequestPasswordReset }

// CompletePasswordReset exchanges a reset token for a new password.
type CompletePasswordReset struct {
	Token       string `json:"-"`
	NewPassword string `json:"-"`
}

// CommandName implements command.Command.
func (CompletePasswordReset) CommandName() string { return CommandCompletePasswordReset }

// RequestAccountConfirmation re-issues the account confirmation token.
type RequestAccountConfirmation struct {
	EmailAddress string `json:"email_address"`
}

// CommandName implements command.Command.
func (RequestAccountConfirmation) CommandName() string { return CommandRequestAccountConfirmation }

// CompleteAccountConfirmation exchanges a confirmation token for the
// account's first password and marks the account verified.
type CompleteAccountConfirmation struct {
	Token       string `json:"-"`
	NewPassword string `json:"-"`
}

// CommandName implements command.Command.
func (CompleteAccountConfirmation) CommandName() string { return CommandCompleteAccountConfirmation }

// InitiateAuthenticatorAppEnrollment starts TOTP enrollment by issuing a
// shared key. Nothing is persisted until the code round trip completes.
type InitiateAuthenticatorAppEnrollment struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID string    `json:"session_id"`
}

// CommandName implements command.Command.
func (InitiateAuthenticatorAppEnrollment) CommandName() string { return CommandInitiateAppEnrollment }

// AppEnrollmentPayload carries the shared key for QR/manual presentation.
type AppEnrollmentPayload struct {
	SharedKey    string `json:"shared_key"`
	ProvisionURI string `json:"provision_uri"`
}

// CompleteAuthenticatorAppEnrollment proves possession of the shared key.
type CompleteAuthenticatorAppEnrollment struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID string    `json:"session_id"`
	Code      string    `json:"-"`
}

// CommandName implements command.Command.
func (CompleteAuthenticatorAppEnrollment) CommandName() string { return CommandCompleteAppEnrollment }

// RevokeAuthenticatorApp soft-revokes the active TOTP enrollment after
// re-verifying the current password.
type RevokeAuthenticatorApp struct {
	UserID   uuid.UUID `json:"user_id"`
	Password string    `json:"-"`
}

// CommandName implements command.Command.
func (RevokeAuthenticatorApp) CommandName() string { return CommandRevokeAuthenticatorApp }

// InitiateDeviceRegistration issues credential creation options.
type InitiateDeviceRegistration struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID string    `json:"session_id"`
}

// CommandName implements command.Command.
func (InitiateDeviceRegistration) CommandName() string { return CommandInitiateDeviceRegistration }

// CompleteDeviceRegistration verifies the attestation and enrolls the
// device.
type CompleteDeviceRegistration struct {
	UserID     uuid.UUID                `json:"user_id"`
	SessionID  string                   `json:"session_id"`
	DeviceName string                   `json:"device_name"`
	Response   fido.AttestationResponse `json:"-"`
}

// CommandName implements command.Command.
func (CompleteDeviceRegistration) CommandName() string { return CommandCompleteDeviceRegistration }

// InitiateDeviceAssertion issues assertion options mid-login. It runs in
// the partially authenticated session scope, not the fully authenticated
// one.
type InitiateDeviceAssertion struct {
	EmailAddress string `json:"email_address"`
	SessionID    string `json:"session_id"`
}

// CommandName implements command.Command.
func (InitiateDeviceAssertion) CommandName() string { return CommandInitiateDeviceAssertion }

// CompleteDeviceAssertion verifies the assertion and completes the login.
type CompleteDeviceAssertion struct {
	EmailAddress string                 `json:"email_address"`
	SessionID    string                 `json:"session_id"`
	Response     fido.AssertionResponse `json:"-"`
}

// CommandName implements command.Command.
func (CompleteDeviceAssertion) CommandName() string { return CommandCompleteDeviceAssertion }

// RevokeAuthenticatorDevice soft-revokes a device after re-verifying the
// current password. The password gate defends against a hijacked session
// stripping MFA.
type RevokeAuthenticatorDevice struct {
	UserID   uuid.UUID `json:"user_id"`
	DeviceID uuid.UUID `json:"device_id"`
	Password string    `json:"-"`
}

// CommandName implements command.Command.
func (RevokeAuthenticatorDevice) CommandName() string { return CommandRevokeAuthenticatorDevice }
