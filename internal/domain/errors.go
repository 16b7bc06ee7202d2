package domain

import "errors"

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked indicates the account is locked out.
	ErrAccountLocked = errors.New("account is locked")

	// ErrTokenNotFound indicates no token with the given ID is owned by
	// the user.
	ErrTokenNotFound = errors.New("security token not found")

	// ErrTokenMalformed indicates the externally presented token could
	// not be decoded.
	ErrTokenMalformed = errors.New("security token malformed")

	// ErrAppAlreadyEnrolled indicates an authenticator app is already
	// active; the existing enrollment must be revoked first.
	ErrAppAlreadyEnrolled = errors.New("authenticator app already enrolled")

	// ErrAppNotEnrolled indicates no active authenticator app exists.
	ErrAppNotEnrolled = errors.New("authenticator app not enrolled")

	// ErrDeviceNotFound indicates no active device with the given ID is
	// enrolled.
	ErrDeviceNotFound = errors.New("authenticator device not found")
)
