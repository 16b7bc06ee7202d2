package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-identity/internal/challenge"
	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/events"
	"github.com/prn-tf/meridian-identity/internal/pkg/clock"
	"github.com/prn-tf/meridian-identity/internal/pkg/fido"
	"github.com/prn-tf/meridian-identity/internal/pkg/totp"
	"github.com/prn-tf/meridian-identity/internal/query"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

// Policy carries the tunable security parameters shared by the handlers.
type Policy struct {
	// LockoutThreshold is the number of consecutive failed password
	// verifications after which a lockable account is locked.
	LockoutThreshold int

	// PasswordResetTokenTTL bounds how long a reset token stays usable.
	PasswordResetTokenTTL time.Duration

	// AccountConfirmationTokenTTL bounds how long a confirmation token
	// stays usable.
	AccountConfirmationTokenTTL time.Duration

	// ChallengeTTL bounds how long an issued MFA challenge stays usable.
	ChallengeTTL time.Duration
}

// DefaultPolicy mirrors the values the server config defaults to.
func DefaultPolicy() Policy {
	return Policy{
		LockoutThreshold:            5,
		PasswordResetTokenTTL:       30 * time.Minute,
		AccountConfirmationTokenTTL: 7 * 24 * time.Hour,
		ChallengeTTL:                5 * time.Minute,
	}
}

// Handlers owns the dependencies shared by all identity command handlers.
type Handlers struct {
	factory    repository.UnitOfWorkFactory
	queries    query.UserQueries
	challenges challenge.Store
	totp       *totp.Generator
	rp         fido.RelyingParty
	events     events.Dispatcher
	clock      clock.Clock
	policy     Policy
	logger     zerolog.Logger
}

// NewHandlers wires the handler set. A nil events dispatcher is replaced
// with a no-op one.
func NewHandlers(
	factory repository.UnitOfWorkFactory,
	queries query.UserQueries,
	challenges challenge.Store,
	generator *totp.Generator,
	rp fido.RelyingParty,
	dispatcher events.Dispatcher,
	clk clock.Clock,
	policy Policy,
	logger zerolog.Logger,
) *Handlers {
	if dispatcher == nil {
		dispatcher = events.NopDispatcher{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Handlers{
		factory:    factory,
		queries:    queries,
		challenges: challenges,
		totp:       generator,
		rp:         rp,
		events:     dispatcher,
		clock:      clk,
		policy:     policy,
		logger:     logger.With().Str("component", "identity-service").Logger(),
	}
}

// Register binds every handler and its validators to the dispatcher.
func Register(d *command.Dispatcher, h *Handlers) {
	bindings := []struct {
		name      string
		handler   command.HandlerFunc
		validator command.Validator
	}{
		{CommandCreateUser, h.CreateUser, validateCreateUser()},
		{CommandUpdateUserDetails, h.UpdateUserDetails, validateUpdateUserDetails()},
		{CommandChangeUserPassword, h.ChangeUserPassword, validateChangeUserPassword()},
		{CommandSetUserRoles, h.SetUserRoles, validateSetUserRoles()},
		{CommandSetUserAdminStatus, h.SetUserAdminStatus, validateSetUserAdminStatus()},
		{CommandUnlockAccount, h.UnlockAccount, validateUnlockAccount()},
		{CommandProcessAuthenticationAttempt, h.ProcessAuthenticationAttempt, validateProcessAuthenticationAttempt()},
		{CommandValidateAppCode, h.ValidateAuthenticatorAppCode, validateValidateAppCode()},
		{CommandRequestPasswordReset, h.RequestPasswordReset, validateRequestPasswordReset()},
		{CommandCompletePasswordReset, h.CompletePasswordReset, validateCompletePasswordReset()},
		{CommandRequestAccountConfirmation, h.RequestAccountConfirmation, validateRequestAccountConfirmation()},
		{CommandCompleteAccountConfirmation, h.CompleteAccountConfirmation, validateCompleteAccountConfirmation()},
		{CommandInitiateAppEnrollment, h.InitiateAuthenticatorAppEnrollment, validateInitiateAppEnrollment()},
		{CommandCompleteAppEnrollment, h.CompleteAuthenticatorAppEnrollment, validateCompleteAppEnrollment()},
		{CommandRevokeAuthenticatorApp, h.RevokeAuthenticatorApp, validateRevokeAuthenticatorApp()},
		{CommandInitiateDeviceRegistration, h.InitiateDeviceRegistration, validateInitiateDeviceRegistration()},
		{CommandCompleteDeviceRegistration, h.CompleteDeviceRegistration, validateCompleteDeviceRegistration()},
		{CommandInitiateDeviceAssertion, h.InitiateDeviceAssertion, validateInitiateDeviceAssertion()},
		{CommandCompleteDeviceAssertion, h.CompleteDeviceAssertion, validateCompleteDeviceAssertion()},
		{CommandRevokeAuthenticatorDevice, h.RevokeAuthenticatorDevice, validateRevokeAuthenticatorDevice()},
	}
	for _, b := range bindings {
		d.Register(b.name, b.handler)
		d.RegisterValidator(b.name, b.validator)
	}
}

// save commits the unit of work and maps the commit outcome: a uniqueness
// conflict becomes the supplied conflict result, any other failure becomes
// a saving-changes failure, and success yields the supplied result.
func (h *Handlers) save(ctx context.Context, uow repository.UnitOfWork, success, conflict command.Result) command.Result {
	if err := uow.SaveEntities(ctx); err != nil {
		if errors.Is(err, repository.ErrUniquenessConflict) {
			return conflict
		}
		h.logger.Error().Err(err).Msg("saving changes failed")
		return failedSaving()
	}
	return success
}

func failedSaving() command.Result {
	return command.Failed(command.CodeSavingChanges, "the requested changes could not be saved")
}

func failedNotFound() command.Result {
	return command.Failed(command.CodeNotFound, "the requested user could not be found")
}

func failedAlreadyExists() command.Result {
	return command.Failed(command.CodeAlreadyExists, "a user with that email address already exists")
}

func failedAuthentication() command.Result {
	return command.Failed(command.CodeAuthenticationFailed, "authentication failed")
}

func failedUnauthorized() command.Result {
	return command.Failed(command.CodeUnauthorized, "the current password could not be verified")
}

// rollback discards an uncommitted unit of work. Safe to call after a
// successful commit.
func (h *Handlers) rollback(ctx context.Context, uow repository.UnitOfWork) {
	if err := uow.Rollback(ctx); err != nil && !errors.Is(err, repository.ErrUnitOfWorkDone) {
		h.logger.Warn().Err(err).Msg("rollback failed")
	}
}
