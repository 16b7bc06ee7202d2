package service

import (
	"context"
	"errors"

	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/pkg/crypto"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

// ProcessAuthenticationAttempt handles the password stage of a login. An
// unknown address, a locked account, and a wrong password all produce the
// same authentication-failed result so the response does not reveal which
// accounts exist.
func (h *Handlers) ProcessAuthenticationAttempt(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(ProcessAuthenticationAttempt)
	now := h.clock.Now()

	uow, err := h.factory.Begin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("beginning unit of work failed")
		return failedSaving()
	}
	defer h.rollback(ctx, uow)

	user, err := uow.Users().FindByEmailAddress(ctx, cmd.EmailAddress)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn a comparison so an unknown address costs the same
			// as a wrong password.
			crypto.VerifyPassword("", cmd.Password)
			return failedAuthentication()
		}
		h.logger.Error().Err(err).Msg("loading user failed")
		return failedSaving()
	}

	if user.IsLocked() {
		return failedAuthentication()
	}

	if !crypto.VerifyPassword(user.PasswordHash, cmd.Password) {
		return h.recordFailedAttempt(ctx, uow, user)
	}

	if user.HasSecondFactor() {
		user.ProcessPartialSuccessfulAuthenticationAttempt(now, domain.StagePasswordVerified)
		payload := AuthenticationPayload{UserID: user.ID, SecondFactorRequired: true}
		if err := uow.Users().Update(ctx, user); err != nil {
			h.logger.Error().Err(err).Msg("staging user update failed")
			return failedSaving()
		}
		return h.save(ctx, uow, command.OkWith(payload), failedSaving())
	}

	user.ProcessSuccessfulAuthenticationAttempt(now)
	payload := AuthenticationPayload{UserID: user.ID, SecurityStamp: user.SecurityStamp}
	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.OkWith(payload), failedSaving())
}

// ValidateAuthenticatorAppCode handles the TOTP stage of a login. A wrong
// code counts toward the lockout threshold like a wrong password.
func (h *Handlers) ValidateAuthenticatorAppCode(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(ValidateAuthenticatorAppCode)
	now := h.clock.Now()

	uow, err := h.factory.Begin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("beginning unit of work failed")
		return failedSaving()
	}
	defer h.rollback(ctx, uow)

	user, err := uow.Users().Find(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return failedAuthentication()
		}
		h.logger.Error().Err(err).Msg("loading user failed")
		return failedSaving()
	}
	if user.IsLocked() {
		return failedAuthentication()
	}

	app := user.ActiveAuthenticatorApp()
	if app == nil {
		return failedAuthentication()
	}

	valid, err := h.totp.Verify(app.SharedKey, cmd.Code, now)
	if err != nil {
		h.logger.Error().Err(err).Msg("code verification failed")
		return failedSaving()
	}
	if !valid {
		return h.recordFailedAttempt(ctx, uow, user)
	}

	user.ProcessSuccessfulAuthenticationAttempt(now)
	payload := AuthenticationPayload{UserID: user.ID, SecurityStamp: user.SecurityStamp}
	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.OkWith(payload), failedSaving())
}

// recordFailedAttempt appends a failure history entry, applying the lock
// when this failure reaches the threshold, and commits. The caller's result
// is authentication-failed regardless of whether the record itself saved;
// a persistence hiccup must not turn a bad credential into a success.
func (h *Handlers) recordFailedAttempt(ctx context.Context, uow repository.UnitOfWork, user *domain.User) command.Result {
	now := h.clock.Now()
	applyLock := user.AttemptsSinceLastAuthentication+1 >= h.policy.LockoutThreshold
	user.ProcessUnsuccessfulAuthenticationAttempt(now, applyLock)

	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging failed attempt failed")
		return failedAuthentication()
	}
	if err := uow.SaveEntities(ctx); err != nil {
		h.logger.Error().Err(err).Msg("saving failed attempt failed")
	}
	return failedAuthentication()
}
