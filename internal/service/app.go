package service

import (
	"context"
	"errors"

	"github.com/prn-tf/meridian-identity/internal/challenge"
	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/pkg/crypto"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

// InitiateAuthenticatorAppEnrollment handles the first half of TOTP
// enrollment. The shared key is generated here and stashed in the
// session-scoped challenge store; nothing touches the aggregate until the
// user proves possession of the key.
func (h *Handlers) InitiateAuthenticatorAppEnrollment(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(InitiateAuthenticatorAppEnrollment)

	uow, err := h.factory.Begin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("beginning unit of work failed")
		return failedSaving()
	}
	defer h.rollback(ctx, uow)

	user, err := uow.Users().Find(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return failedNotFound()
		}
		h.logger.Error().Err(err).Msg("loading user failed")
		return failedSaving()
	}
	if user.ActiveAuthenticatorApp() != nil {
		return command.Failed(command.CodeAlreadyExists, "an authenticator app is already enrolled")
	}

	sharedKey, sharedKeyBase32, err := h.totp.GenerateSecret()
	if err != nil {
		h.logger.Error().Err(err).Msg("generating shared key failed")
		return failedSaving()
	}

	if err := h.challenges.Put(ctx, cmd.SessionID, challenge.KindAppEnrollment, sharedKey, h.policy.ChallengeTTL); err != nil {
		h.logger.Error().Err(err).Msg("stashing enrollment challenge failed")
		return failedSaving()
	}

	return command.OkWith(AppEnrollmentPayload{
		SharedKey:    sharedKeyBase32,
		ProvisionURI: h.totp.ProvisionURI(sharedKeyBase32, user.EmailAddress),
	})
}

// CompleteAuthenticatorAppEnrollment handles the second half of TOTP
// enrollment. The pending key is consumed from the challenge store whether
// or not the code verifies, so every attempt costs a fresh initiation.
func (h *Handlers) CompleteAuthenticatorAppEnrollment(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(CompleteAuthenticatorAppEnrollment)
	now := h.clock.Now()

	sharedKey, err := h.challenges.Take(ctx, cmd.SessionID, challenge.KindAppEnrollment)
	if err != nil {
		if errors.Is(err, challenge.ErrChallengeNotFound) {
			return failedAuthentication()
		}
		h.logger.Error().Err(err).Msg("taking enrollment challenge failed")
		return failedSaving()
	}

	valid, err := h.totp.Verify(sharedKey, cmd.Code, now)
	if err != nil {
		h.logger.Error().Err(err).Msg("code verification failed")
		return failedSaving()
	}
	if !valid {
		return failedAuthentication()
	}

	uow, err := h.factory.Begin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("beginning unit of work failed")
		return failedSaving()
	}
	defer h.rollback(ctx, uow)

	user, err := uow.Users().Find(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return failedNotFound()
		}
		h.logger.Error().Err(err).Msg("loading user failed")
		return failedSaving()
	}

	if _, err := user.EnrollAuthenticatorApp(sharedKey, now); err != nil {
		if errors.Is(err, domain.ErrAppAlreadyEnrolled) {
			return command.Failed(command.CodeAlreadyExists, "an authenticator app is already enrolled")
		}
		h.logger.Error().Err(err).Msg("enrolling authenticator app failed")
		return failedSaving()
	}

	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.Ok(), failedSaving())
}

// RevokeAuthenticatorApp handles revocation of the active TOTP enrollment.
// The current password gates the operation so a hijacked session cannot
// strip the second factor on its own.
func (h *Handlers) RevokeAuthenticatorApp(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(RevokeAuthenticatorApp)
	now := h.clock.Now()

	return h.mutateUser(ctx, cmd.UserID, func(user *domain.User) command.Result {
		if !crypto.VerifyPassword(user.PasswordHash, cmd.Password) {
			return failedUnauthorized()
		}
		if err := user.RevokeAuthenticatorApp(now); err != nil {
			return command.Failed(command.CodeNotFound, "no authenticator app is enrolled")
		}
		return command.Ok()
	})
}
