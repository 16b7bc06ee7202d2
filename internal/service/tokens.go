package service

import (
	"context"
	"errors"

	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/pkg/crypto"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

func failedTokenNotFound() command.Result {
	return command.Failed(command.CodeNotFound, "the supplied token is not valid")
}

// RequestPasswordReset handles the request-password-reset command. The
// result is Ok whether or not the address belongs to an account, so the
// endpoint cannot be used to enumerate users. An existing usable token is
// re-delivered rather than replaced.
func (h *Handlers) RequestPasswordReset(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(RequestPasswordReset)
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
			return command.Ok()
		}
		h.logger.Error().Err(err).Msg("loading user failed")
		return failedSaving()
	}
	if !user.IsVerified {
		// An unconfirmed account has no password to reset.
		return command.Ok()
	}

	user.GenerateNewPasswordResetToken(now, h.policy.PasswordResetTokenTTL)
	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.Ok(), failedSaving())
}

// CompletePasswordReset handles the complete-password-reset command. The
// token is resolved to its owning user, marked used, and the lockout is
// cleared along with the password change.
func (h *Handlers) CompletePasswordReset(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(CompletePasswordReset)
	return h.completeToken(ctx, cmd.Token, domain.TokenPurposePasswordReset, cmd.NewPassword, func(user *domain.User) {
		user.Unlock()
	})
}

// RequestAccountConfirmation handles the request-account-confirmation
// command. This is an administrative re-send, so an unknown address is
// reported as not found rather than silently swallowed.
func (h *Handlers) RequestAccountConfirmation(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(RequestAccountConfirmation)
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
			return failedNotFound()
		}
		h.logger.Error().Err(err).Msg("loading user failed")
		return failedSaving()
	}
	if user.IsVerified {
		return command.Failed(command.CodeAlreadyExists, "the account is already confirmed")
	}

	user.GenerateNewAccountConfirmationToken(now, h.policy.AccountConfirmationTokenTTL)
	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.Ok(), failedSaving())
}

// CompleteAccountConfirmation handles the complete-account-confirmation
// command: the token sets the first password and marks the account
// verified.
func (h *Handlers) CompleteAccountConfirmation(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(CompleteAccountConfirmation)
	return h.completeToken(ctx, cmd.Token, domain.TokenPurposeAccountConfirmation, cmd.NewPassword, func(user *domain.User) {
		user.ConfirmAccount()
	})
}

// completeToken is the shared exchange: resolve the usable token to its
// owner, set the password, mark the token used, and apply the
// purpose-specific extra mutation. A malformed, expired, used, or unknown
// token is always reported as not found.
func (h *Handlers) completeToken(ctx context.Context, external string, purpose domain.TokenPurpose, newPassword string, also func(*domain.User)) command.Result {
	now := h.clock.Now()

	tokenID, err := domain.ParseExternalToken(external)
	if err != nil {
		return failedTokenNotFound()
	}

	uow, err := h.factory.Begin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("beginning unit of work failed")
		return failedSaving()
	}
	defer h.rollback(ctx, uow)

	user, err := uow.Users().FindBySecurityToken(ctx, tokenID, purpose, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return failedTokenNotFound()
		}
		h.logger.Error().Err(err).Msg("resolving token failed")
		return failedSaving()
	}

	passwordHash, err := crypto.HashPassword(newPassword)
	if err != nil {
		h.logger.Error().Err(err).Msg("password hashing failed")
		return failedSaving()
	}
	user.ChangePassword(passwordHash)
	if err := user.CompleteTokenLifecycle(tokenID, now); err != nil {
		h.logger.Error().Err(err).Msg("marking token used failed")
		return failedSaving()
	}
	also(user)

	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.Ok(), failedSaving())
}
