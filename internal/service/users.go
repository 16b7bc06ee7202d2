package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/pkg/crypto"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

// CreateUser handles the create-user command. The email address is checked
// for uniqueness up front; a concurrent create that loses the race is still
// caught by the commit-time conflict and mapped to the same result.
func (h *Handlers) CreateUser(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(CreateUser)
	now := h.clock.Now()

	taken, err := h.queries.CheckForPresenceOfUserByEmailAddress(ctx, cmd.EmailAddress)
	if err != nil {
		h.logger.Error().Err(err).Msg("presence check failed")
		return failedSaving()
	}
	if taken {
		return failedAlreadyExists()
	}

	passwordHash := ""
	if cmd.Password != "" {
		if passwordHash, err = crypto.HashPassword(cmd.Password); err != nil {
			h.logger.Error().Err(err).Msg("password hashing failed")
			return failedSaving()
		}
	}

	uow, err := h.factory.Begin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("beginning unit of work failed")
		return failedSaving()
	}
	defer h.rollback(ctx, uow)

	user := domain.NewUser(cmd.EmailAddress, cmd.FirstName, cmd.LastName, passwordHash, cmd.IsLockable, now)
	if cmd.IsAdmin {
		user.SetAdminStatus(true)
	}
	if len(cmd.RoleIDs) > 0 {
		user.SetRoles(cmd.RoleIDs)
	}
	if cmd.Password != "" {
		user.ConfirmAccount()
	} else {
		// No initial password: the user confirms the account and sets
		// the first password through the emailed token.
		user.GenerateNewAccountConfirmationToken(now, h.policy.AccountConfirmationTokenTTL)
	}

	if err := uow.Users().Add(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging new user failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.OkWith(CreateUserPayload{UserID: user.ID}), failedAlreadyExists())
}

// UpdateUserDetails handles the update-user-details command. A rename to
// the user's own address, in any casing, bypasses the uniqueness check.
func (h *Handlers) UpdateUserDetails(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(UpdateUserDetails)

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

	if !user.EmailAddressMatches(cmd.EmailAddress) {
		taken, err := h.queries.CheckForPresenceOfUserByEmailAddress(ctx, cmd.EmailAddress)
		if err != nil {
			h.logger.Error().Err(err).Msg("presence check failed")
			return failedSaving()
		}
		if taken {
			return failedAlreadyExists()
		}
		user.UpdateSystemAccessDetails(cmd.EmailAddress, cmd.IsLockable)
	} else if user.IsLockable != cmd.IsLockable {
		user.UpdateSystemAccessDetails(user.EmailAddress, cmd.IsLockable)
	}

	user.UpdateProfile(cmd.FirstName, cmd.LastName)
	// SetRoles rotates the security stamp; skip it when the memberships
	// already match so a pure profile edit does not log out the user.
	if !sameRoleSet(user.Roles, cmd.RoleIDs) {
		user.SetRoles(cmd.RoleIDs)
	}

	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.Ok(), failedAlreadyExists())
}

// ChangeUserPassword handles the change-user-password command. The current
// password is re-verified even though the caller already holds a session.
func (h *Handlers) ChangeUserPassword(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(ChangeUserPassword)

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

	if !crypto.VerifyPassword(user.PasswordHash, cmd.CurrentPassword) {
		return failedUnauthorized()
	}

	passwordHash, err := crypto.HashPassword(cmd.NewPassword)
	if err != nil {
		h.logger.Error().Err(err).Msg("password hashing failed")
		return failedSaving()
	}
	user.ChangePassword(passwordHash)

	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.Ok(), failedSaving())
}

// SetUserRoles handles the set-user-roles command.
func (h *Handlers) SetUserRoles(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(SetUserRoles)
	return h.mutateUser(ctx, cmd.UserID, func(user *domain.User) command.Result {
		user.SetRoles(cmd.RoleIDs)
		return command.Ok()
	})
}

// SetUserAdminStatus handles the set-user-admin-status command.
func (h *Handlers) SetUserAdminStatus(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(SetUserAdminStatus)
	return h.mutateUser(ctx, cmd.UserID, func(user *domain.User) command.Result {
		user.SetAdminStatus(cmd.IsAdmin)
		return command.Ok()
	})
}

// UnlockAccount handles the unlock-account command.
func (h *Handlers) UnlockAccount(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(UnlockAccount)
	return h.mutateUser(ctx, cmd.UserID, func(user *domain.User) command.Result {
		user.Unlock()
		return command.Ok()
	})
}

// sameRoleSet reports whether the current memberships already equal the
// requested role IDs, ignoring order.
func sameRoleSet(current []domain.UserRole, want []uuid.UUID) bool {
	wanted := make(map[uuid.UUID]struct{}, len(want))
	for _, id := range want {
		wanted[id] = struct{}{}
	}
	if len(current) != len(wanted) {
		return false
	}
	for _, role := range current {
		if _, ok := wanted[role.RoleID]; !ok {
			return false
		}
	}
	return true
}

// mutateUser is the load-mutate-commit skeleton shared by the simple
// administrative commands. mutate returns the success result; returning a
// failed result skips the commit.
func (h *Handlers) mutateUser(ctx context.Context, userID uuid.UUID, mutate func(*domain.User) command.Result) command.Result {
	uow, err := h.factory.Begin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("beginning unit of work failed")
		return failedSaving()
	}
	defer h.rollback(ctx, uow)

	user, err := uow.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return failedNotFound()
		}
		h.logger.Error().Err(err).Msg("loading user failed")
		return failedSaving()
	}

	result := mutate(user)
	if !result.Succeeded() {
		return result
	}

	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, result, failedSaving())
}
