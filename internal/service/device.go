package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prn-tf/meridian-identity/internal/challenge"
	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/pkg/crypto"
	"github.com/prn-tf/meridian-identity/internal/pkg/fido"
	"github.com/prn-tf/meridian-identity/internal/repository"
)

// InitiateDeviceRegistration handles the first half of hardware credential
// enrollment: a creation challenge is issued, stashed per session, and
// returned for the client ceremony. Enrolled credential IDs ride along as
// an exclusion list.
func (h *Handlers) InitiateDeviceRegistration(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(InitiateDeviceRegistration)

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

	var exclude [][]byte
	for _, device := range user.ActiveDevices() {
		exclude = append(exclude, device.CredentialID)
	}

	opts, err := h.rp.NewCreationOptions(user.ID[:], user.EmailAddress, exclude)
	if err != nil {
		h.logger.Error().Err(err).Msg("generating creation options failed")
		return failedSaving()
	}
	if err := h.stashChallenge(ctx, cmd.SessionID, challenge.KindDeviceRegistration, opts); err != nil {
		return failedSaving()
	}
	return command.OkWith(opts)
}

// CompleteDeviceRegistration handles the second half of enrollment: the
// attestation is verified against the stashed challenge and the credential
// is recorded on the aggregate.
func (h *Handlers) CompleteDeviceRegistration(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(CompleteDeviceRegistration)
	now := h.clock.Now()

	var opts fido.CreationOptions
	if res := h.takeChallenge(ctx, cmd.SessionID, challenge.KindDeviceRegistration, &opts); !res.Succeeded() {
		return res
	}

	credential, err := fido.VerifyAttestation(&opts, &cmd.Response)
	if err != nil {
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

	user.EnrollAuthenticatorDevice(
		cmd.DeviceName,
		credential.CredentialID,
		credential.PublicKey,
		credential.AAGUID,
		credential.CredType,
		credential.Counter,
		now,
	)

	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.Ok(), failedSaving())
}

// InitiateDeviceAssertion handles the first half of a device login. The
// caller holds only a partially authenticated session; an unknown address
// and an account with no enrolled devices are indistinguishable in the
// result.
func (h *Handlers) InitiateDeviceAssertion(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(InitiateDeviceAssertion)
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
			return failedAuthentication()
		}
		h.logger.Error().Err(err).Msg("loading user failed")
		return failedSaving()
	}

	devices := user.ActiveDevices()
	if len(devices) == 0 {
		return failedAuthentication()
	}
	allow := make([][]byte, 0, len(devices))
	for _, device := range devices {
		allow = append(allow, device.CredentialID)
	}

	opts, err := h.rp.NewAssertionOptions(allow)
	if err != nil {
		h.logger.Error().Err(err).Msg("generating assertion options failed")
		return failedSaving()
	}
	if err := h.stashChallenge(ctx, cmd.SessionID, challenge.KindDeviceAssertion, opts); err != nil {
		return failedSaving()
	}

	user.ProcessPartialSuccessfulAuthenticationAttempt(now, domain.StageDeviceChallengeIssued)
	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.OkWith(opts), failedSaving())
}

// CompleteDeviceAssertion handles the second half of a device login. A
// verified assertion advances the stored signature counter and completes
// the login; a failed one counts toward the lockout threshold.
func (h *Handlers) CompleteDeviceAssertion(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(CompleteDeviceAssertion)
	now := h.clock.Now()

	var opts fido.AssertionOptions
	if res := h.takeChallenge(ctx, cmd.SessionID, challenge.KindDeviceAssertion, &opts); !res.Succeeded() {
		return res
	}

	uow, err := h.factory.Begin(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("beginning unit of work failed")
		return failedSaving()
	}
	defer h.rollback(ctx, uow)

	user, err := uow.Users().FindByEmailAddress(ctx, cmd.EmailAddress)
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

	device := user.ActiveDeviceByCredentialID(cmd.Response.CredentialID)
	if device == nil {
		return h.recordFailedAttempt(ctx, uow, user)
	}

	newCounter, err := fido.VerifyAssertion(&opts, device.PublicKey, device.Counter, h.rp.Origin, &cmd.Response)
	if err != nil {
		return h.recordFailedAttempt(ctx, uow, user)
	}

	if err := user.UpdateDeviceCounter(device.ID, newCounter, now); err != nil {
		h.logger.Error().Err(err).Msg("recording device counter failed")
		return failedSaving()
	}
	user.ProcessSuccessfulAuthenticationAttempt(now)
	payload := AuthenticationPayload{UserID: user.ID, SecurityStamp: user.SecurityStamp}

	if err := uow.Users().Update(ctx, user); err != nil {
		h.logger.Error().Err(err).Msg("staging user update failed")
		return failedSaving()
	}
	return h.save(ctx, uow, command.OkWith(payload), failedSaving())
}

// RevokeAuthenticatorDevice handles device revocation, gated on the current
// password like app revocation.
func (h *Handlers) RevokeAuthenticatorDevice(ctx context.Context, raw command.Command) command.Result {
	cmd := raw.(RevokeAuthenticatorDevice)
	now := h.clock.Now()

	return h.mutateUser(ctx, cmd.UserID, func(user *domain.User) command.Result {
		if !crypto.VerifyPassword(user.PasswordHash, cmd.Password) {
			return failedUnauthorized()
		}
		if err := user.RevokeAuthenticatorDevice(cmd.DeviceID, now); err != nil {
			return command.Failed(command.CodeNotFound, "the requested device could not be found")
		}
		return command.Ok()
	})
}

// stashChallenge serializes the challenge state into the session-scoped
// store.
func (h *Handlers) stashChallenge(ctx context.Context, sessionID string, kind challenge.Kind, state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		h.logger.Error().Err(err).Msg("serializing challenge failed")
		return err
	}
	if err := h.challenges.Put(ctx, sessionID, kind, payload, h.policy.ChallengeTTL); err != nil {
		h.logger.Error().Err(err).Msg("stashing challenge failed")
		return err
	}
	return nil
}

// takeChallenge consumes and deserializes the session's challenge state. A
// missing or expired challenge reads as an authentication failure.
func (h *Handlers) takeChallenge(ctx context.Context, sessionID string, kind challenge.Kind, into any) command.Result {
	payload, err := h.challenges.Take(ctx, sessionID, kind)
	if err != nil {
		if errors.Is(err, challenge.ErrChallengeNotFound) {
			return failedAuthentication()
		}
		h.logger.Error().Err(err).Msg("taking challenge failed")
		return failedSaving()
	}
	if err := json.Unmarshal(payload, into); err != nil {
		h.logger.Error().Err(err).Msg("deserializing challenge failed")
		return failedSaving()
	}
	return command.Ok()
}
