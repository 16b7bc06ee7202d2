package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/domain"
	"github.com/prn-tf/meridian-identity/internal/pkg/crypto"
)

func TestCreateUser_WithInitialPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	roleID := uuid.New()
	result := env.handlers.CreateUser(ctx, CreateUser{
		EmailAddress: "new@example.com",
		FirstName:    "New",
		LastName:     "User",
		Password:     "S3cret!pass",
		IsLockable:   true,
		IsAdmin:      true,
		RoleIDs:      []uuid.UUID{roleID},
	})

	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}
	payload, ok := result.Payload().(CreateUserPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", result.Payload())
	}

	stored := env.store.get(t, payload.UserID)
	if !stored.IsVerified {
		t.Error("expected account with initial password to be verified")
	}
	if !stored.IsAdmin {
		t.Error("expected admin flag to be set")
	}
	if len(stored.Roles) != 1 || stored.Roles[0].RoleID != roleID {
		t.Errorf("expected role assignment, got %+v", stored.Roles)
	}
	if !crypto.VerifyPassword(stored.PasswordHash, "S3cret!pass") {
		t.Error("expected stored hash to verify the initial password")
	}
	if stored.UsableToken(domain.TokenPurposeAccountConfirmation, testNow) != nil {
		t.Error("expected no confirmation token when a password was supplied")
	}
}

func TestCreateUser_WithoutPasswordIssuesConfirmationToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.handlers.CreateUser(ctx, CreateUser{
		EmailAddress: "invited@example.com",
		FirstName:    "Invited",
		LastName:     "User",
		IsLockable:   true,
	})

	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}
	payload := result.Payload().(CreateUserPayload)

	stored := env.store.get(t, payload.UserID)
	if stored.IsVerified {
		t.Error("expected account without password to be unverified")
	}
	if stored.PasswordHash != "" {
		t.Error("expected empty password hash")
	}
	if stored.UsableToken(domain.TokenPurposeAccountConfirmation, testNow) == nil {
		t.Error("expected a usable confirmation token")
	}

	// The token event is dispatched after commit for out-of-band delivery.
	found := false
	for _, event := range env.store.events {
		if _, ok := event.(domain.AccountConfirmationTokenGenerated); ok {
			found = true
		}
	}
	if !found {
		t.Error("expected AccountConfirmationTokenGenerated event")
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "taken@example.com", "S3cret!pass")

	result := env.handlers.CreateUser(ctx, CreateUser{
		EmailAddress: "TAKEN@example.com",
		FirstName:    "Other",
		LastName:     "User",
		Password:     "S3cret!pass",
	})

	requireFailureCode(t, result, command.CodeAlreadyExists)
}

func TestCreateUser_CommitConflictMapsToAlreadyExists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The presence pre-check reports the address free, then the commit
	// hits the uniqueness constraint: a concurrent create won the race.
	env.seedUser(t, "raced@example.com", "S3cret!pass")
	env.store.presenceBlind = true

	result := env.handlers.CreateUser(ctx, CreateUser{
		EmailAddress: "raced@example.com",
		FirstName:    "C",
		LastName:     "D",
		Password:     "S3cret!pass",
	})

	requireFailureCode(t, result, command.CodeAlreadyExists)
}

func TestCreateUser_SaveFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.saveErr = errors.New("disk full")

	result := env.handlers.CreateUser(ctx, CreateUser{
		EmailAddress: "new@example.com",
		FirstName:    "New",
		LastName:     "User",
		Password:     "S3cret!pass",
	})

	requireFailureCode(t, result, command.CodeSavingChanges)
}

func TestUpdateUserDetails_SelfRenameSkipsPresenceCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	// A failing presence check proves the check is not consulted when the
	// address is unchanged apart from casing.
	env.store.presenceErr = errors.New("query backend down")

	result := env.handlers.UpdateUserDetails(ctx, UpdateUserDetails{
		UserID:       user.ID,
		EmailAddress: "Jane.Doe@EXAMPLE.com",
		FirstName:    "Janet",
		LastName:     "Doe",
		IsLockable:   true,
	})

	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}
	stored := env.store.get(t, user.ID)
	if stored.Profile.FirstName != "Janet" {
		t.Errorf("expected profile update, got %+v", stored.Profile)
	}
	if stored.EmailAddress != user.EmailAddress {
		t.Errorf("expected address unchanged, got %s", stored.EmailAddress)
	}
}

func TestUpdateUserDetails_RenameToTakenAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")
	env.seedUser(t, "taken@example.com", "S3cret!pass")

	result := env.handlers.UpdateUserDetails(ctx, UpdateUserDetails{
		UserID:       user.ID,
		EmailAddress: "taken@example.com",
		FirstName:    "Jane",
		LastName:     "Doe",
		IsLockable:   true,
	})

	requireFailureCode(t, result, command.CodeAlreadyExists)
}

func TestUpdateUserDetails_RenameRotatesStamp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	result := env.handlers.UpdateUserDetails(ctx, UpdateUserDetails{
		UserID:       user.ID,
		EmailAddress: "janet.doe@example.com",
		FirstName:    "Janet",
		LastName:     "Doe",
		IsLockable:   false,
	})

	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}
	stored := env.store.get(t, user.ID)
	if stored.EmailAddress != "janet.doe@example.com" {
		t.Errorf("expected new address, got %s", stored.EmailAddress)
	}
	if stored.IsLockable {
		t.Error("expected lockable flag cleared")
	}
	if stored.SecurityStamp == user.SecurityStamp {
		t.Error("expected security stamp rotation on rename")
	}
}

func TestUpdateUserDetails_PureProfileEditKeepsStamp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	roles := []uuid.UUID{uuid.New(), uuid.New()}
	withRoles := env.store.get(t, user.ID)
	withRoles.SetRoles(roles)
	env.store.seed(withRoles)

	// Same address, same lockable flag, same memberships in a different
	// order: only the display name changes, so sessions must survive.
	result := env.handlers.UpdateUserDetails(ctx, UpdateUserDetails{
		UserID:       user.ID,
		EmailAddress: "jane.doe@example.com",
		FirstName:    "Janet",
		LastName:     "Doe",
		IsLockable:   true,
		RoleIDs:      []uuid.UUID{roles[1], roles[0]},
	})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}

	stored := env.store.get(t, user.ID)
	if stored.Profile.FirstName != "Janet" {
		t.Errorf("expected profile update, got %+v", stored.Profile)
	}
	if stored.SecurityStamp != withRoles.SecurityStamp {
		t.Error("expected security stamp untouched by a pure profile edit")
	}
	if len(stored.Roles) != 2 {
		t.Errorf("expected memberships untouched, got %d", len(stored.Roles))
	}
}

func TestUpdateUserDetails_RoleChangeRotatesStamp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	result := env.handlers.UpdateUserDetails(ctx, UpdateUserDetails{
		UserID:       user.ID,
		EmailAddress: "jane.doe@example.com",
		FirstName:    "Jane",
		LastName:     "Doe",
		IsLockable:   true,
		RoleIDs:      []uuid.UUID{uuid.New()},
	})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}

	stored := env.store.get(t, user.ID)
	if len(stored.Roles) != 1 {
		t.Fatalf("expected 1 role, got %d", len(stored.Roles))
	}
	if stored.SecurityStamp == user.SecurityStamp {
		t.Error("expected security stamp rotation on membership change")
	}
}

func TestUpdateUserDetails_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	result := env.handlers.UpdateUserDetails(context.Background(), UpdateUserDetails{
		UserID:       uuid.New(),
		EmailAddress: "nobody@example.com",
		FirstName:    "No",
		LastName:     "Body",
	})

	requireFailureCode(t, result, command.CodeNotFound)
}

func TestChangeUserPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "OldS3cret!")

	t.Run("wrong current password", func(t *testing.T) {
		result := env.handlers.ChangeUserPassword(ctx, ChangeUserPassword{
			UserID:          user.ID,
			CurrentPassword: "wrong",
			NewPassword:     "NewS3cret!",
		})
		requireFailureCode(t, result, command.CodeUnauthorized)

		stored := env.store.get(t, user.ID)
		if !crypto.VerifyPassword(stored.PasswordHash, "OldS3cret!") {
			t.Error("expected password unchanged after rejected change")
		}
	})

	t.Run("correct current password", func(t *testing.T) {
		result := env.handlers.ChangeUserPassword(ctx, ChangeUserPassword{
			UserID:          user.ID,
			CurrentPassword: "OldS3cret!",
			NewPassword:     "NewS3cret!",
		})
		if !result.Succeeded() {
			t.Fatalf("expected success, got %+v", result.Error())
		}

		stored := env.store.get(t, user.ID)
		if !crypto.VerifyPassword(stored.PasswordHash, "NewS3cret!") {
			t.Error("expected new password to verify")
		}
		if stored.SecurityStamp == user.SecurityStamp {
			t.Error("expected security stamp rotation on password change")
		}
	})
}

func TestSetUserRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")
	roles := []uuid.UUID{uuid.New(), uuid.New()}

	result := env.handlers.SetUserRoles(ctx, SetUserRoles{UserID: user.ID, RoleIDs: roles})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}

	stored := env.store.get(t, user.ID)
	if len(stored.Roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(stored.Roles))
	}

	// Replacing with an empty set clears all memberships.
	result = env.handlers.SetUserRoles(ctx, SetUserRoles{UserID: user.ID})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}
	if stored = env.store.get(t, user.ID); len(stored.Roles) != 0 {
		t.Errorf("expected roles cleared, got %d", len(stored.Roles))
	}
}

func TestSetUserAdminStatus_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	result := env.handlers.SetUserAdminStatus(context.Background(), SetUserAdminStatus{
		UserID:  uuid.New(),
		IsAdmin: true,
	})

	requireFailureCode(t, result, command.CodeNotFound)
}

func TestUnlockAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	locked := env.store.get(t, user.ID)
	locked.ProcessUnsuccessfulAuthenticationAttempt(testNow, true)
	env.store.seed(locked)

	result := env.handlers.UnlockAccount(ctx, UnlockAccount{UserID: user.ID})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}

	stored := env.store.get(t, user.ID)
	if stored.IsLocked() {
		t.Error("expected lock cleared")
	}
	if stored.AttemptsSinceLastAuthentication != 0 {
		t.Errorf("expected attempt counter reset, got %d", stored.AttemptsSinceLastAuthentication)
	}
}
