package domain

import (
	"testing"
	"time"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestUser() *User {
	return NewUser("jane.doe@example.com", "Jane", "Doe", "$2a$10$hash", true, testTime)
}

func TestUser_UnsuccessfulAttempts(t *testing.T) {
	tests := []struct {
		name       string
		isLockable bool
		attempts   int
		applyLock  bool
		wantLocked bool
	}{
		{
			name:       "failures without lock request accumulate",
			isLockable: true,
			attempts:   4,
			applyLock:  false,
			wantLocked: false,
		},
		{
			name:       "lock applied when requested on lockable account",
			isLockable: true,
			attempts:   5,
			applyLock:  true,
			wantLocked: true,
		},
		{
			name:       "lock never applied to non-lockable account",
			isLockable: false,
			attempts:   10,
			applyLock:  true,
			wantLocked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := NewUser("a@b.example", "A", "B", "hash", tt.isLockable, testTime)

			for i := 0; i < tt.attempts; i++ {
				applyLock := tt.applyLock && i == tt.attempts-1
				user.ProcessUnsuccessfulAuthenticationAttempt(testTime, applyLock)
			}

			if user.AttemptsSinceLastAuthentication != tt.attempts {
				t.Errorf("expected %d attempts, got %d", tt.attempts, user.AttemptsSinceLastAuthentication)
			}
			if user.IsLocked() != tt.wantLocked {
				t.Errorf("expected locked=%v, got %v", tt.wantLocked, user.IsLocked())
			}
			if len(user.AuthenticationHistory) != tt.attempts {
				t.Errorf("expected %d history entries, got %d", tt.attempts, len(user.AuthenticationHistory))
			}
			for _, entry := range user.AuthenticationHistory {
				if entry.Type != HistoryTypeFailure {
					t.Errorf("expected failure history entry, got %s", entry.Type)
				}
			}
		})
	}
}

func TestUser_SuccessfulAttemptResetsLockState(t *testing.T) {
	user := newTestUser()

	user.ProcessUnsuccessfulAuthenticationAttempt(testTime, false)
	user.ProcessUnsuccessfulAuthenticationAttempt(testTime, true)
	if !user.IsLocked() {
		t.Fatal("expected account to be locked")
	}

	later := testTime.Add(time.Hour)
	user.ProcessSuccessfulAuthenticationAttempt(later)

	if user.IsLocked() {
		t.Error("expected lock to be cleared")
	}
	if user.AttemptsSinceLastAuthentication != 0 {
		t.Errorf("expected attempt counter reset, got %d", user.AttemptsSinceLastAuthentication)
	}
	if user.WhenLastAuthenticated == nil || !user.WhenLastAuthenticated.Equal(later) {
		t.Errorf("expected WhenLastAuthenticated %v, got %v", later, user.WhenLastAuthenticated)
	}
}

func TestUser_PartialAttemptLeavesLockStateAlone(t *testing.T) {
	user := newTestUser()
	user.ProcessUnsuccessfulAuthenticationAttempt(testTime, false)

	user.ProcessPartialSuccessfulAuthenticationAttempt(testTime, StagePasswordVerified)

	if user.AttemptsSinceLastAuthentication != 1 {
		t.Errorf("expected attempt counter untouched, got %d", user.AttemptsSinceLastAuthentication)
	}
	if user.WhenLastAuthenticated != nil {
		t.Error("expected no WhenLastAuthenticated for partial attempt")
	}
	last := user.AuthenticationHistory[len(user.AuthenticationHistory)-1]
	if last.Type != HistoryTypePartial || last.Stage != StagePasswordVerified {
		t.Errorf("unexpected history entry: %+v", last)
	}
}

func TestUser_Unlock(t *testing.T) {
	user := newTestUser()
	user.ProcessUnsuccessfulAuthenticationAttempt(testTime, true)

	user.Unlock()

	if user.IsLocked() {
		t.Error("expected lock cleared")
	}
	if user.AttemptsSinceLastAuthentication != 0 {
		t.Errorf("expected attempt counter reset, got %d", user.AttemptsSinceLastAuthentication)
	}
}

func TestUser_TokenReuseAndReplacement(t *testing.T) {
	user := newTestUser()
	validFor := 30 * time.Minute

	first := user.GenerateNewPasswordResetToken(testTime, validFor)
	second := user.GenerateNewPasswordResetToken(testTime.Add(time.Minute), validFor)
	if first.ID != second.ID {
		t.Error("expected a usable token to be reused")
	}
	if len(user.SecurityTokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(user.SecurityTokens))
	}

	// Marking the token used forces the next request to mint a new one.
	if err := user.CompleteTokenLifecycle(first.ID, testTime.Add(2*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	third := user.GenerateNewPasswordResetToken(testTime.Add(3*time.Minute), validFor)
	if third.ID == first.ID {
		t.Error("expected a fresh token after the previous one was used")
	}
	if len(user.SecurityTokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(user.SecurityTokens))
	}
}

func TestUser_TokenExpiryForcesReplacement(t *testing.T) {
	user := newTestUser()

	first := user.GenerateNewAccountConfirmationToken(testTime, time.Hour)
	afterExpiry := testTime.Add(2 * time.Hour)

	if user.UsableToken(TokenPurposeAccountConfirmation, afterExpiry) != nil {
		t.Fatal("expected expired token to be unusable")
	}

	second := user.GenerateNewAccountConfirmationToken(afterExpiry, time.Hour)
	if second.ID == first.ID {
		t.Error("expected a fresh token after expiry")
	}
}

func TestUser_TokenPurposesAreIndependent(t *testing.T) {
	user := newTestUser()

	reset := user.GenerateNewPasswordResetToken(testTime, time.Hour)
	confirm := user.GenerateNewAccountConfirmationToken(testTime, time.Hour)

	if reset.ID == confirm.ID {
		t.Error("expected distinct tokens per purpose")
	}
	if got := user.UsableToken(TokenPurposePasswordReset, testTime); got == nil || got.ID != reset.ID {
		t.Error("expected reset token lookup to find the reset token")
	}
}

func TestUser_CompleteTokenLifecycleUnknownToken(t *testing.T) {
	user := newTestUser()
	if err := user.CompleteTokenLifecycle(user.ID, testTime); err != ErrTokenNotFound {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestUser_SecurityStampRotation(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*User)
		wantRotate bool
	}{
		{"change password", func(u *User) { u.ChangePassword("newhash") }, true},
		{"update system access details", func(u *User) { u.UpdateSystemAccessDetails("new@example.com", false) }, true},
		{"set admin status", func(u *User) { u.SetAdminStatus(true) }, true},
		{"set roles", func(u *User) { u.SetRoles(nil) }, true},
		{"update profile", func(u *User) { u.UpdateProfile("New", "Name") }, false},
		{"confirm account", func(u *User) { u.ConfirmAccount() }, false},
		{"record failure", func(u *User) { u.ProcessUnsuccessfulAuthenticationAttempt(testTime, false) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := newTestUser()
			before := user.SecurityStamp

			tt.mutate(user)

			rotated := user.SecurityStamp != before
			if rotated != tt.wantRotate {
				t.Errorf("expected rotation=%v, got %v", tt.wantRotate, rotated)
			}
		})
	}
}

func TestUser_AuthenticatorAppLifecycle(t *testing.T) {
	user := newTestUser()
	key := []byte("0123456789abcdef0123")

	if user.HasSecondFactor() {
		t.Fatal("expected no second factor on a new user")
	}

	app, err := user.EnrollAuthenticatorApp(key, testTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !user.HasSecondFactor() {
		t.Error("expected second factor after enrollment")
	}
	if got := user.ActiveAuthenticatorApp(); got == nil || got.ID != app.ID {
		t.Error("expected the enrolled app to be active")
	}

	if _, err := user.EnrollAuthenticatorApp(key, testTime); err != ErrAppAlreadyEnrolled {
		t.Errorf("expected ErrAppAlreadyEnrolled, got %v", err)
	}

	if err := user.RevokeAuthenticatorApp(testTime.Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ActiveAuthenticatorApp() != nil {
		t.Error("expected no active app after revocation")
	}
	if err := user.RevokeAuthenticatorApp(testTime); err != ErrAppNotEnrolled {
		t.Errorf("expected ErrAppNotEnrolled, got %v", err)
	}

	// Re-enrollment after revocation keeps the revoked row for audit.
	if _, err := user.EnrollAuthenticatorApp(key, testTime.Add(2*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(user.AuthenticatorApps) != 2 {
		t.Errorf("expected 2 app rows, got %d", len(user.AuthenticatorApps))
	}
}

func TestUser_AuthenticatorDeviceLifecycle(t *testing.T) {
	user := newTestUser()
	credID := []byte{0x01, 0x02, 0x03}

	device := user.EnrollAuthenticatorDevice("laptop key", credID, []byte{0xaa}, "aaguid-1", "public-key", 5, testTime)
	if !user.HasSecondFactor() {
		t.Error("expected second factor after device enrollment")
	}
	if got := user.ActiveDeviceByCredentialID(credID); got == nil || got.ID != device.ID {
		t.Error("expected credential lookup to find the device")
	}
	if user.ActiveDeviceByCredentialID([]byte{0x99}) != nil {
		t.Error("expected unknown credential to find nothing")
	}

	used := testTime.Add(time.Hour)
	if err := user.UpdateDeviceCounter(device.ID, 6, used); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if device.Counter != 6 {
		t.Errorf("expected counter 6, got %d", device.Counter)
	}
	if device.WhenLastUsed == nil || !device.WhenLastUsed.Equal(used) {
		t.Errorf("expected WhenLastUsed %v, got %v", used, device.WhenLastUsed)
	}

	if err := user.RevokeAuthenticatorDevice(device.ID, used); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ActiveDeviceByCredentialID(credID) != nil {
		t.Error("expected revoked device to be excluded from credential lookup")
	}
	if err := user.RevokeAuthenticatorDevice(device.ID, used); err != ErrDeviceNotFound {
		t.Errorf("expected ErrDeviceNotFound for revoked device, got %v", err)
	}
	if err := user.UpdateDeviceCounter(device.ID, 7, used); err != ErrDeviceNotFound {
		t.Errorf("expected ErrDeviceNotFound for revoked device, got %v", err)
	}
}

func TestUser_EmailAddressMatches(t *testing.T) {
	user := newTestUser()
	if !user.EmailAddressMatches("Jane.Doe@EXAMPLE.com") {
		t.Error("expected case-insensitive match")
	}
	if user.EmailAddressMatches("other@example.com") {
		t.Error("expected mismatch for different address")
	}
}

func TestUser_DrainEvents(t *testing.T) {
	user := newTestUser()
	user.GenerateNewPasswordResetToken(testTime, time.Hour)

	events := user.DrainEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].(PasswordResetTokenGenerated); !ok {
		t.Errorf("unexpected event type %T", events[0])
	}
	if len(user.DrainEvents()) != 0 {
		t.Error("expected buffer to be cleared after drain")
	}
}

func TestParseExternalToken(t *testing.T) {
	user := newTestUser()
	token := user.GenerateNewPasswordResetToken(testTime, time.Hour)

	id, err := ParseExternalToken(token.ExternalToken())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != token.ID {
		t.Errorf("expected round trip to recover token ID")
	}

	if _, err := ParseExternalToken("not-base64!!"); err != ErrTokenMalformed {
		t.Errorf("expected ErrTokenMalformed, got %v", err)
	}
	if _, err := ParseExternalToken("c2hvcnQ"); err != ErrTokenMalformed {
		t.Errorf("expected ErrTokenMalformed for wrong length, got %v", err)
	}
}
