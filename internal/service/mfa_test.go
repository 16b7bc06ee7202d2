package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/pkg/fido"
)

const sessionID = "session-1"

func TestInitiateAuthenticatorAppEnrollment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	result := env.handlers.InitiateAuthenticatorAppEnrollment(ctx, InitiateAuthenticatorAppEnrollment{
		UserID:    user.ID,
		SessionID: sessionID,
	})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}

	payload, ok := result.Payload().(AppEnrollmentPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", result.Payload())
	}
	if payload.SharedKey == "" {
		t.Error("expected shared key in payload")
	}
	if !strings.Contains(payload.ProvisionURI, "otpauth://totp/") {
		t.Errorf("expected provisioning URI, got %q", payload.ProvisionURI)
	}
	if !strings.Contains(payload.ProvisionURI, "jane.doe@example.com") {
		t.Errorf("expected account in URI, got %q", payload.ProvisionURI)
	}

	// Nothing is enrolled until the code round trip completes.
	stored := env.store.get(t, user.ID)
	if stored.HasSecondFactor() {
		t.Error("expected no enrollment before completion")
	}
}

func TestCompleteAuthenticatorAppEnrollment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	initiate := env.handlers.InitiateAuthenticatorAppEnrollment(ctx, InitiateAuthenticatorAppEnrollment{
		UserID:    user.ID,
		SessionID: sessionID,
	})
	if !initiate.Succeeded() {
		t.Fatalf("expected success, got %+v", initiate.Error())
	}
	payload := initiate.Payload().(AppEnrollmentPayload)
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(payload.SharedKey)
	if err != nil {
		t.Fatalf("decoding shared key: %v", err)
	}

	result := env.handlers.CompleteAuthenticatorAppEnrollment(ctx, CompleteAuthenticatorAppEnrollment{
		UserID:    user.ID,
		SessionID: sessionID,
		Code:      totpCode(secret, testNow),
	})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}

	stored := env.store.get(t, user.ID)
	app := stored.ActiveAuthenticatorApp()
	if app == nil {
		t.Fatal("expected an active authenticator app")
	}
	if string(app.SharedKey) != string(secret) {
		t.Error("expected the stashed key to be enrolled")
	}
	if stored.SecurityStamp == user.SecurityStamp {
		t.Error("expected security stamp rotation on enrollment")
	}
}

func TestCompleteAuthenticatorAppEnrollment_WrongCodeConsumesChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	initiate := env.handlers.InitiateAuthenticatorAppEnrollment(ctx, InitiateAuthenticatorAppEnrollment{
		UserID:    user.ID,
		SessionID: sessionID,
	})
	payload := initiate.Payload().(AppEnrollmentPayload)
	secret, _ := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(payload.SharedKey)

	wrong := env.handlers.CompleteAuthenticatorAppEnrollment(ctx, CompleteAuthenticatorAppEnrollment{
		UserID:    user.ID,
		SessionID: sessionID,
		Code:      "000000",
	})
	requireFailureCode(t, wrong, command.CodeAuthenticationFailed)

	// The challenge was consumed by the failed attempt; even the right
	// code now needs a fresh initiation.
	retry := env.handlers.CompleteAuthenticatorAppEnrollment(ctx, CompleteAuthenticatorAppEnrollment{
		UserID:    user.ID,
		SessionID: sessionID,
		Code:      totpCode(secret, testNow),
	})
	requireFailureCode(t, retry, command.CodeAuthenticationFailed)
}

func TestInitiateAuthenticatorAppEnrollment_AlreadyEnrolled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	withApp := env.store.get(t, user.ID)
	if _, err := withApp.EnrollAuthenticatorApp([]byte("12345678901234567890"), testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.store.seed(withApp)

	result := env.handlers.InitiateAuthenticatorAppEnrollment(ctx, InitiateAuthenticatorAppEnrollment{
		UserID:    user.ID,
		SessionID: sessionID,
	})
	requireFailureCode(t, result, command.CodeAlreadyExists)
}

func TestRevokeAuthenticatorApp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")

	withApp := env.store.get(t, user.ID)
	if _, err := withApp.EnrollAuthenticatorApp([]byte("12345678901234567890"), testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.store.seed(withApp)

	t.Run("wrong password is rejected", func(t *testing.T) {
		result := env.handlers.RevokeAuthenticatorApp(ctx, RevokeAuthenticatorApp{
			UserID:   user.ID,
			Password: "wrong",
		})
		requireFailureCode(t, result, command.CodeUnauthorized)

		stored := env.store.get(t, user.ID)
		if stored.ActiveAuthenticatorApp() == nil {
			t.Error("expected enrollment untouched after rejected revocation")
		}
	})

	t.Run("correct password revokes", func(t *testing.T) {
		result := env.handlers.RevokeAuthenticatorApp(ctx, RevokeAuthenticatorApp{
			UserID:   user.ID,
			Password: "S3cret!pass",
		})
		if !result.Succeeded() {
			t.Fatalf("expected success, got %+v", result.Error())
		}

		stored := env.store.get(t, user.ID)
		if stored.ActiveAuthenticatorApp() != nil {
			t.Error("expected no active app after revocation")
		}
		if len(stored.AuthenticatorApps) != 1 || stored.AuthenticatorApps[0].WhenRevoked == nil {
			t.Error("expected the revoked row to be retained with WhenRevoked set")
		}
	})

	t.Run("nothing enrolled", func(t *testing.T) {
		result := env.handlers.RevokeAuthenticatorApp(ctx, RevokeAuthenticatorApp{
			UserID:   user.ID,
			Password: "S3cret!pass",
		})
		requireFailureCode(t, result, command.CodeNotFound)
	})
}

// assertionAuthenticator plays the hardware-key side of the device flows.
type assertionAuthenticator struct {
	key          *ecdsa.PrivateKey
	credentialID []byte
}

func newAssertionAuthenticator(t *testing.T) *assertionAuthenticator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return &assertionAuthenticator{key: key, credentialID: []byte("credential-1")}
}

func (a *assertionAuthenticator) publicKey() []byte {
	return elliptic.Marshal(elliptic.P256(), a.key.PublicKey.X, a.key.PublicKey.Y)
}

func (a *assertionAuthenticator) attest(opts *fido.CreationOptions) fido.AttestationResponse {
	rpHash := sha256.Sum256([]byte(opts.RelyingPartyID))
	return fido.AttestationResponse{
		CredentialID:       a.credentialID,
		PublicKey:          a.publicKey(),
		AAGUID:             "00000000-0000-0000-0000-000000000001",
		CredType:           "public-key",
		Challenge:          opts.Challenge,
		RelyingPartyIDHash: rpHash[:],
	}
}

func (a *assertionAuthenticator) assert(t *testing.T, opts *fido.AssertionOptions, origin string, counter uint32) fido.AssertionResponse {
	t.Helper()

	rpHash := sha256.Sum256([]byte(opts.RelyingPartyID))
	authData := make([]byte, 37)
	copy(authData[:32], rpHash[:])
	authData[32] = 0x01
	binary.BigEndian.PutUint32(authData[33:], counter)

	clientDataJSON, err := json.Marshal(map[string]string{
		"type":      "webauthn.get",
		"challenge": base64.RawURLEncoding.EncodeToString(opts.Challenge),
		"origin":    origin,
	})
	if err != nil {
		t.Fatalf("marshaling client data: %v", err)
	}

	sig, err := ecdsa.SignASN1(rand.Reader, a.key, fido.SignedPayload(authData, clientDataJSON))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	return fido.AssertionResponse{
		CredentialID:      a.credentialID,
		AuthenticatorData: authData,
		ClientDataJSON:    clientDataJSON,
		Signature:         sig,
	}
}

func TestDeviceRegistrationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")
	auth := newAssertionAuthenticator(t)

	initiate := env.handlers.InitiateDeviceRegistration(ctx, InitiateDeviceRegistration{
		UserID:    user.ID,
		SessionID: sessionID,
	})
	if !initiate.Succeeded() {
		t.Fatalf("expected success, got %+v", initiate.Error())
	}
	opts, ok := initiate.Payload().(*fido.CreationOptions)
	if !ok {
		t.Fatalf("unexpected payload type %T", initiate.Payload())
	}
	if opts.UserName != "jane.doe@example.com" {
		t.Errorf("unexpected user name %q", opts.UserName)
	}

	result := env.handlers.CompleteDeviceRegistration(ctx, CompleteDeviceRegistration{
		UserID:     user.ID,
		SessionID:  sessionID,
		DeviceName: "laptop key",
		Response:   auth.attest(opts),
	})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}

	stored := env.store.get(t, user.ID)
	devices := stored.ActiveDevices()
	if len(devices) != 1 {
		t.Fatalf("expected 1 active device, got %d", len(devices))
	}
	if devices[0].Name != "laptop key" {
		t.Errorf("unexpected device name %q", devices[0].Name)
	}
	if string(devices[0].CredentialID) != "credential-1" {
		t.Errorf("unexpected credential ID %q", devices[0].CredentialID)
	}
}

func TestCompleteDeviceRegistration_TamperedChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")
	auth := newAssertionAuthenticator(t)

	initiate := env.handlers.InitiateDeviceRegistration(ctx, InitiateDeviceRegistration{
		UserID:    user.ID,
		SessionID: sessionID,
	})
	opts := initiate.Payload().(*fido.CreationOptions)

	resp := auth.attest(opts)
	resp.Challenge[0] ^= 0xff

	result := env.handlers.CompleteDeviceRegistration(ctx, CompleteDeviceRegistration{
		UserID:     user.ID,
		SessionID:  sessionID,
		DeviceName: "laptop key",
		Response:   resp,
	})
	requireFailureCode(t, result, command.CodeAuthenticationFailed)

	stored := env.store.get(t, user.ID)
	if len(stored.ActiveDevices()) != 0 {
		t.Error("expected no enrollment from a failed attestation")
	}
}

func TestDeviceAssertionFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")
	auth := newAssertionAuthenticator(t)

	withDevice := env.store.get(t, user.ID)
	withDevice.EnrollAuthenticatorDevice("laptop key", auth.credentialID, auth.publicKey(), "aaguid-1", "public-key", 1, testNow)
	env.store.seed(withDevice)

	initiate := env.handlers.InitiateDeviceAssertion(ctx, InitiateDeviceAssertion{
		EmailAddress: "jane.doe@example.com",
		SessionID:    sessionID,
	})
	if !initiate.Succeeded() {
		t.Fatalf("expected success, got %+v", initiate.Error())
	}
	opts, ok := initiate.Payload().(*fido.AssertionOptions)
	if !ok {
		t.Fatalf("unexpected payload type %T", initiate.Payload())
	}
	if len(opts.AllowCredentialIDs) != 1 {
		t.Fatalf("expected 1 allowed credential, got %d", len(opts.AllowCredentialIDs))
	}

	result := env.handlers.CompleteDeviceAssertion(ctx, CompleteDeviceAssertion{
		EmailAddress: "jane.doe@example.com",
		SessionID:    sessionID,
		Response:     auth.assert(t, opts, testRP.Origin, 2),
	})
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result.Error())
	}

	payload := result.Payload().(AuthenticationPayload)
	if payload.SecurityStamp == "" {
		t.Error("expected security stamp for a completed login")
	}

	stored := env.store.get(t, user.ID)
	device := stored.ActiveDeviceByCredentialID(auth.credentialID)
	if device == nil {
		t.Fatal("expected device still active")
	}
	if device.Counter != 2 {
		t.Errorf("expected counter advanced to 2, got %d", device.Counter)
	}
	if device.WhenLastUsed == nil {
		t.Error("expected WhenLastUsed to be set")
	}
	if stored.WhenLastAuthenticated == nil {
		t.Error("expected login counted as complete")
	}
}

func TestInitiateDeviceAssertion_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "nodevices@example.com", "S3cret!pass")

	// An unknown address and an account with no devices read the same.
	for _, email := range []string{"nobody@example.com", "nodevices@example.com"} {
		result := env.handlers.InitiateDeviceAssertion(ctx, InitiateDeviceAssertion{
			EmailAddress: email,
			SessionID:    sessionID,
		})
		requireFailureCode(t, result, command.CodeAuthenticationFailed)
	}
}

func TestCompleteDeviceAssertion_FailureCountsTowardLockout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")
	auth := newAssertionAuthenticator(t)
	stranger := newAssertionAuthenticator(t)

	withDevice := env.store.get(t, user.ID)
	withDevice.EnrollAuthenticatorDevice("laptop key", auth.credentialID, auth.publicKey(), "aaguid-1", "public-key", 1, testNow)
	env.store.seed(withDevice)

	initiate := env.handlers.InitiateDeviceAssertion(ctx, InitiateDeviceAssertion{
		EmailAddress: "jane.doe@example.com",
		SessionID:    sessionID,
	})
	opts := initiate.Payload().(*fido.AssertionOptions)

	// Signed by a key that does not match the enrolled credential.
	resp := stranger.assert(t, opts, testRP.Origin, 2)
	resp.CredentialID = auth.credentialID

	result := env.handlers.CompleteDeviceAssertion(ctx, CompleteDeviceAssertion{
		EmailAddress: "jane.doe@example.com",
		SessionID:    sessionID,
		Response:     resp,
	})
	requireFailureCode(t, result, command.CodeAuthenticationFailed)

	stored := env.store.get(t, user.ID)
	if stored.AttemptsSinceLastAuthentication != 1 {
		t.Errorf("expected failed assertion to count toward lockout, got %d attempts", stored.AttemptsSinceLastAuthentication)
	}
}

func TestCompleteDeviceAssertion_MissingChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	auth := newAssertionAuthenticator(t)

	result := env.handlers.CompleteDeviceAssertion(ctx, CompleteDeviceAssertion{
		EmailAddress: "jane.doe@example.com",
		SessionID:    sessionID,
		Response:     fido.AssertionResponse{CredentialID: auth.credentialID},
	})
	requireFailureCode(t, result, command.CodeAuthenticationFailed)
}

func TestRevokeAuthenticatorDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "jane.doe@example.com", "S3cret!pass")
	auth := newAssertionAuthenticator(t)

	withDevice := env.store.get(t, user.ID)
	device := withDevice.EnrollAuthenticatorDevice("laptop key", auth.credentialID, auth.publicKey(), "aaguid-1", "public-key", 1, testNow)
	deviceID := device.ID
	env.store.seed(withDevice)

	t.Run("wrong password is rejected", func(t *testing.T) {
		result := env.handlers.RevokeAuthenticatorDevice(ctx, RevokeAuthenticatorDevice{
			UserID:   user.ID,
			DeviceID: deviceID,
			Password: "wrong",
		})
		requireFailureCode(t, result, command.CodeUnauthorized)

		stored := env.store.get(t, user.ID)
		remaining := stored.DeviceByID(deviceID)
		if remaining == nil {
			t.Fatal("expected device to survive a rejected revocation")
		}
		if remaining.WhenRevoked != nil {
			t.Error("expected WhenRevoked to stay unset after a rejected revocation")
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		result := env.handlers.RevokeAuthenticatorDevice(ctx, RevokeAuthenticatorDevice{
			UserID:   user.ID,
			DeviceID: uuid.New(),
			Password: "S3cret!pass",
		})
		requireFailureCode(t, result, command.CodeNotFound)
	})

	t.Run("correct password revokes", func(t *testing.T) {
		result := env.handlers.RevokeAuthenticatorDevice(ctx, RevokeAuthenticatorDevice{
			UserID:   user.ID,
			DeviceID: deviceID,
			Password: "S3cret!pass",
		})
		if !result.Succeeded() {
			t.Fatalf("expected success, got %+v", result.Error())
		}

		stored := env.store.get(t, user.ID)
		if len(stored.ActiveDevices()) != 0 {
			t.Error("expected no active devices after revocation")
		}
		if stored.AuthenticatorDevices[0].WhenRevoked == nil {
			t.Error("expected the revoked row to be retained with WhenRevoked set")
		}
	})
}
