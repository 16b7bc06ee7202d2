// Package fido implements the challenge/response verification for
// hardware-key enrollment and login. It covers the WebAuthn-style exchange
// used by the identity core: ES256 (ECDSA P-256) credentials, a one-time
// challenge per round trip, and a monotonic signature counter for replay
// protection. Every verification failure is reported through the single
// ErrVerificationFailed sentinel so callers cannot leak which check failed.
package fido

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/prn-tf/meridian-identity/internal/pkg/crypto"
)

const challengeBytes = 32

// Verification errors
var (
	// ErrVerificationFailed covers every attestation or assertion check
	// failure uniformly.
	ErrVerificationFailed = errors.New("verification failed")
)

// RelyingParty identifies this system to authenticators.
type RelyingParty struct {
	// ID is the relying party identifier, normally the effective domain.
	ID string

	// Name is the human-readable display name.
	Name string

	// Origin is the web origin assertions must come from.
	Origin string
}

// CreationOptions is the one-time challenge state for a registration round
// trip. It is stashed in the session-scoped challenge store between
// initiate and complete.
type CreationOptions struct {
	Challenge            []byte   `json:"challenge"`
	RelyingPartyID       string   `json:"rp_id"`
	RelyingPartyName     string   `json:"rp_name"`
	UserID               []byte   `json:"user_id"`
	UserName             string   `json:"user_name"`
	ExcludeCredentialIDs [][]byte `json:"exclude_credential_ids,omitempty"`
}

// AssertionOptions is the one-time challenge state for a login assertion
// round trip.
type AssertionOptions struct {
	Challenge          []byte   `json:"challenge"`
	RelyingPartyID     string   `json:"rp_id"`
	AllowCredentialIDs [][]byte `json:"allow_credential_ids,omitempty"`
}

// AttestationResponse is the authenticator's answer to a registration
// challenge.
type AttestationResponse struct {
	CredentialID []byte `json:"credential_id"`

	// PublicKey is the credential public key as an uncompressed P-256
	// point (0x04 || X || Y).
	PublicKey []byte `json:"public_key"`

	AAGUID   string `json:"aaguid"`
	CredType string `json:"cred_type"`
	Counter  uint32 `json:"counter"`

	// Challenge echoes the challenge the authenticator signed over.
	Challenge []byte `json:"challenge"`

	// RelyingPartyIDHash is the SHA-256 of the relying party ID the
	// authenticator scoped the credential to.
	RelyingPartyIDHash []byte `json:"rp_id_hash"`
}

// AssertionResponse is the authenticator's answer to a login challenge.
type AssertionResponse struct {
	CredentialID []byte `json:"credential_id"`

	// AuthenticatorData is rpIdHash(32) || flags(1) || counter(4) || ...
	AuthenticatorData []byte `json:"authenticator_data"`

	// ClientDataJSON carries {type, challenge, origin} as produced by the
	// client.
	ClientDataJSON []byte `json:"client_data_json"`

	// Signature is the ASN.1 ECDSA signature over
	// AuthenticatorData || SHA-256(ClientDataJSON).
	Signature []byte `json:"signature"`
}

// Credential is the verified output of a registration, ready to enroll on
// the aggregate.
type Credential struct {
	CredentialID []byte
	PublicKey    []byte
	AAGUID       string
	CredType     string
	Counter      uint32
}

// NewCreationOptions issues a registration challenge. Already-registered
// credential IDs are carried as an exclusion list so an authenticator is
// not enrolled twice.
func (rp RelyingParty) NewCreationOptions(userID []byte, userName string, excludeCredentialIDs [][]byte) (*CreationOptions, error) {
	challenge, err := crypto.RandomBytes(challengeBytes)
	if err != nil {
		return nil, err
	}
	return &CreationOptions{
		Challenge:            challenge,
		RelyingPartyID:       rp.ID,
		RelyingPartyName:     rp.Name,
		UserID:               userID,
		UserName:             userName,
		ExcludeCredentialIDs: excludeCredentialIDs,
	}, nil
}

// NewAssertionOptions issues a login challenge restricted to the user's
// enrolled credential IDs.
func (rp RelyingParty) NewAssertionOptions(allowCredentialIDs [][]byte) (*AssertionOptions, error) {
	challenge, err := crypto.RandomBytes(challengeBytes)
	if err != nil {
		return nil, err
	}
	return &AssertionOptions{
		Challenge:          challenge,
		RelyingPartyID:     rp.ID,
		AllowCredentialIDs: allowCredentialIDs,
	}, nil
}

// VerifyAttestation checks a registration response against the stashed
// options and returns the credential to enroll.
func VerifyAttestation(opts *CreationOptions, resp *AttestationResponse) (*Credential, error) {
	if opts == nil || resp == nil || len(resp.CredentialID) == 0 {
		return nil, ErrVerificationFailed
	}
	if subtle.ConstantTimeCompare(opts.Challenge, resp.Challenge) != 1 {
		return nil, ErrVerificationFailed
	}
	rpHash := sha256.Sum256([]byte(opts.RelyingPartyID))
	if subtle.ConstantTimeCompare(rpHash[:], resp.RelyingPartyIDHash) != 1 {
		return nil, ErrVerificationFailed
	}
	for _, excluded := range opts.ExcludeCredentialIDs {
		if subtle.ConstantTimeCompare(excluded, resp.CredentialID) == 1 {
			return nil, ErrVerificationFailed
		}
	}
	if _, err := parsePublicKey(resp.PublicKey); err != nil {
		return nil, ErrVerificationFailed
	}
	return &Credential{
		CredentialID: resp.CredentialID,
		PublicKey:    resp.PublicKey,
		AAGUID:       resp.AAGUID,
		CredType:     resp.CredType,
		Counter:      resp.Counter,
	}, nil
}

type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// VerifyAssertion checks a login response against the stashed options and
// the enrolled credential. On success it returns the authenticator's new
// counter value, already checked to have advanced past storedCounter.
func VerifyAssertion(opts *AssertionOptions, publicKey []byte, storedCounter uint32, origin string, resp *AssertionResponse) (uint32, error) {
	if opts == nil || resp == nil || len(resp.AuthenticatorData) < 37 {
		return 0, ErrVerificationFailed
	}

	allowed := len(opts.AllowCredentialIDs) == 0
	for _, id := range opts.AllowCredentialIDs {
		if subtle.ConstantTimeCompare(id, resp.CredentialID) == 1 {
			allowed = true
		}
	}
	if !allowed {
		return 0, ErrVerificationFailed
	}

	var cd clientData
	if err := json.Unmarshal(resp.ClientDataJSON, &cd); err != nil {
		return 0, ErrVerificationFailed
	}
	if cd.Type != "webauthn.get" {
		return 0, ErrVerificationFailed
	}
	challenge, err := base64.RawURLEncoding.DecodeString(cd.Challenge)
	if err != nil || subtle.ConstantTimeCompare(challenge, opts.Challenge) != 1 {
		return 0, ErrVerificationFailed
	}
	if origin != "" && cd.Origin != origin {
		return 0, ErrVerificationFailed
	}

	rpHash := sha256.Sum256([]byte(opts.RelyingPartyID))
	if subtle.ConstantTimeCompare(rpHash[:], resp.AuthenticatorData[:32]) != 1 {
		return 0, ErrVerificationFailed
	}

	// Flags byte: user-presence bit must be set.
	if resp.AuthenticatorData[32]&0x01 == 0 {
		return 0, ErrVerificationFailed
	}

	newCounter := uint32(resp.AuthenticatorData[33])<<24 |
		uint32(resp.AuthenticatorData[34])<<16 |
		uint32(resp.AuthenticatorData[35])<<8 |
		uint32(resp.AuthenticatorData[36])

	// A counter that fails to advance signals a cloned authenticator.
	// Authenticators that do not implement counters report zero on both
	// sides, which is accepted.
	if (newCounter != 0 || storedCounter != 0) && newCounter <= storedCounter {
		return 0, ErrVerificationFailed
	}

	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return 0, ErrVerificationFailed
	}
	clientDataHash := sha256.Sum256(resp.ClientDataJSON)
	signed := sha256.Sum256(append(append([]byte{}, resp.AuthenticatorData...), clientDataHash[:]...))
	if !ecdsa.VerifyASN1(pub, signed[:], resp.Signature) {
		return 0, ErrVerificationFailed
	}

	return newCounter, nil
}

// SignedPayload returns the digest an authenticator signs for an assertion.
// Exposed for tests that play the authenticator side.
func SignedPayload(authenticatorData, clientDataJSON []byte) []byte {
	clientDataHash := sha256.Sum256(clientDataJSON)
	digest := sha256.Sum256(append(append([]byte{}, authenticatorData...), clientDataHash[:]...))
	return digest[:]
}

// parsePublicKey decodes an uncompressed P-256 point.
func parsePublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != 65 || raw[0] != 4 {
		return nil, ErrVerificationFailed
	}
	x := new(big.Int).SetBytes(raw[1:33])
	y := new(big.Int).SetBytes(raw[33:65])
	curve := elliptic.P256()
	if !curve.IsOnCurve(x, y) {
		return nil, ErrVerificationFailed
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
