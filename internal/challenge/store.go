// Package challenge provides the short-lived, session-scoped storage that
// bridges the two round trips of an MFA enrollment or assertion. Entries
// are keyed by session (never by user ID, so concurrent sessions for one
// user cannot observe each other), expire on a TTL enforced by the store
// itself, and are consumed on first read so a challenge is never reused.
package challenge

import (
	"context"
	"errors"
	"time"
)

// Kind separates the challenge namespaces within one session.
type Kind string

const (
	// KindAppEnrollment holds the pending TOTP shared key.
	KindAppEnrollment Kind = "app-enrollment"

	// KindDeviceRegistration holds credential creation options.
	KindDeviceRegistration Kind = "device-registration"

	// KindDeviceAssertion holds assertion options issued mid-login.
	KindDeviceAssertion Kind = "device-assertion"
)

// Store errors
var (
	// ErrChallengeNotFound indicates no live challenge exists for the
	// session and kind; it covers absent, expired, and already-consumed
	// challenges uniformly.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrStoreUnavailable indicates the backing store could not be
	// reached.
	ErrStoreUnavailable = errors.New("challenge store unavailable")
)

// Store stashes one payload per session and kind. Put overwrites any
// previous challenge for the same key; Take removes the entry it returns.
type Store interface {
	Put(ctx context.Context, sessionID string, kind Kind, payload []byte, ttl time.Duration) error
	Take(ctx context.Context, sessionID string, kind Kind) ([]byte, error)
}
