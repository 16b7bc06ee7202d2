package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuthenticationHistoryType classifies an authentication history entry.
type AuthenticationHistoryType string

const (
	// HistoryTypeSuccess records a fully completed login.
	HistoryTypeSuccess AuthenticationHistoryType = "success"

	// HistoryTypeFailure records a failed login attempt.
	HistoryTypeFailure AuthenticationHistoryType = "failure"

	// HistoryTypePartial records an intermediate stage of a multi-step
	// login; the Stage field names the stage reached.
	HistoryTypePartial AuthenticationHistoryType = "partial"
)

// AuthenticationStage names the intermediate stage reached during a
// multi-step login.
type AuthenticationStage string

const (
	// StagePasswordVerified means the password check passed and a second
	// factor is still outstanding.
	StagePasswordVerified AuthenticationStage = "password-verified"

	// StageAppChallengeIssued means a TOTP code has been requested.
	StageAppChallengeIssued AuthenticationStage = "app-challenge-issued"

	// StageDeviceChallengeIssued means a device assertion challenge has
	// been issued.
	StageDeviceChallengeIssued AuthenticationStage = "device-challenge-issued"
)

// AuthenticationHistory is an immutable log entry owned by the User
// aggregate. Entries are appended and never mutated or deleted.
type AuthenticationHistory struct {
	ID           uuid.UUID                 `json:"id"`
	WhenHappened time.Time                 `json:"when_happened"`
	Type         AuthenticationHistoryType `json:"type"`
	Stage        AuthenticationStage       `json:"stage,omitempty"`
}
