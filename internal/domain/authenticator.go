package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// AuthenticatorApp is a TOTP enrollment owned by the User aggregate.
// Revocation sets WhenRevoked; the row is never deleted.
type AuthenticatorApp struct {
	ID           uuid.UUID  `json:"id"`
	SharedKey    []byte     `json:"-"`
	WhenEnrolled time.Time  `json:"when_enrolled"`
	WhenRevoked  *time.Time `json:"when_revoked,omitempty"`
}

// IsActive reports whether the enrollment has not been revoked.
func (a *AuthenticatorApp) IsActive() bool {
	return a.WhenRevoked == nil
}

// AuthenticatorDevice is a hardware credential enrollment owned by the
// User aggregate.
type AuthenticatorDevice struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	WhenEnrolled time.Time  `json:"when_enrolled"`
	WhenLastUsed *time.Time `json:"when_last_used,omitempty"`
	CredentialID []byte     `json:"credential_id"`
	PublicKey    []byte     `json:"-"`
	AAGUID       string     `json:"aaguid"`

	// Counter is the authenticator's monotonic signature counter. The
	// aggregate records whatever the caller hands it; validating that the
	// new value actually advanced is the assertion protocol's job.
	Counter uint32 `json:"counter"`

	CredType    string     `json:"cred_type"`
	WhenRevoked *time.Time `json:"when_revoked,omitempty"`
}

// IsActive reports whether the enrollment has not been revoked.
func (d *AuthenticatorDevice) IsActive() bool {
	return d.WhenRevoked == nil
}

// ActiveAuthenticatorApp returns the single active TOTP enrollment, or nil.
func (u *User) ActiveAuthenticatorApp() *AuthenticatorApp {
	for i := range u.AuthenticatorApps {
		if u.AuthenticatorApps[i].IsActive() {
			return &u.AuthenticatorApps[i]
		}
	}
	return nil
}

// ActiveDevices returns the active hardware credential enrollments.
func (u *User) ActiveDevices() []*AuthenticatorDevice {
	var active []*AuthenticatorDevice
	for i := range u.AuthenticatorDevices {
		if u.AuthenticatorDevices[i].IsActive() {
			active = append(active, &u.AuthenticatorDevices[i])
		}
	}
	return active
}

// DeviceByID returns the device with the given ID, or nil.
func (u *User) DeviceByID(id uuid.UUID) *AuthenticatorDevice {
	for i := range u.AuthenticatorDevices {
		if u.AuthenticatorDevices[i].ID == id {
			return &u.AuthenticatorDevices[i]
		}
	}
	return nil
}

// ActiveDeviceByCredentialID returns the active device holding the given
// credential ID, or nil.
func (u *User) ActiveDeviceByCredentialID(credentialID []byte) *AuthenticatorDevice {
	for i := range u.AuthenticatorDevices {
		d := &u.AuthenticatorDevices[i]
		if d.IsActive() && bytes.Equal(d.CredentialID, credentialID) {
			return d
		}
	}
	return nil
}

// EnrollAuthenticatorApp records a TOTP enrollment and rotates the
// security stamp. The single-active-app invariant is enforced here.
func (u *User) EnrollAuthenticatorApp(sharedKey []byte, now time.Time) (*AuthenticatorApp, error) {
	if u.ActiveAuthenticatorApp() != nil {
		return nil, ErrAppAlreadyEnrolled
	}
	u.AuthenticatorApps = append(u.AuthenticatorApps, AuthenticatorApp{
		ID:           uuid.New(),
		SharedKey:    sharedKey,
		WhenEnrolled: now,
	})
	u.SecurityStamp = newSecurityStamp()
	return &u.AuthenticatorApps[len(u.AuthenticatorApps)-1], nil
}

// RevokeAuthenticatorApp soft-revokes the active TOTP enrollment and
// rotates the security stamp.
func (u *User) RevokeAuthenticatorApp(now time.Time) error {
	app := u.ActiveAuthenticatorApp()
	if app == nil {
		return ErrAppNotEnrolled
	}
	app.WhenRevoked = &now
	u.SecurityStamp = newSecurityStamp()
	return nil
}

// EnrollAuthenticatorDevice records a verified hardware credential and
// rotates the security stamp.
func (u *User) EnrollAuthenticatorDevice(name string, credentialID, publicKey []byte, aaguid, credType string, counter uint32, now time.Time) *AuthenticatorDevice {
	u.AuthenticatorDevices = append(u.AuthenticatorDevices, AuthenticatorDevice{
		ID:           uuid.New(),
		Name:         name,
		WhenEnrolled: now,
		CredentialID: credentialID,
		PublicKey:    publicKey,
		AAGUID:       aaguid,
		Counter:      counter,
		CredType:     credType,
	})
	u.SecurityStamp = newSecurityStamp()
	return &u.AuthenticatorDevices[len(u.AuthenticatorDevices)-1]
}

// RevokeAuthenticatorDevice soft-revokes a device enrollment and rotates
// the security stamp.
func (u *User) RevokeAuthenticatorDevice(id uuid.UUID, now time.Time) error {
	device := u.DeviceByID(id)
	if device == nil || !device.IsActive() {
		return ErrDeviceNotFound
	}
	device.WhenRevoked = &now
	u.SecurityStamp = newSecurityStamp()
	return nil
}

// UpdateDeviceCounter records the counter reported by a verified assertion
// and stamps the device as used. Monotonicity is checked by the assertion
// protocol before this is called.
func (u *User) UpdateDeviceCounter(id uuid.UUID, newCounter uint32, now time.Time) error {
	device := u.DeviceByID(id)
	if device == nil || !device.IsActive() {
		return ErrDeviceNotFound
	}
	device.Counter = newCounter
	device.WhenLastUsed = &now
	return nil
}
