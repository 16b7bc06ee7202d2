package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/prn-tf/meridian-identity/internal/command"
)

// Validation error codes carried in field errors.
const (
	codeRequired = "required"
	codeInvalid  = "invalid"
	codeTooShort = "too_short"
	codeTooLong  = "too_long"
)

const (
	minPasswordLength = 8
	maxNameLength     = 100
	maxEmailLength    = 254
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type fieldErrors []command.FieldError

func (f *fieldErrors) add(field, code string) {
	*f = append(*f, command.FieldError{Field: field, Code: code})
}

func (f *fieldErrors) email(field, value string) {
	switch {
	case value == "":
		f.add(field, codeRequired)
	case len(value) > maxEmailLength || !emailPattern.MatchString(value):
		f.add(field, codeInvalid)
	}
}

func (f *fieldErrors) name(field, value string) {
	switch {
	case strings.TrimSpace(value) == "":
		f.add(field, codeRequired)
	case utf8.RuneCountInString(value) > maxNameLength:
		f.add(field, codeTooLong)
	}
}

func (f *fieldErrors) password(field, value string) {
	switch {
	case value == "":
		f.add(field, codeRequired)
	case utf8.RuneCountInString(value) < minPasswordLength:
		f.add(field, codeTooShort)
	}
}

func (f *fieldErrors) id(field string, value uuid.UUID) {
	if value == uuid.Nil {
		f.add(field, codeRequired)
	}
}

func (f *fieldErrors) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		f.add(field, codeRequired)
	}
}

func validateCreateUser() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(CreateUser)
		var f fieldErrors
		f.email("email_address", cmd.EmailAddress)
		f.name("first_name", cmd.FirstName)
		f.name("last_name", cmd.LastName)
		if cmd.Password != "" {
			f.password("password", cmd.Password)
		}
		return f
	})
}

func validateUpdateUserDetails() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(UpdateUserDetails)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.email("email_address", cmd.EmailAddress)
		f.name("first_name", cmd.FirstName)
		f.name("last_name", cmd.LastName)
		return f
	})
}

func validateChangeUserPassword() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(ChangeUserPassword)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.required("current_password", cmd.CurrentPassword)
		f.password("new_password", cmd.NewPassword)
		return f
	})
}

func validateSetUserRoles() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(SetUserRoles)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		for _, roleID := range cmd.RoleIDs {
			if roleID == uuid.Nil {
				f.add("role_ids", codeInvalid)
				break
			}
		}
		return f
	})
}

func validateSetUserAdminStatus() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(SetUserAdminStatus)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		return f
	})
}

func validateUnlockAccount() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(UnlockAccount)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		return f
	})
}

func validateProcessAuthenticationAttempt() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(ProcessAuthenticationAttempt)
		var f fieldErrors
		f.email("email_address", cmd.EmailAddress)
		f.required("password", cmd.Password)
		return f
	})
}

func validateValidateAppCode() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(ValidateAuthenticatorAppCode)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.required("code", cmd.Code)
		return f
	})
}

func validateRequestPasswordReset() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(RequestPasswordReset)
		var f fieldErrors
		f.email("email_address", cmd.EmailAddress)
		return f
	})
}

func validateCompletePasswordReset() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(CompletePasswordReset)
		var f fieldErrors
		f.required("token", cmd.Token)
		f.password("new_password", cmd.NewPassword)
		return f
	})
}

func validateRequestAccountConfirmation() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(RequestAccountConfirmation)
		var f fieldErrors
		f.email("email_address", cmd.EmailAddress)
		return f
	})
}

func validateCompleteAccountConfirmation() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(CompleteAccountConfirmation)
		var f fieldErrors
		f.required("token", cmd.Token)
		f.password("new_password", cmd.NewPassword)
		return f
	})
}

func validateInitiateAppEnrollment() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(InitiateAuthenticatorAppEnrollment)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.required("session_id", cmd.SessionID)
		return f
	})
}

func validateCompleteAppEnrollment() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(CompleteAuthenticatorAppEnrollment)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.required("session_id", cmd.SessionID)
		f.required("code", cmd.Code)
		return f
	})
}

func validateRevokeAuthenticatorApp() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(RevokeAuthenticatorApp)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.required("password", cmd.Password)
		return f
	})
}

func validateInitiateDeviceRegistration() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(InitiateDeviceRegistration)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.required("session_id", cmd.SessionID)
		return f
	})
}

func validateCompleteDeviceRegistration() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(CompleteDeviceRegistration)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.required("session_id", cmd.SessionID)
		f.name("device_name", cmd.DeviceName)
		if len(cmd.Response.CredentialID) == 0 {
			f.add("response", codeRequired)
		}
		return f
	})
}

func validateInitiateDeviceAssertion() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(InitiateDeviceAssertion)
		var f fieldErrors
		f.email("email_address", cmd.EmailAddress)
		f.required("session_id", cmd.SessionID)
		return f
	})
}

func validateCompleteDeviceAssertion() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(CompleteDeviceAssertion)
		var f fieldErrors
		f.email("email_address", cmd.EmailAddress)
		f.required("session_id", cmd.SessionID)
		if len(cmd.Response.CredentialID) == 0 {
			f.add("response", codeRequired)
		}
		return f
	})
}

func validateRevokeAuthenticatorDevice() command.Validator {
	return command.ValidatorFunc(func(raw command.Command) []command.FieldError {
		cmd := raw.(RevokeAuthenticatorDevice)
		var f fieldErrors
		f.id("user_id", cmd.UserID)
		f.id("device_id", cmd.DeviceID)
		f.required("password", cmd.Password)
		return f
	})
}
