// Package command implements the pipeline that wraps every state-mutating
// operation: a validation stage, the registered handler, and an audit stage
// that records the outcome. Dispatcher.Send is the only entry point the web
// layer uses to trigger a mutation.
package command

// ErrorCode is the closed set of failure kinds a handler may return.
type ErrorCode string

const (
	// CodeValidationFailed is surfaced by the validation stage before any
	// handler runs.
	CodeValidationFailed ErrorCode = "validation_failed"

	// CodeNotFound means the aggregate or a related entity is absent.
	CodeNotFound ErrorCode = "not_found"

	// CodeAlreadyExists means a uniqueness constraint was violated, either
	// by the pre-check query or at commit time.
	CodeAlreadyExists ErrorCode = "already_exists"

	// CodeAuthenticationFailed means a credential, MFA code, or assertion
	// did not verify.
	CodeAuthenticationFailed ErrorCode = "authentication_failed"

	// CodeSavingChanges means the persistence commit failed for a reason
	// other than a uniqueness conflict.
	CodeSavingChanges ErrorCode = "saving_changes"

	// CodeUnauthorized means re-authentication was required but not
	// supplied or did not verify.
	CodeUnauthorized ErrorCode = "unauthorized"
)

// ErrorData describes a failed outcome.
type ErrorData struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// FieldError is a single validation failure.
type FieldError struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

// Outcome tags a Result as success or failure.
type Outcome int

const (
	// OutcomeOK is a successful result, optionally carrying a payload.
	OutcomeOK Outcome = iota

	// OutcomeFailed is a failed result carrying an ErrorData.
	OutcomeFailed
)

// Result is the closed success/failure value returned by every handler and
// by Dispatcher.Send. Construct it only through Ok, OkWith, Failed, or
// Invalid so the audit stage can switch over outcomes exhaustively.
type Result struct {
	outcome Outcome
	payload any
	err     *ErrorData
	fields  []FieldError
}

// Ok returns a successful Result without a payload.
func Ok() Result {
	return Result{outcome: OutcomeOK}
}

// OkWith returns a successful Result carrying a payload.
func OkWith(payload any) Result {
	return Result{outcome: OutcomeOK, payload: payload}
}

// Failed returns a failed Result with the given code and message.
func Failed(code ErrorCode, message string) Result {
	return Result{outcome: OutcomeFailed, err: &ErrorData{Code: code, Message: message}}
}

// Invalid returns a ValidationFailed Result carrying field-level errors.
func Invalid(fields ...FieldError) Result {
	return Result{
		outcome: OutcomeFailed,
		err:     &ErrorData{Code: CodeValidationFailed, Message: "command validation failed"},
		fields:  fields,
	}
}

// Outcome returns the result's tag.
func (r Result) Outcome() Outcome { return r.outcome }

// Succeeded reports whether the result is a success.
func (r Result) Succeeded() bool { return r.outcome == OutcomeOK }

// Payload returns the success payload, or nil.
func (r Result) Payload() any { return r.payload }

// Error returns the failure data, or nil on success.
func (r Result) Error() *ErrorData { return r.err }

// FieldErrors returns field-level validation failures, if any.
func (r Result) FieldErrors() []FieldError { return r.fields }
