// Package handler provides the HTTP surface for Meridian Identity. Every
// mutating endpoint decodes a command, sends it through the dispatcher, and
// translates the result onto the wire.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/prn-tf/meridian-identity/internal/command"
)

// errorResponse is the JSON body for failed results.
type errorResponse struct {
	Code    command.ErrorCode    `json:"code"`
	Message string               `json:"message"`
	Fields  []command.FieldError `json:"fields,omitempty"`
}

// statusFor maps the closed error code set onto HTTP status codes.
func statusFor(code command.ErrorCode) int {
	switch code {
	case command.CodeValidationFailed:
		return http.StatusBadRequest
	case command.CodeNotFound:
		return http.StatusNotFound
	case command.CodeAlreadyExists:
		return http.StatusConflict
	case command.CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case command.CodeUnauthorized:
		return http.StatusForbidden
	case command.CodeSavingChanges:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeResult renders a pipeline result. Successful results with a payload
// return it as the body; payload-less successes return 204.
func writeResult(w http.ResponseWriter, result command.Result) {
	if result.Succeeded() {
		if payload := result.Payload(); payload != nil {
			writeJSON(w, http.StatusOK, payload)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	errData := result.Error()
	writeJSON(w, statusFor(errData.Code), errorResponse{
		Code:    errData.Code,
		Message: errData.Message,
		Fields:  result.FieldErrors(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Code:    command.CodeValidationFailed,
		Message: message,
	})
}
