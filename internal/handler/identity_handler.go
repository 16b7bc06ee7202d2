package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/pkg/fido"
	"github.com/prn-tf/meridian-identity/internal/query"
	"github.com/prn-tf/meridian-identity/internal/service"
)

// Session and actor identity arrive via headers set by the fronting
// session layer.
const (
	headerSessionID = "X-Session-Id"
	headerActorID   = "X-Actor-Id"
)

// IdentityHandler exposes the identity commands and read models over HTTP.
type IdentityHandler struct {
	dispatcher *command.Dispatcher
	queries    query.UserQueries
	logger     zerolog.Logger
}

// NewIdentityHandler creates the identity HTTP handler.
func NewIdentityHandler(dispatcher *command.Dispatcher, queries query.UserQueries, logger zerolog.Logger) *IdentityHandler {
	return &IdentityHandler{
		dispatcher: dispatcher,
		queries:    queries,
		logger:     logger.With().Str("handler", "identity").Logger(),
	}
}

// RegisterRoutes registers the identity routes.
func (h *IdentityHandler) RegisterRoutes(r chi.Router) {
	// Administrative user management
	r.Get("/users", h.handleListUsers)
	r.Post("/users", h.handleCreateUser)
	r.Get("/users/{id}", h.handleGetUser)
	r.Put("/users/{id}", h.handleUpdateUser)
	r.Post("/users/{id}/password", h.handleChangePassword)
	r.Put("/users/{id}/roles", h.handleSetRoles)
	r.Put("/users/{id}/admin", h.handleSetAdminStatus)
	r.Post("/users/{id}/unlock", h.handleUnlock)

	// Authentication
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/app-code", h.handleAppCode)
	r.Post("/auth/device", h.handleInitiateDeviceAssertion)
	r.Post("/auth/device/complete", h.handleCompleteDeviceAssertion)

	// Self-service token flows
	r.Post("/auth/password-reset", h.handleRequestPasswordReset)
	r.Post("/auth/password-reset/complete", h.handleCompletePasswordReset)
	r.Post("/auth/confirmation", h.handleRequestConfirmation)
	r.Post("/auth/confirmation/complete", h.handleCompleteConfirmation)

	// MFA enrollment
	r.Post("/users/{id}/authenticator-app", h.handleInitiateAppEnrollment)
	r.Post("/users/{id}/authenticator-app/complete", h.handleCompleteAppEnrollment)
	r.Delete("/users/{id}/authenticator-app", h.handleRevokeApp)
	r.Post("/users/{id}/devices", h.handleInitiateDeviceRegistration)
	r.Post("/users/{id}/devices/complete", h.handleCompleteDeviceRegistration)
	r.Delete("/users/{id}/devices/{deviceId}", h.handleRevokeDevice)
}

// send runs a command with the actor from the request attached.
func (h *IdentityHandler) send(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	ctx := r.Context()
	if actor := r.Header.Get(headerActorID); actor != "" {
		ctx = command.WithActor(ctx, actor)
	}
	writeResult(w, h.dispatcher.Send(ctx, cmd))
}

func pathID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func (h *IdentityHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	opts := query.ListOptions{}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}

	result, err := h.queries.ListUsers(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing users failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    command.CodeSavingChanges,
			Message: "the user listing could not be loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *IdentityHandler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}

	model, err := h.queries.GetDetailsOfUserByID(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("loading user details failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    command.CodeSavingChanges,
			Message: "the user details could not be loaded",
		})
		return
	}
	if model == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Code:    command.CodeNotFound,
			Message: "the requested user could not be found",
		})
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *IdentityHandler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EmailAddress string      `json:"email_address"`
		FirstName    string      `json:"first_name"`
		LastName     string      `json:"last_name"`
		Password     string      `json:"password"`
		IsLockable   bool        `json:"is_lockable"`
		IsAdmin      bool        `json:"is_admin"`
		RoleIDs      []uuid.UUID `json:"role_ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.CreateUser{
		EmailAddress: body.EmailAddress,
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		Password:     body.Password,
		IsLockable:   body.IsLockable,
		IsAdmin:      body.IsAdmin,
		RoleIDs:      body.RoleIDs,
	})
}

func (h *IdentityHandler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	var body struct {
		EmailAddress string      `json:"email_address"`
		FirstName    string      `json:"first_name"`
		LastName     string      `json:"last_name"`
		IsLockable   bool        `json:"is_lockable"`
		RoleIDs      []uuid.UUID `json:"role_ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.UpdateUserDetails{
		UserID:       id,
		EmailAddress: body.EmailAddress,
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		IsLockable:   body.IsLockable,
		RoleIDs:      body.RoleIDs,
	})
}

func (h *IdentityHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.ChangeUserPassword{
		UserID:          id,
		CurrentPassword: body.CurrentPassword,
		NewPassword:     body.NewPassword,
	})
}

func (h *IdentityHandler) handleSetRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	var body struct {
		RoleIDs []uuid.UUID `json:"role_ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.SetUserRoles{UserID: id, RoleIDs: body.RoleIDs})
}

func (h *IdentityHandler) handleSetAdminStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	var body struct {
		IsAdmin bool `json:"is_admin"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.SetUserAdminStatus{UserID: id, IsAdmin: body.IsAdmin})
}

func (h *IdentityHandler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	h.send(w, r, service.UnlockAccount{UserID: id})
}

func (h *IdentityHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EmailAddress string `json:"email_address"`
		Password     string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.ProcessAuthenticationAttempt{
		EmailAddress: body.EmailAddress,
		Password:     body.Password,
		SessionID:    r.Header.Get(headerSessionID),
	})
}

func (h *IdentityHandler) handleAppCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID uuid.UUID `json:"user_id"`
		Code   string    `json:"code"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.ValidateAuthenticatorAppCode{UserID: body.UserID, Code: body.Code})
}

func (h *IdentityHandler) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EmailAddress string `json:"email_address"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.RequestPasswordReset{EmailAddress: body.EmailAddress})
}

func (h *IdentityHandler) handleCompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.CompletePasswordReset{Token: body.Token, NewPassword: body.NewPassword})
}

func (h *IdentityHandler) handleRequestConfirmation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EmailAddress string `json:"email_address"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.RequestAccountConfirmation{EmailAddress: body.EmailAddress})
}

func (h *IdentityHandler) handleCompleteConfirmation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.CompleteAccountConfirmation{Token: body.Token, NewPassword: body.NewPassword})
}

func (h *IdentityHandler) handleInitiateAppEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	h.send(w, r, service.InitiateAuthenticatorAppEnrollment{
		UserID:    id,
		SessionID: r.Header.Get(headerSessionID),
	})
}

func (h *IdentityHandler) handleCompleteAppEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.CompleteAuthenticatorAppEnrollment{
		UserID:    id,
		SessionID: r.Header.Get(headerSessionID),
		Code:      body.Code,
	})
}

func (h *IdentityHandler) handleRevokeApp(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.RevokeAuthenticatorApp{UserID: id, Password: body.Password})
}

func (h *IdentityHandler) handleInitiateDeviceRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	h.send(w, r, service.InitiateDeviceRegistration{
		UserID:    id,
		SessionID: r.Header.Get(headerSessionID),
	})
}

func (h *IdentityHandler) handleCompleteDeviceRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	var body struct {
		DeviceName string                   `json:"device_name"`
		Response   fido.AttestationResponse `json:"response"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.CompleteDeviceRegistration{
		UserID:     id,
		SessionID:  r.Header.Get(headerSessionID),
		DeviceName: body.DeviceName,
		Response:   body.Response,
	})
}

func (h *IdentityHandler) handleInitiateDeviceAssertion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EmailAddress string `json:"email_address"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.InitiateDeviceAssertion{
		EmailAddress: body.EmailAddress,
		SessionID:    r.Header.Get(headerSessionID),
	})
}

func (h *IdentityHandler) handleCompleteDeviceAssertion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EmailAddress string                 `json:"email_address"`
		Response     fido.AssertionResponse `json:"response"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.CompleteDeviceAssertion{
		EmailAddress: body.EmailAddress,
		SessionID:    r.Header.Get(headerSessionID),
		Response:     body.Response,
	})
}

func (h *IdentityHandler) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid user ID")
		return
	}
	deviceID, ok := pathID(r, "deviceId")
	if !ok {
		writeBadRequest(w, "invalid device ID")
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	h.send(w, r, service.RevokeAuthenticatorDevice{
		UserID:   id,
		DeviceID: deviceID,
		Password: body.Password,
	})
}
