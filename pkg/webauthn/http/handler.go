// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-webauthn-rp.
//
// go-webauthn-rp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-webauthn-rp/pkg/webauthn"
)

// Handler provides HTTP handlers for WebAuthn ceremonies and credential
// management. These handlers can be mounted on any HTTP router.
//
// Ceremony failures are collapsed to a single generic error response so
// a remote caller cannot learn which verification step rejected the
// response. The precise kind is logged and counted server-side.
type Handler struct {
	service *webauthn.Service
	logger  *slog.Logger
}

// NewHandler creates a new WebAuthn HTTP handler.
func NewHandler(service *webauthn.Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// BeginRegistration handles POST /registration/begin
//
// Request body:
//
//	{
//	    "user_id": "directory-user-id"
//	}
//
// Response: WebAuthn PublicKeyCredentialCreationOptions
// Header: X-Session-Id (challenge session handle for FinishRegistration)
func (h *Handler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	var req BeginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_id is required")
		return
	}

	options, sessionID, err := h.service.BeginRegistration(r.Context(), req.UserID)
	if err != nil {
		h.handleBeginError(w, err)
		return
	}

	w.Header().Set(HeaderSessionID, sessionID)
	h.writeJSON(w, http.StatusOK, options)
}

// FinishRegistration handles POST /registration/finish
//
// Headers: X-Session-Id (from BeginRegistration), X-User-Id,
// X-Credential-Nickname
// Request body: attestation response from the authenticator
// Response: the stored credential
func (h *Handler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidSession, "session ID header is required")
		return
	}
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user ID header is required")
		return
	}
	nickname := r.Header.Get(HeaderNickname)

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	cred, err := h.service.FinishRegistration(r.Context(), sessionID, userID, nickname, response)
	if err != nil {
		h.handleCeremonyError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, credentialResponse(cred))
}

// BeginLogin handles POST /login/begin
//
// Request body:
//
//	{
//	    "user_id": "directory-user-id" // optional
//	}
//
// If user_id is omitted, the discoverable-credential flow is used and
// no allow list is advertised.
// Response: WebAuthn PublicKeyCredentialRequestOptions
// Header: X-Session-Id (challenge session handle for FinishLogin)
func (h *Handler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	var req BeginLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Allow empty body for discoverable credentials
		req = BeginLoginRequest{}
	}

	options, sessionID, err := h.service.BeginLogin(r.Context(), req.UserID)
	if err != nil {
		h.handleBeginError(w, err)
		return
	}

	w.Header().Set(HeaderSessionID, sessionID)
	if req.UserID != "" {
		w.Header().Set(HeaderUserID, req.UserID)
	}
	h.writeJSON(w, http.StatusOK, options)
}

// FinishLogin handles POST /login/finish
//
// Header: X-Session-Id (from BeginLogin)
// Request body: assertion response from the authenticator
// Response: AuthResponse with the authenticated user and credential
func (h *Handler) FinishLogin(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidSession, "session ID header is required")
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	result, err := h.service.FinishLogin(r.Context(), sessionID, response)
	if err != nil {
		h.handleCeremonyError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, AuthResponse{
		UserID:       result.UserID,
		CredentialID: result.CredentialID,
		Token:        result.Token,
	})
}

// LoginRequired handles GET /login/required
//
// Query param: user_id
// Response: {"required": true/false}
func (h *Handler) LoginRequired(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_id is required")
		return
	}

	required, err := h.service.RequiredForLogin(r.Context(), userID)
	if err != nil {
		h.handleManagementError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, LoginRequiredResponse{Required: required})
}

// ListCredentials handles GET /credentials
//
// Header or query param: user_id
// Response: array of CredentialResponse in creation order
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_id is required")
		return
	}

	creds, err := h.service.ListCredentials(r.Context(), userID)
	if err != nil {
		h.handleManagementError(w, err)
		return
	}

	out := make([]CredentialResponse, 0, len(creds))
	for _, cred := range creds {
		out = append(out, credentialResponse(cred))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// DeleteCredential handles DELETE /credentials/{id}
//
// Header: X-User-Id
// Response: 204 No Content on success
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user ID header is required")
		return
	}
	credentialID := chi.URLParam(r, "id")
	if credentialID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "credential id is required")
		return
	}

	if err := h.service.RemoveCredential(r.Context(), userID, credentialID); err != nil {
		h.handleManagementError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleCeremonyError maps a finish-ceremony failure to its response.
// The internal kind is logged; the client only sees the generic code.
func (h *Handler) handleCeremonyError(w http.ResponseWriter, err error) {
	h.logger.Warn("ceremony rejected",
		"kind", webauthn.ErrorKind(err),
		"error", err)

	switch public := webauthn.PublicError(err); {
	case errors.Is(public, webauthn.ErrStorageUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, ErrorCodeStorageUnavailable, "storage unavailable, retry later")
	case errors.Is(public, webauthn.ErrNotConfigured):
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	default:
		h.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")
	}
}

// handleBeginError maps begin-ceremony failures. Options issuance is
// not a verification oracle, so precise codes are returned.
func (h *Handler) handleBeginError(w http.ResponseWriter, err error) {
	switch {
	case webauthn.IsUserNotFound(err):
		h.writeError(w, http.StatusNotFound, ErrorCodeUserNotFound, "user not found")
	case errors.Is(err, webauthn.ErrNoCredentials):
		h.writeError(w, http.StatusBadRequest, ErrorCodeNoCredentials, "user has no registered credentials")
	case errors.Is(err, webauthn.ErrStorageUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, ErrorCodeStorageUnavailable, "storage unavailable, retry later")
	default:
		h.logger.Error("begin ceremony failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// handleManagementError maps credential-management failures. These
// endpoints sit behind the deployment's own session auth, so precise
// codes are returned.
func (h *Handler) handleManagementError(w http.ResponseWriter, err error) {
	switch {
	case webauthn.IsUserNotFound(err):
		h.writeError(w, http.StatusNotFound, ErrorCodeUserNotFound, "user not found")
	case webauthn.IsCredentialNotFound(err):
		h.writeError(w, http.StatusNotFound, ErrorCodeCredentialNotFound, "credential not found")
	case errors.Is(err, webauthn.ErrStorageUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, ErrorCodeStorageUnavailable, "storage unavailable, retry later")
	default:
		h.logger.Error("credential management failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

func credentialResponse(cred *webauthn.Credential) CredentialResponse {
	return CredentialResponse{
		ID:         cred.ID,
		ExternalID: cred.ExternalID,
		Nickname:   cred.Nickname,
		SignCount:  cred.SignCount,
		Transports: cred.Transports,
		CreatedAt:  cred.CreatedAt,
		LastUsedAt: cred.LastUsedAt,
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
