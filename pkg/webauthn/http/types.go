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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// HeaderSessionID is the header carrying the challenge-session handle.
const HeaderSessionID = "X-Session-Id"

// HeaderUserID is the header carrying the directory user id.
const HeaderUserID = "X-User-Id"

// HeaderNickname is the header carrying the credential nickname on
// registration finish.
const HeaderNickname = "X-Credential-Nickname"

// BeginRegistrationRequest is the request body for starting registration.
type BeginRegistrationRequest struct {
	// UserID is the directory identifier of the registering user (required).
	UserID string `json:"user_id"`
}

// BeginLoginRequest is the request body for starting authentication.
type BeginLoginRequest struct {
	// UserID is the directory identifier of the user (optional).
	// If not provided, the discoverable-credential flow is used.
	UserID string `json:"user_id,omitempty"`
}

// CredentialResponse is the wire representation of a stored credential.
// The public key itself is never exposed.
type CredentialResponse struct {
	// ID is the server-assigned credential identifier.
	ID string `json:"id"`

	// ExternalID is the base64url authenticator-issued credential id.
	ExternalID protocol.URLEncodedBase64 `json:"external_id"`

	// Nickname is the user-assigned label.
	Nickname string `json:"nickname"`

	// SignCount is the current signature counter.
	SignCount uint64 `json:"sign_count"`

	// Transports lists the transports reported at registration.
	Transports []protocol.AuthenticatorTransport `json:"transports,omitempty"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last passed an assertion.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// AuthResponse is the response after a successful login.
type AuthResponse struct {
	// UserID is the authenticated user's directory identifier.
	UserID string `json:"user_id"`

	// CredentialID is the server-assigned id of the asserted credential.
	CredentialID string `json:"credential_id"`

	// Token is the post-authentication token, when the service is
	// configured with a token generator.
	Token string `json:"token,omitempty"`
}

// LoginRequiredResponse reports whether login demands a WebAuthn ceremony.
type LoginRequiredResponse struct {
	Required bool `json:"required"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidSession     = "invalid_session"
	ErrorCodeUserNotFound       = "user_not_found"
	ErrorCodeCredentialNotFound = "credential_not_found"
	ErrorCodeNoCredentials      = "no_credentials"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeStorageUnavailable = "storage_unavailable"
	ErrorCodeInternalError      = "internal_error"
)
