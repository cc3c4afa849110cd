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

package webauthn

import (
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// CeremonyPurpose scopes a challenge session to the ceremony it was
// issued for. A registration challenge cannot satisfy an assertion and
// vice versa.
type CeremonyPurpose string

const (
	// PurposeRegistration marks a challenge issued for an attestation
	// (registration) ceremony.
	PurposeRegistration CeremonyPurpose = "registration"

	// PurposeAssertion marks a challenge issued for an assertion (login)
	// ceremony.
	PurposeAssertion CeremonyPurpose = "assertion"
)

// Credential is a public-key record stored by the Relying Party.
//
// ExternalID is the identifier issued by the authenticator and is unique
// across the entire store; Nickname is unique within the owning user's
// credential set. PublicKey is COSE-encoded and immutable once stored.
// SignCount and LastUsedAt are mutated only by a successful assertion.
type Credential struct {
	// ID is the server-assigned identifier (UUID), owned by the store.
	ID string `json:"id"`

	// UserID references the owning user in the external directory.
	UserID string `json:"user_id"`

	// ExternalID is the binary credential identifier issued by the
	// authenticator. Base64url-encoded (no padding) on the wire.
	ExternalID protocol.URLEncodedBase64 `json:"external_id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey protocol.URLEncodedBase64 `json:"public_key"`

	// Nickname is the user-assigned label for this credential.
	Nickname string `json:"nickname"`

	// SignCount is the signature counter for clone detection. The wire
	// value is the authenticator's 32-bit counter widened to 64 bits to
	// match the persisted schema.
	SignCount uint64 `json:"sign_count"`

	// AAGUID identifies the authenticator model.
	AAGUID protocol.URLEncodedBase64 `json:"aaguid,omitempty"`

	// Transports lists the transports reported at registration.
	Transports []protocol.AuthenticatorTransport `json:"transports,omitempty"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`

	// LastUsedAt is when the credential last passed an assertion. Nil
	// until first use.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Descriptor returns the credential descriptor advertised in option
// exclude/allow lists.
func (c *Credential) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: protocol.URLEncodedBase64(c.ExternalID),
		Transport:    c.Transports,
	}
}

// ChallengeSession is the short-lived, single-use server-side state
// binding a random challenge to a user context. It is consumed (deleted)
// on the first verification attempt regardless of outcome.
type ChallengeSession struct {
	// Challenge is the random byte string the client must echo.
	Challenge protocol.URLEncodedBase64 `json:"challenge"`

	// UserID is the user the challenge is scoped to. Empty for anonymous
	// assertion flows; always set for registration.
	UserID string `json:"user_id,omitempty"`

	// Purpose is the ceremony the challenge was issued for.
	Purpose CeremonyPurpose `json:"purpose"`

	// CreatedAt anchors TTL expiry, checked lazily at verification time.
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the session has outlived the given TTL at
// the supplied instant. A zero TTL disables expiry.
func (s *ChallengeSession) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) > ttl
}

// DirectoryUser is the minimal projection of an account in the external
// user directory required to run a ceremony.
type DirectoryUser struct {
	// ID is the opaque identifier the directory addresses the user by.
	ID string `json:"id"`

	// Handle is the WebAuthn user handle (user.id in creation options,
	// echoed back by discoverable credentials).
	Handle protocol.URLEncodedBase64 `json:"handle"`

	// Name is the account name shown by authenticator UIs.
	Name string `json:"name"`

	// DisplayName is the human-readable name shown by authenticator UIs.
	DisplayName string `json:"display_name"`
}

// AssertionResult is returned to the caller after a successful assertion
// so it can establish an authenticated session.
type AssertionResult struct {
	// UserID is the authenticated user.
	UserID string `json:"user_id"`

	// CredentialID is the server-assigned id of the credential that
	// satisfied the assertion.
	CredentialID string `json:"credential_id"`

	// Token is the post-authentication token, when a TokenGenerator is
	// configured.
	Token string `json:"token,omitempty"`
}
