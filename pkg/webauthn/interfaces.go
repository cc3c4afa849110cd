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
	"context"
	"time"
)

// CredentialStore manages credential persistence. Every operation is
// single-purpose and states its atomicity contract; there are no
// callback hooks or implicit mutation paths.
type CredentialStore interface {
	// Insert atomically stores a new credential. It enforces global
	// uniqueness of ExternalID (ErrCredentialAlreadyRegistered on
	// collision with any user's credential) and per-user uniqueness of
	// Nickname (ErrDuplicateNickname). No partial credential is ever
	// visible.
	Insert(ctx context.Context, cred *Credential) error

	// GetByExternalID retrieves a credential by its authenticator-issued
	// identifier. Returns ErrCredentialNotFound if absent.
	GetByExternalID(ctx context.Context, externalID []byte) (*Credential, error)

	// ListByUser retrieves all credentials for a user in creation order.
	// Returns an empty slice if the user has none.
	ListByUser(ctx context.Context, userID string) ([]*Credential, error)

	// CountByUser returns the number of credentials a user holds.
	CountByUser(ctx context.Context, userID string) (int, error)

	// UpdateSignCount updates the sign counter and last-used timestamp by
	// compare-and-swap: the write applies only if the stored counter still
	// equals previous, otherwise ErrSignCountStale. This serializes
	// concurrent assertions per credential so two of them can never both
	// observe the pre-update counter.
	UpdateSignCount(ctx context.Context, id string, previous, next uint64, usedAt time.Time) error

	// Delete removes a user's credential by its server-assigned id.
	// Returns ErrCredentialNotFound if the user holds no such credential.
	Delete(ctx context.Context, userID, id string) error
}

// ChallengeStore holds challenge sessions between the options call and
// the verify call. Implementations are a key-value store with TTL
// semantics; this core only requires set, atomic take, and delete.
type ChallengeStore interface {
	// Save stores a challenge session and returns an opaque handle the
	// client must present on the finish call.
	Save(ctx context.Context, session *ChallengeSession) (string, error)

	// Take retrieves and deletes a session in one atomic step, so a
	// second concurrent submission of the same handle cannot replay the
	// challenge. Returns ErrChallengeInvalid if the handle is unknown or
	// already consumed.
	Take(ctx context.Context, handle string) (*ChallengeSession, error)

	// Delete removes a session without reading it. Best-effort cleanup.
	Delete(ctx context.Context, handle string) error
}

// Directory is the external user directory. The relying party never
// owns user accounts; it resolves opaque identifiers to ceremony
// metadata and keeps the per-user "WebAuthn required for login" flag in
// the directory's custody.
type Directory interface {
	// GetUser resolves a user by its opaque identifier. Returns
	// ErrUserNotFound if absent.
	GetUser(ctx context.Context, userID string) (*DirectoryUser, error)

	// GetUserByHandle resolves a user by its WebAuthn user handle, as
	// echoed by discoverable credentials. Returns ErrUserNotFound if
	// absent.
	GetUserByHandle(ctx context.Context, handle []byte) (*DirectoryUser, error)

	// SecondFactorEnabled reports the external prerequisite for turning
	// on WebAuthn enforcement (e.g. TOTP already configured).
	SecondFactorEnabled(ctx context.Context, userID string) (bool, error)

	// WebAuthnRequired reports whether login currently demands a WebAuthn
	// ceremony for the user.
	WebAuthnRequired(ctx context.Context, userID string) (bool, error)

	// SetWebAuthnRequired records whether login demands a WebAuthn
	// ceremony for the user.
	SetWebAuthnRequired(ctx context.Context, userID string, required bool) error
}

// TokenGenerator is an optional interface for producing a token after a
// successful assertion. If not provided, the service returns the
// assertion result without a token.
type TokenGenerator interface {
	// GenerateToken creates a token for the authenticated user.
	GenerateToken(ctx context.Context, user *DirectoryUser) (string, error)
}
