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
	"errors"
	"fmt"
)

// Sentinel errors for relying-party operations. Verifiers return the
// specific kind; the network boundary collapses ceremony failures to
// ErrVerificationFailed via PublicError so callers cannot probe which
// step rejected the response.
var (
	// ErrChallengeInvalid is returned when a challenge session is missing,
	// expired, already consumed, or does not match the submitted response.
	ErrChallengeInvalid = errors.New("challenge missing, expired, or already consumed")

	// ErrOriginNotAllowed is returned when the client-data origin is not a
	// member of the relying party's allowed origins.
	ErrOriginNotAllowed = errors.New("origin not allowed")

	// ErrRPIDMismatch is returned when the authenticator-data RP ID hash
	// does not match the configured relying party identifier.
	ErrRPIDMismatch = errors.New("relying party id mismatch")

	// ErrUserPresenceRequired is returned when the user-present flag is not
	// set in the authenticator data.
	ErrUserPresenceRequired = errors.New("user presence required")

	// ErrUserVerificationRequired is returned when policy demands user
	// verification but the user-verified flag is not set.
	ErrUserVerificationRequired = errors.New("user verification required")

	// ErrCredentialAlreadyRegistered is returned when the authenticator's
	// credential id is already registered, for any user.
	ErrCredentialAlreadyRegistered = errors.New("credential already registered")

	// ErrNicknameRequired is returned when a registration carries an empty
	// credential nickname.
	ErrNicknameRequired = errors.New("nickname is required")

	// ErrDuplicateNickname is returned when the nickname is already taken
	// within the owning user's credential set.
	ErrDuplicateNickname = errors.New("nickname already in use")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrUserNotFound is returned when the user directory has no entry for
	// the requested identifier or handle.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserHandleMismatch is returned when the assertion's user handle
	// does not belong to the credential's owner.
	ErrUserHandleMismatch = errors.New("user handle mismatch")

	// ErrSignatureInvalid is returned when the assertion signature does not
	// verify against the stored public key.
	ErrSignatureInvalid = errors.New("assertion signature invalid")

	// ErrPossibleCloneDetected is returned when the presented sign count is
	// not strictly greater than the stored count (and both are nonzero),
	// indicating possibly duplicated key material. Treat as high severity.
	ErrPossibleCloneDetected = errors.New("possible cloned authenticator detected")

	// ErrSignCountStale is returned by CredentialStore.UpdateSignCount when
	// the expected previous counter no longer matches the stored row. A
	// concurrent assertion won the race; the verifier reports this as
	// ErrPossibleCloneDetected.
	ErrSignCountStale = errors.New("sign count changed concurrently")

	// ErrNoCredentials is returned when an identified user has no
	// registered credentials to assert against.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrStorageUnavailable is returned when a storage operation times out
	// or the backend is unreachable. Callers may retry with backoff;
	// ceremony errors must never be retried.
	ErrStorageUnavailable = errors.New("credential storage unavailable")

	// ErrVerificationFailed is the generic, oracle-safe failure surfaced at
	// the network boundary for any rejected ceremony.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrNotConfigured is returned when the service is used before its
	// dependencies are wired.
	ErrNotConfigured = errors.New("webauthn service not configured")
)

// WebAuthnError wraps an error with the name of the pipeline step or
// operation that produced it.
type WebAuthnError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *WebAuthnError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *WebAuthnError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *WebAuthnError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new WebAuthnError with the given operation and error.
func NewError(op string, err error) error {
	return &WebAuthnError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// PublicError maps an internal verification error to the error callers
// are allowed to see. Storage availability survives the mapping so the
// client can retry; every ceremony rejection collapses to the generic
// ErrVerificationFailed. The internal kind stays reachable through the
// original error for audit logging.
func PublicError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStorageUnavailable):
		return ErrStorageUnavailable
	case errors.Is(err, ErrNotConfigured):
		return ErrNotConfigured
	default:
		return ErrVerificationFailed
	}
}

// ErrorKind returns a stable label for the sentinel kind wrapped in err,
// used for audit logs and the verification-failure metric.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrChallengeInvalid):
		return "challenge_invalid"
	case errors.Is(err, ErrOriginNotAllowed):
		return "origin_not_allowed"
	case errors.Is(err, ErrRPIDMismatch):
		return "rp_id_mismatch"
	case errors.Is(err, ErrUserPresenceRequired):
		return "user_presence_required"
	case errors.Is(err, ErrUserVerificationRequired):
		return "user_verification_required"
	case errors.Is(err, ErrCredentialAlreadyRegistered):
		return "credential_already_registered"
	case errors.Is(err, ErrNicknameRequired):
		return "nickname_required"
	case errors.Is(err, ErrDuplicateNickname):
		return "duplicate_nickname"
	case errors.Is(err, ErrUserHandleMismatch):
		return "user_handle_mismatch"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrPossibleCloneDetected):
		return "possible_clone_detected"
	case errors.Is(err, ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrNoCredentials):
		return "no_credentials"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "verification_failed"
	}
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsChallengeInvalid returns true if the error indicates a missing,
// expired, or consumed challenge session.
func IsChallengeInvalid(err error) bool {
	return errors.Is(err, ErrChallengeInvalid)
}

// IsCloneDetected returns true if the error indicates a possible cloned
// authenticator.
func IsCloneDetected(err error) bool {
	return errors.Is(err, ErrPossibleCloneDetected)
}

// IsVerificationFailed returns true if the error indicates verification failed.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// storageErr normalizes storage-layer failures: context timeouts and
// cancellations surface as ErrStorageUnavailable, everything else passes
// through untouched.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}
