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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebAuthnError(t *testing.T) {
	err := WrapError("verify signature", ErrSignatureInvalid)
	require.Error(t, err)

	assert.Equal(t, "verify signature: assertion signature invalid", err.Error())
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	var werr *WebAuthnError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "verify signature", werr.Op)

	// Nested wrapping preserves the sentinel
	outer := WrapError("finish login", err)
	assert.ErrorIs(t, outer, ErrSignatureInvalid)

	assert.NoError(t, WrapError("anything", nil))
}

func TestPublicError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil passes", nil, nil},
		{"storage survives", WrapError("save", fmt.Errorf("%w: down", ErrStorageUnavailable)), ErrStorageUnavailable},
		{"not configured survives", ErrNotConfigured, ErrNotConfigured},
		{"challenge collapses", WrapError("check challenge session", ErrChallengeInvalid), ErrVerificationFailed},
		{"origin collapses", ErrOriginNotAllowed, ErrVerificationFailed},
		{"signature collapses", ErrSignatureInvalid, ErrVerificationFailed},
		{"clone collapses", ErrPossibleCloneDetected, ErrVerificationFailed},
		{"nickname collapses", ErrDuplicateNickname, ErrVerificationFailed},
		{"unknown collapses", errors.New("anything"), ErrVerificationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PublicError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)

			// The public error must not leak the internal kind
			if !errors.Is(tt.want, ErrStorageUnavailable) && !errors.Is(tt.want, ErrNotConfigured) {
				assert.Equal(t, ErrVerificationFailed.Error(), got.Error())
			}
		})
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{ErrChallengeInvalid, "challenge_invalid"},
		{WrapError("step", ErrOriginNotAllowed), "origin_not_allowed"},
		{ErrRPIDMismatch, "rp_id_mismatch"},
		{ErrUserPresenceRequired, "user_presence_required"},
		{ErrUserVerificationRequired, "user_verification_required"},
		{ErrCredentialAlreadyRegistered, "credential_already_registered"},
		{ErrNicknameRequired, "nickname_required"},
		{ErrDuplicateNickname, "duplicate_nickname"},
		{ErrUserHandleMismatch, "user_handle_mismatch"},
		{ErrSignatureInvalid, "signature_invalid"},
		{fmt.Errorf("%w: stored 5, presented 3", ErrPossibleCloneDetected), "possible_clone_detected"},
		{ErrCredentialNotFound, "credential_not_found"},
		{ErrUserNotFound, "user_not_found"},
		{ErrNoCredentials, "no_credentials"},
		{ErrStorageUnavailable, "storage_unavailable"},
		{errors.New("mystery"), "verification_failed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}

func TestStorageErr(t *testing.T) {
	assert.NoError(t, storageErr(nil))

	err := storageErr(context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	err = storageErr(context.Canceled)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	// Domain errors pass through untouched
	err = storageErr(ErrCredentialNotFound)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsCredentialNotFound(WrapError("lookup", ErrCredentialNotFound)))
	assert.True(t, IsUserNotFound(ErrUserNotFound))
	assert.True(t, IsChallengeInvalid(ErrChallengeInvalid))
	assert.True(t, IsCloneDetected(fmt.Errorf("%w: concurrent assertion", ErrPossibleCloneDetected)))
	assert.True(t, IsVerificationFailed(ErrVerificationFailed))

	assert.False(t, IsCredentialNotFound(ErrUserNotFound))
	assert.False(t, IsCloneDetected(nil))
}
