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
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// AssertionVerifier validates assertion (login) responses.
//
// Like registration, verification is an ordered pipeline of named
// steps. A successful assertion is the only path that mutates a stored
// credential: the sign counter and last-used timestamp advance via
// compare-and-swap, so concurrent assertions against the same
// credential serialize and a lost race reads as a clone signal.
type AssertionVerifier struct {
	policy    *Config
	creds     CredentialStore
	directory Directory
	now       func() time.Time
}

// NewAssertionVerifier creates an assertion verifier bound to the given
// policy, credential store, and user directory.
func NewAssertionVerifier(policy *Config, creds CredentialStore, directory Directory) *AssertionVerifier {
	return &AssertionVerifier{
		policy:    policy,
		creds:     creds,
		directory: directory,
		now:       time.Now,
	}
}

// assertion carries pipeline state between steps.
type assertion struct {
	ctx       context.Context
	session   *ChallengeSession
	response  *protocol.ParsedCredentialAssertionData
	cred      *Credential
	user      *DirectoryUser
	wireCount uint64
}

type assertionStep struct {
	name string
	run  func(*assertion) error
}

// Verify runs the assertion pipeline against a parsed assertion
// response and, on success, returns the asserted credential with its
// advanced sign counter, and its owning user.
func (v *AssertionVerifier) Verify(ctx context.Context, session *ChallengeSession, response *protocol.ParsedCredentialAssertionData) (*Credential, *DirectoryUser, error) {
	steps := []assertionStep{
		{"check challenge session", v.checkSession},
		{"lookup credential", v.lookupCredential},
		{"match user handle", v.matchUserHandle},
		{"verify client data", v.verifyClientData},
		{"verify rp id hash", v.verifyRPIDHash},
		{"verify user flags", v.verifyUserFlags},
		{"verify signature", v.verifySignature},
		{"check sign count", v.checkSignCount},
		{"advance sign count", v.advanceSignCount},
	}

	st := &assertion{
		ctx:      ctx,
		session:  session,
		response: response,
	}
	for _, step := range steps {
		if err := step.run(st); err != nil {
			return nil, nil, WrapError(step.name, err)
		}
	}
	return st.cred, st.user, nil
}

func (v *AssertionVerifier) checkSession(st *assertion) error {
	if st.session == nil || st.response == nil {
		return ErrChallengeInvalid
	}
	if st.session.Purpose != PurposeAssertion {
		return ErrChallengeInvalid
	}
	if st.session.ExpiredAt(v.now(), v.policy.ChallengeTTL) {
		return ErrChallengeInvalid
	}
	return nil
}

// lookupCredential resolves the asserted credential id. When the
// session is scoped to a user, a credential owned by anyone else is
// reported as not found so the ceremony cannot probe other accounts.
func (v *AssertionVerifier) lookupCredential(st *assertion) error {
	cred, err := v.creds.GetByExternalID(st.ctx, st.response.RawID)
	if err != nil {
		return storageErr(err)
	}
	if st.session.UserID != "" && cred.UserID != st.session.UserID {
		return ErrCredentialNotFound
	}
	st.cred = cred
	return nil
}

// matchUserHandle binds the asserted identity to the credential owner.
// Discoverable credentials echo a user handle; when present it must
// belong to the owner. Anonymous sessions require the handle since the
// relying party has no other claim of who is logging in.
func (v *AssertionVerifier) matchUserHandle(st *assertion) error {
	user, err := v.directory.GetUser(st.ctx, st.cred.UserID)
	if err != nil {
		return storageErr(err)
	}
	st.user = user

	handle := st.response.Response.UserHandle
	if len(handle) == 0 {
		if st.session.UserID == "" {
			return ErrUserHandleMismatch
		}
		return nil
	}
	if !bytes.Equal(handle, user.Handle) {
		return ErrUserHandleMismatch
	}
	return nil
}

func (v *AssertionVerifier) verifyClientData(st *assertion) error {
	cd := st.response.Response.CollectedClientData
	if cd.Type != protocol.AssertCeremony {
		return fmt.Errorf("%w: client data type %q", ErrChallengeInvalid, cd.Type)
	}
	if !challengeEquals(st.session.Challenge, cd.Challenge) {
		return ErrChallengeInvalid
	}
	if !v.policy.OriginAllowed(cd.Origin) {
		return fmt.Errorf("%w: %s", ErrOriginNotAllowed, cd.Origin)
	}
	return nil
}

func (v *AssertionVerifier) verifyRPIDHash(st *assertion) error {
	if !bytes.Equal(st.response.Response.AuthenticatorData.RPIDHash, v.policy.RPIDHash()) {
		return ErrRPIDMismatch
	}
	return nil
}

func (v *AssertionVerifier) verifyUserFlags(st *assertion) error {
	flags := st.response.Response.AuthenticatorData.Flags
	if !flags.UserPresent() {
		return ErrUserPresenceRequired
	}
	if v.policy.UserVerificationRequired() && !flags.UserVerified() {
		return ErrUserVerificationRequired
	}
	return nil
}

// verifySignature checks the assertion signature over the raw
// authenticator data concatenated with the SHA-256 hash of the raw
// client data JSON, against the credential's stored COSE public key.
func (v *AssertionVerifier) verifySignature(st *assertion) error {
	raw := st.response.Raw.AssertionResponse
	clientDataHash := sha256.Sum256(raw.ClientDataJSON)

	signed := make([]byte, 0, len(raw.AuthenticatorData)+len(clientDataHash))
	signed = append(signed, raw.AuthenticatorData...)
	signed = append(signed, clientDataHash[:]...)

	key, err := webauthncose.ParsePublicKey(st.cred.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	valid, err := webauthncose.VerifySignature(key, signed, st.response.Response.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !valid {
		return ErrSignatureInvalid
	}
	return nil
}

// checkSignCount enforces counter monotonicity. Authenticators without
// a counter report zero forever, so the stored-zero/wire-zero pair is
// exempt; any other non-increasing value indicates possibly duplicated
// key material.
func (v *AssertionVerifier) checkSignCount(st *assertion) error {
	st.wireCount = uint64(st.response.Response.AuthenticatorData.Counter)
	if st.wireCount == 0 && st.cred.SignCount == 0 {
		return nil
	}
	if st.wireCount <= st.cred.SignCount {
		return fmt.Errorf("%w: stored %d, presented %d", ErrPossibleCloneDetected, st.cred.SignCount, st.wireCount)
	}
	return nil
}

// advanceSignCount persists the new counter by compare-and-swap. A
// stale swap means another assertion for the same credential advanced
// the counter concurrently, which a single physical authenticator
// cannot legitimately do.
func (v *AssertionVerifier) advanceSignCount(st *assertion) error {
	usedAt := v.now().UTC()
	err := v.creds.UpdateSignCount(st.ctx, st.cred.ID, st.cred.SignCount, st.wireCount, usedAt)
	if err != nil {
		if errors.Is(err, ErrSignCountStale) {
			return fmt.Errorf("%w: concurrent assertion", ErrPossibleCloneDetected)
		}
		return storageErr(err)
	}

	updated := *st.cred
	updated.SignCount = st.wireCount
	updated.UpdatedAt = usedAt
	updated.LastUsedAt = &usedAt
	st.cred = &updated
	return nil
}
