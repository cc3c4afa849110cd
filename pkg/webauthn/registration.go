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
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
)

// AttestationVerifier validates attestation (registration) responses.
//
// Verification runs as an ordered pipeline of named steps; the first
// failing step aborts the ceremony and its name is carried in the
// returned error for audit logging. Attestation statements are accepted
// without chain verification; the verifier binds the response to the
// challenge, origin, and relying party, then registers the credential.
type AttestationVerifier struct {
	policy    *Config
	creds     CredentialStore
	lifecycle *CredentialLifecycleManager
	now       func() time.Time
}

// NewAttestationVerifier creates an attestation verifier bound to the
// given policy, credential store, and lifecycle manager.
func NewAttestationVerifier(policy *Config, creds CredentialStore, lifecycle *CredentialLifecycleManager) *AttestationVerifier {
	return &AttestationVerifier{
		policy:    policy,
		creds:     creds,
		lifecycle: lifecycle,
		now:       time.Now,
	}
}

// attestation carries pipeline state between steps.
type attestation struct {
	ctx      context.Context
	session  *ChallengeSession
	userID   string
	nickname string
	response *protocol.ParsedCredentialCreationData
	cred     *Credential
}

type attestationStep struct {
	name string
	run  func(*attestation) error
}

// Verify runs the registration pipeline against a parsed attestation
// response and, on success, returns the stored credential.
func (v *AttestationVerifier) Verify(ctx context.Context, session *ChallengeSession, userID, nickname string, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	steps := []attestationStep{
		{"check challenge session", v.checkSession},
		{"verify client data", v.verifyClientData},
		{"verify rp id hash", v.verifyRPIDHash},
		{"verify user flags", v.verifyUserFlags},
		{"check credential unregistered", v.checkCredentialUnregistered},
		{"validate nickname", v.validateNickname},
		{"build credential", v.buildCredential},
		{"store credential", v.storeCredential},
	}

	st := &attestation{
		ctx:      ctx,
		session:  session,
		userID:   userID,
		nickname: strings.TrimSpace(nickname),
		response: response,
	}
	for _, step := range steps {
		if err := step.run(st); err != nil {
			return nil, WrapError(step.name, err)
		}
	}
	return st.cred, nil
}

func (v *AttestationVerifier) checkSession(st *attestation) error {
	if st.session == nil || st.response == nil {
		return ErrChallengeInvalid
	}
	if st.session.Purpose != PurposeRegistration {
		return ErrChallengeInvalid
	}
	if st.userID == "" || st.session.UserID != st.userID {
		return ErrChallengeInvalid
	}
	if st.session.ExpiredAt(v.now(), v.policy.ChallengeTTL) {
		return ErrChallengeInvalid
	}
	return nil
}

func (v *AttestationVerifier) verifyClientData(st *attestation) error {
	cd := st.response.Response.CollectedClientData
	if cd.Type != protocol.CreateCeremony {
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

func (v *AttestationVerifier) verifyRPIDHash(st *attestation) error {
	authData := st.response.Response.AttestationObject.AuthData
	if !bytes.Equal(authData.RPIDHash, v.policy.RPIDHash()) {
		return ErrRPIDMismatch
	}
	return nil
}

func (v *AttestationVerifier) verifyUserFlags(st *attestation) error {
	flags := st.response.Response.AttestationObject.AuthData.Flags
	if !flags.UserPresent() {
		return ErrUserPresenceRequired
	}
	if v.policy.UserVerificationRequired() && !flags.UserVerified() {
		return ErrUserVerificationRequired
	}
	return nil
}

// checkCredentialUnregistered rejects a credential id already held by
// any user. The store's Insert enforces the same invariant atomically;
// this step only produces the precise error before building the record.
func (v *AttestationVerifier) checkCredentialUnregistered(st *attestation) error {
	_, err := v.creds.GetByExternalID(st.ctx, st.response.RawID)
	if err == nil {
		return ErrCredentialAlreadyRegistered
	}
	if !IsCredentialNotFound(err) {
		return storageErr(err)
	}
	return nil
}

func (v *AttestationVerifier) validateNickname(st *attestation) error {
	if st.nickname == "" {
		return ErrNicknameRequired
	}
	existing, err := v.creds.ListByUser(st.ctx, st.userID)
	if err != nil {
		return storageErr(err)
	}
	for _, cred := range existing {
		if cred.Nickname == st.nickname {
			return ErrDuplicateNickname
		}
	}
	return nil
}

func (v *AttestationVerifier) buildCredential(st *attestation) error {
	authData := st.response.Response.AttestationObject.AuthData
	if len(authData.AttData.CredentialPublicKey) == 0 {
		return fmt.Errorf("attestation carries no credential public key")
	}

	now := v.now().UTC()
	st.cred = &Credential{
		ID:         uuid.NewString(),
		UserID:     st.userID,
		ExternalID: protocol.URLEncodedBase64(st.response.RawID),
		PublicKey:  protocol.URLEncodedBase64(authData.AttData.CredentialPublicKey),
		Nickname:   st.nickname,
		SignCount:  uint64(authData.Counter),
		AAGUID:     protocol.URLEncodedBase64(authData.AttData.AAGUID),
		Transports: st.response.Response.Transports,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (v *AttestationVerifier) storeCredential(st *attestation) error {
	return v.lifecycle.AddCredential(st.ctx, st.cred)
}
