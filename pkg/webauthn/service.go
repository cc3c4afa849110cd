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
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/jeremyhahn/go-webauthn-rp/pkg/logging"
	"github.com/jeremyhahn/go-webauthn-rp/pkg/metrics"
)

// Service orchestrates WebAuthn ceremonies: it issues challenges, runs
// the attestation and assertion verifiers, and manages the credential
// lifecycle. Errors returned by Service carry the internal failure
// kind; the network boundary collapses them via PublicError.
type Service struct {
	config      *Config
	creds       CredentialStore
	challenges  ChallengeStore
	directory   Directory
	lifecycle   *CredentialLifecycleManager
	attestation *AttestationVerifier
	assertion   *AssertionVerifier
	tokens      TokenGenerator // optional
	logger      *logging.Logger
	configured  bool
}

// ServiceParams contains dependencies for creating a WebAuthn service.
type ServiceParams struct {
	// Config is the relying-party policy (required).
	Config *Config

	// CredentialStore is the credential persistence layer (required).
	CredentialStore CredentialStore

	// ChallengeStore holds pending challenge sessions (required).
	ChallengeStore ChallengeStore

	// Directory is the external user directory (required).
	Directory Directory

	// TokenGenerator is an optional generator for post-auth tokens. If
	// nil, assertion results carry no token.
	TokenGenerator TokenGenerator

	// Logger is an optional structured logger. If nil, a default logger
	// is created from Config.Debug.
	Logger *logging.Logger
}

// NewService creates a new WebAuthn service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.CredentialStore == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("user directory is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = logging.NewLogger(params.Config.Debug)
	}

	lifecycle := NewCredentialLifecycleManager(params.CredentialStore, params.Directory)
	return &Service{
		config:      params.Config,
		creds:       params.CredentialStore,
		challenges:  params.ChallengeStore,
		directory:   params.Directory,
		lifecycle:   lifecycle,
		attestation: NewAttestationVerifier(params.Config, params.CredentialStore, lifecycle),
		assertion:   NewAssertionVerifier(params.Config, params.CredentialStore, params.Directory),
		tokens:      params.TokenGenerator,
		logger:      logger,
		configured:  true,
	}, nil
}

// storageCtx bounds a storage operation by the configured timeout.
func (s *Service) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.StorageTimeout)
}

// BeginRegistration starts an attestation ceremony for the identified
// user. It returns the creation options to send to the client and the
// opaque challenge-session handle the client must present on finish.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	user, err := s.directory.GetUser(sctx, userID)
	if err != nil {
		return nil, "", WrapError("get user", storageErr(err))
	}
	existing, err := s.creds.ListByUser(sctx, userID)
	if err != nil {
		return nil, "", WrapError("list credentials", storageErr(err))
	}

	challenge, err := generateChallenge(s.config.ChallengeSize)
	if err != nil {
		return nil, "", WrapError("generate challenge", err)
	}
	handle, err := s.challenges.Save(sctx, &ChallengeSession{
		Challenge: challenge,
		UserID:    userID,
		Purpose:   PurposeRegistration,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, "", WrapError("save challenge", storageErr(err))
	}

	exclude := make([]protocol.CredentialDescriptor, 0, len(existing))
	for _, cred := range existing {
		exclude = append(exclude, cred.Descriptor())
	}

	options := &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			Challenge: challenge,
			RelyingParty: protocol.RelyingPartyEntity{
				CredentialEntity: protocol.CredentialEntity{Name: s.config.RPDisplayName},
				ID:               s.config.RPID,
			},
			User: protocol.UserEntity{
				CredentialEntity: protocol.CredentialEntity{Name: user.Name},
				DisplayName:      user.DisplayName,
				ID:               user.Handle,
			},
			Parameters: credentialParameters(),
			Timeout:    int(s.config.CeremonyTimeout.Milliseconds()),
			AuthenticatorSelection: protocol.AuthenticatorSelection{
				UserVerification: protocol.UserVerificationRequirement(s.config.UserVerification),
			},
			Attestation:           protocol.ConveyancePreference(s.config.AttestationPreference),
			CredentialExcludeList: exclude,
		},
	}

	metrics.RecordChallengeIssued("registration")
	s.logger.Debugf("issued registration challenge for user %s", userID)
	return options, handle, nil
}

// FinishRegistration consumes the challenge session and verifies the
// attestation response. The session is consumed on the first attempt
// regardless of outcome; a retry needs a fresh challenge.
func (s *Service) FinishRegistration(ctx context.Context, sessionHandle, userID, nickname string, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	sctx, cancel := s.storageCtx(ctx)
	session, err := s.challenges.Take(sctx, sessionHandle)
	cancel()
	if err != nil {
		err = storageErr(err)
		s.recordFailure("registration", err)
		return nil, WrapError("take challenge", err)
	}

	cred, err := s.attestation.Verify(ctx, session, userID, nickname, response)
	if err != nil {
		s.recordFailure("registration", err)
		return nil, err
	}

	metrics.RecordCeremony("registration", "success")
	s.logger.Infof("registered credential %s for user %s", cred.ID, cred.UserID)
	return cred, nil
}

// BeginLogin starts an assertion ceremony. A non-empty userID scopes
// the ceremony to that user and advertises their credentials in the
// allow list; an empty userID issues an anonymous challenge for
// discoverable credentials.
func (s *Service) BeginLogin(ctx context.Context, userID string) (*protocol.CredentialAssertion, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}

	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	var allow []protocol.CredentialDescriptor
	if userID != "" {
		if _, err := s.directory.GetUser(sctx, userID); err != nil {
			return nil, "", WrapError("get user", storageErr(err))
		}
		existing, err := s.creds.ListByUser(sctx, userID)
		if err != nil {
			return nil, "", WrapError("list credentials", storageErr(err))
		}
		if len(existing) == 0 {
			return nil, "", WrapError("list credentials", ErrNoCredentials)
		}
		allow = make([]protocol.CredentialDescriptor, 0, len(existing))
		for _, cred := range existing {
			allow = append(allow, cred.Descriptor())
		}
	}

	challenge, err := generateChallenge(s.config.ChallengeSize)
	if err != nil {
		return nil, "", WrapError("generate challenge", err)
	}
	handle, err := s.challenges.Save(sctx, &ChallengeSession{
		Challenge: challenge,
		UserID:    userID,
		Purpose:   PurposeAssertion,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, "", WrapError("save challenge", storageErr(err))
	}

	options := &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          challenge,
			Timeout:            int(s.config.CeremonyTimeout.Milliseconds()),
			RelyingPartyID:     s.config.RPID,
			AllowedCredentials: allow,
			UserVerification:   protocol.UserVerificationRequirement(s.config.UserVerification),
		},
	}

	metrics.RecordChallengeIssued("assertion")
	return options, handle, nil
}

// FinishLogin consumes the challenge session, verifies the assertion
// response, and returns the authenticated result. Clone signals are
// logged at warning level and counted before the error is returned.
func (s *Service) FinishLogin(ctx context.Context, sessionHandle string, response *protocol.ParsedCredentialAssertionData) (*AssertionResult, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	sctx, cancel := s.storageCtx(ctx)
	session, err := s.challenges.Take(sctx, sessionHandle)
	cancel()
	if err != nil {
		err = storageErr(err)
		s.recordFailure("assertion", err)
		return nil, WrapError("take challenge", err)
	}

	cred, user, err := s.assertion.Verify(ctx, session, response)
	if err != nil {
		if IsCloneDetected(err) {
			metrics.RecordCloneWarning()
			s.logger.Warnf("possible cloned authenticator: %v", err)
		}
		s.recordFailure("assertion", err)
		return nil, err
	}

	result := &AssertionResult{
		UserID:       cred.UserID,
		CredentialID: cred.ID,
	}
	if s.tokens != nil {
		token, err := s.tokens.GenerateToken(ctx, user)
		if err != nil {
			s.recordFailure("assertion", err)
			return nil, WrapError("generate token", err)
		}
		result.Token = token
	}

	metrics.RecordCeremony("assertion", "success")
	s.logger.Infof("user %s authenticated with credential %s", cred.UserID, cred.ID)
	return result, nil
}

// ListCredentials returns the user's credentials in creation order.
func (s *Service) ListCredentials(ctx context.Context, userID string) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	creds, err := s.creds.ListByUser(sctx, userID)
	if err != nil {
		return nil, WrapError("list credentials", storageErr(err))
	}
	return creds, nil
}

// RemoveCredential deletes a user's credential by its server-assigned
// id, clearing login enforcement when it was the last one.
func (s *Service) RemoveCredential(ctx context.Context, userID, credentialID string) error {
	if !s.configured {
		return ErrNotConfigured
	}
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()

	if err := s.lifecycle.RemoveCredential(sctx, userID, credentialID); err != nil {
		return WrapError("remove credential", err)
	}
	s.logger.Infof("removed credential %s for user %s", credentialID, userID)
	return nil
}

// RequiredForLogin reports whether login currently demands a WebAuthn
// ceremony for the user.
func (s *Service) RequiredForLogin(ctx context.Context, userID string) (bool, error) {
	if !s.configured {
		return false, ErrNotConfigured
	}
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	return s.lifecycle.RequiredForLogin(sctx, userID)
}

func (s *Service) recordFailure(ceremony string, err error) {
	metrics.RecordCeremony(ceremony, "failure")
	metrics.RecordVerificationFailure(ceremony, ErrorKind(err))
	s.logger.Debugf("%s ceremony rejected: %v", ceremony, err)
}

// credentialParameters lists the signature algorithms accepted at
// registration, most preferred first.
func credentialParameters() []protocol.CredentialParameter {
	return []protocol.CredentialParameter{
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
	}
}
