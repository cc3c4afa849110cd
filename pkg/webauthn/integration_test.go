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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRP is the relying party identity shared by the integration tests.
var testRP = virtualwebauthn.RelyingParty{
	Name:   "Example Corp",
	ID:     "example.com",
	Origin: "https://example.com",
}

type integrationEnv struct {
	svc       *Service
	directory *MemoryDirectory
	creds     *MemoryCredentialStore
	user      *DirectoryUser
}

func newIntegrationEnv(t *testing.T, tokens TokenGenerator) *integrationEnv {
	t.Helper()

	cfg := &Config{
		RPID:          testRP.ID,
		RPDisplayName: testRP.Name,
		RPOrigins:     []string{testRP.Origin},
	}
	directory := NewMemoryDirectory()
	creds := NewMemoryCredentialStore()

	svc, err := NewService(ServiceParams{
		Config:          cfg,
		CredentialStore: creds,
		ChallengeStore:  NewMemoryChallengeStore(),
		Directory:       directory,
		TokenGenerator:  tokens,
	})
	require.NoError(t, err)

	user, err := directory.CreateUser(context.Background(), "testuser@example.com", "Test User")
	require.NoError(t, err)
	directory.SetSecondFactorEnabled(user.ID, true)

	return &integrationEnv{svc: svc, directory: directory, creds: creds, user: user}
}

// register runs a full attestation ceremony for the environment's user
// with the given virtual authenticator and credential.
func (env *integrationEnv) register(t *testing.T, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential, nickname string) (*Credential, error) {
	t.Helper()
	ctx := context.Background()

	options, handle, err := env.svc.BeginRegistration(ctx, env.user.ID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(testRP, auth, cred, *parsedOptions)
	response, err := parseAttestationResponse(attestation)
	require.NoError(t, err)

	return env.svc.FinishRegistration(ctx, handle, env.user.ID, nickname, response)
}

// login runs a full assertion ceremony. An empty userID asserts the
// anonymous (discoverable credential) flow.
func (env *integrationEnv) login(t *testing.T, auth virtualwebauthn.Authenticator, cred virtualwebauthn.Credential, userID string) (*AssertionResult, error) {
	t.Helper()
	ctx := context.Background()

	options, handle, err := env.svc.BeginLogin(ctx, userID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	assertion := virtualwebauthn.CreateAssertionResponse(testRP, auth, cred, *parsedOptions)
	response, err := parseAssertionResponse(assertion)
	require.NoError(t, err)

	return env.svc.FinishLogin(ctx, handle, response)
}

// TestIntegration_FullRegistrationFlow tests the complete registration
// flow using a virtual authenticator.
func TestIntegration_FullRegistrationFlow(t *testing.T) {
	ctx := context.Background()
	env := newIntegrationEnv(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, handle, err := env.svc.BeginRegistration(ctx, env.user.ID)
	require.NoError(t, err)
	require.NotNil(t, options)
	require.NotEmpty(t, handle)

	assert.Equal(t, testRP.ID, options.Response.RelyingParty.ID)
	assert.Equal(t, testRP.Name, options.Response.RelyingParty.Name)
	assert.Equal(t, "testuser@example.com", options.Response.User.Name)
	assert.Equal(t, "Test User", options.Response.User.DisplayName)
	assert.NotEmpty(t, options.Response.Challenge)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(testRP, authenticator, credential, *parsedOptions)
	response, err := parseAttestationResponse(attestation)
	require.NoError(t, err)

	stored, err := env.svc.FinishRegistration(ctx, handle, env.user.ID, "yubikey", response)
	require.NoError(t, err)
	require.NotNil(t, stored)
	authenticator.AddCredential(credential)

	assert.Equal(t, env.user.ID, stored.UserID)
	assert.Equal(t, "yubikey", stored.Nickname)
	assert.NotEmpty(t, stored.ID)
	assert.NotEmpty(t, stored.PublicKey)

	creds, err := env.svc.ListCredentials(ctx, env.user.ID)
	require.NoError(t, err)
	assert.Len(t, creds, 1)

	// First credential of a second-factor user enables enforcement
	required, err := env.svc.RequiredForLogin(ctx, env.user.ID)
	require.NoError(t, err)
	assert.True(t, required)
}

// TestIntegration_FullLoginFlow registers a credential and then asserts
// with it, checking the token and sign-count bookkeeping.
func TestIntegration_FullLoginFlow(t *testing.T) {
	ctx := context.Background()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tokens, err := NewJWTGenerator(&JWTGeneratorConfig{PrivateKey: key})
	require.NoError(t, err)

	env := newIntegrationEnv(t, tokens)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	stored, err := env.register(t, authenticator, credential, "yubikey")
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	credential.Counter++
	result, err := env.login(t, authenticator, credential, env.user.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, env.user.ID, result.UserID)
	assert.Equal(t, stored.ID, result.CredentialID)
	require.NotEmpty(t, result.Token)

	claims, err := tokens.VerifyToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, claims["sub"])

	creds, err := env.svc.ListCredentials(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, uint64(1), creds[0].SignCount)
	require.NotNil(t, creds[0].LastUsedAt)
}

// TestIntegration_DiscoverableCredentialFlow tests the anonymous login
// flow where the authenticator echoes the user handle.
func TestIntegration_DiscoverableCredentialFlow(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := env.register(t, authenticator, credential, "passkey")
	require.NoError(t, err)

	// Anonymous options carry no allow list
	options, _, err := env.svc.BeginLogin(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, options.Response.AllowedCredentials)

	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: env.user.Handle,
	})
	discoverable.AddCredential(credential)

	credential.Counter++
	result, err := env.login(t, discoverable, credential, "")
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, result.UserID)
}

// TestIntegration_AnonymousLoginWithoutUserHandle rejects a discoverable
// flow where the authenticator does not identify the user.
func TestIntegration_AnonymousLoginWithoutUserHandle(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := env.register(t, authenticator, credential, "passkey")
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	credential.Counter++
	_, err = env.login(t, authenticator, credential, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUserHandleMismatch)
}

// TestIntegration_MultipleCredentials registers two authenticators for
// one user and logs in with each.
func TestIntegration_MultipleCredentials(t *testing.T) {
	ctx := context.Background()
	env := newIntegrationEnv(t, nil)

	auth1 := virtualwebauthn.NewAuthenticator()
	cred1 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	auth2 := virtualwebauthn.NewAuthenticator()
	cred2 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := env.register(t, auth1, cred1, "work key")
	require.NoError(t, err)
	auth1.AddCredential(cred1)

	// Second registration advertises the first credential in the
	// exclude list
	options, handle, err := env.svc.BeginRegistration(ctx, env.user.ID)
	require.NoError(t, err)
	assert.Len(t, options.Response.CredentialExcludeList, 1)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestation := virtualwebauthn.CreateAttestationResponse(testRP, auth2, cred2, *parsedOptions)
	response, err := parseAttestationResponse(attestation)
	require.NoError(t, err)

	_, err = env.svc.FinishRegistration(ctx, handle, env.user.ID, "backup key", response)
	require.NoError(t, err)
	auth2.AddCredential(cred2)

	creds, err := env.svc.ListCredentials(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "work key", creds[0].Nickname)
	assert.Equal(t, "backup key", creds[1].Nickname)

	cred1.Counter++
	_, err = env.login(t, auth1, cred1, env.user.ID)
	require.NoError(t, err)

	cred2.Counter++
	_, err = env.login(t, auth2, cred2, env.user.ID)
	require.NoError(t, err)
}

// TestIntegration_DuplicateCredential rejects registering the same
// authenticator credential twice.
func TestIntegration_DuplicateCredential(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := env.register(t, authenticator, credential, "first")
	require.NoError(t, err)

	_, err = env.register(t, authenticator, credential, "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentialAlreadyRegistered)
}

// TestIntegration_NicknameValidation rejects empty and duplicate
// nicknames at registration.
func TestIntegration_NicknameValidation(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	auth1 := virtualwebauthn.NewAuthenticator()
	cred1 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	_, err := env.register(t, auth1, cred1, "my key")
	require.NoError(t, err)

	auth2 := virtualwebauthn.NewAuthenticator()
	cred2 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	_, err = env.register(t, auth2, cred2, "my key")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateNickname)

	auth3 := virtualwebauthn.NewAuthenticator()
	cred3 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	_, err = env.register(t, auth3, cred3, "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNicknameRequired)
}

// TestIntegration_WrongOrigin rejects a response produced for another
// origin even when the challenge matches.
func TestIntegration_WrongOrigin(t *testing.T) {
	ctx := context.Background()
	env := newIntegrationEnv(t, nil)

	evilRP := virtualwebauthn.RelyingParty{
		Name:   testRP.Name,
		ID:     testRP.ID,
		Origin: "https://evil.example.net",
	}
	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, handle, err := env.svc.BeginRegistration(ctx, env.user.ID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestation := virtualwebauthn.CreateAttestationResponse(evilRP, authenticator, credential, *parsedOptions)
	response, err := parseAttestationResponse(attestation)
	require.NoError(t, err)

	_, err = env.svc.FinishRegistration(ctx, handle, env.user.ID, "evil", response)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOriginNotAllowed)
}

// TestIntegration_ForgedSignature rejects an assertion whose signature
// was tampered with after signing.
func TestIntegration_ForgedSignature(t *testing.T) {
	ctx := context.Background()
	env := newIntegrationEnv(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := env.register(t, authenticator, credential, "yubikey")
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	options, handle, err := env.svc.BeginLogin(ctx, env.user.ID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	credential.Counter++
	assertion := virtualwebauthn.CreateAssertionResponse(testRP, authenticator, credential, *parsedOptions)
	response, err := parseAssertionResponse(assertion)
	require.NoError(t, err)

	// Flip one bit in the signature
	response.Response.Signature[0] ^= 0x01

	_, err = env.svc.FinishLogin(ctx, handle, response)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

// TestIntegration_ChallengeReplay rejects reuse of a consumed challenge
// session.
func TestIntegration_ChallengeReplay(t *testing.T) {
	ctx := context.Background()
	env := newIntegrationEnv(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := env.register(t, authenticator, credential, "yubikey")
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	options, handle, err := env.svc.BeginLogin(ctx, env.user.ID)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	credential.Counter++
	assertion := virtualwebauthn.CreateAssertionResponse(testRP, authenticator, credential, *parsedOptions)
	response, err := parseAssertionResponse(assertion)
	require.NoError(t, err)

	_, err = env.svc.FinishLogin(ctx, handle, response)
	require.NoError(t, err)

	// The session was consumed by the first finish
	_, err = env.svc.FinishLogin(ctx, handle, response)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChallengeInvalid)
}

// TestIntegration_CounterRegression reports a clone signal when the
// presented counter does not advance past the stored one.
func TestIntegration_CounterRegression(t *testing.T) {
	env := newIntegrationEnv(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := env.register(t, authenticator, credential, "yubikey")
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	credential.Counter = 5
	_, err = env.login(t, authenticator, credential, env.user.ID)
	require.NoError(t, err)

	// A cloned authenticator replays an older counter
	credential.Counter = 3
	_, err = env.login(t, authenticator, credential, env.user.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPossibleCloneDetected)

	// Regression to zero is also a clone signal once the stored
	// counter is nonzero
	credential.Counter = 0
	_, err = env.login(t, authenticator, credential, env.user.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPossibleCloneDetected)
}

// TestIntegration_CounterlessAuthenticator accepts repeated zero
// counters from authenticators that never implement one.
func TestIntegration_CounterlessAuthenticator(t *testing.T) {
	ctx := context.Background()
	env := newIntegrationEnv(t, nil)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	_, err := env.register(t, authenticator, credential, "yubikey")
	require.NoError(t, err)
	authenticator.AddCredential(credential)

	for i := 0; i < 2; i++ {
		_, err = env.login(t, authenticator, credential, env.user.ID)
		require.NoError(t, err)
	}

	creds, err := env.svc.ListCredentials(ctx, env.user.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, uint64(0), creds[0].SignCount)
	require.NotNil(t, creds[0].LastUsedAt)
}

// TestIntegration_LifecycleFlag tracks the login-enforcement flag across
// credential additions and removals.
func TestIntegration_LifecycleFlag(t *testing.T) {
	ctx := context.Background()
	env := newIntegrationEnv(t, nil)

	required, err := env.svc.RequiredForLogin(ctx, env.user.ID)
	require.NoError(t, err)
	assert.False(t, required)

	auth1 := virtualwebauthn.NewAuthenticator()
	cred1 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	first, err := env.register(t, auth1, cred1, "first")
	require.NoError(t, err)

	required, err = env.svc.RequiredForLogin(ctx, env.user.ID)
	require.NoError(t, err)
	assert.True(t, required)

	auth2 := virtualwebauthn.NewAuthenticator()
	cred2 := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	second, err := env.register(t, auth2, cred2, "second")
	require.NoError(t, err)

	// Removing one of two keeps enforcement on
	require.NoError(t, env.svc.RemoveCredential(ctx, env.user.ID, first.ID))
	required, err = env.svc.RequiredForLogin(ctx, env.user.ID)
	require.NoError(t, err)
	assert.True(t, required)

	// Removing the last credential clears enforcement
	require.NoError(t, env.svc.RemoveCredential(ctx, env.user.ID, second.ID))
	required, err = env.svc.RequiredForLogin(ctx, env.user.ID)
	require.NoError(t, err)
	assert.False(t, required)
}

// parseAttestationResponse parses a virtual authenticator attestation
// response into the format expected by go-webauthn.
func parseAttestationResponse(attestation string) (*protocol.ParsedCredentialCreationData, error) {
	var ccr protocol.CredentialCreationResponse
	if err := json.Unmarshal([]byte(attestation), &ccr); err != nil {
		return nil, err
	}
	return ccr.Parse()
}

// parseAssertionResponse parses a virtual authenticator assertion
// response into the format expected by go-webauthn.
func parseAssertionResponse(assertion string) (*protocol.ParsedCredentialAssertionData, error) {
	var car protocol.CredentialAssertionResponse
	if err := json.Unmarshal([]byte(assertion), &car); err != nil {
		return nil, err
	}
	return car.Parse()
}
