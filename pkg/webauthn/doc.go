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

// Package webauthn implements the Relying Party side of WebAuthn
// second-factor and passwordless authentication: challenge issuance,
// attestation and assertion verification, credential storage, and the
// per-user login-enforcement lifecycle.
//
// The package deliberately stops at the authentication core. User
// accounts live in an external Directory; HTTP transport lives in the
// http subpackage; challenge sessions live behind the ChallengeStore
// interface so deployments can back them with Redis or any other KV
// store with TTL semantics.
//
// # Ceremonies
//
// A ceremony is a two-step exchange. Begin issues cryptographically
// random challenge bytes and parks them in a single-use challenge
// session; Finish atomically consumes the session and runs an ordered
// pipeline of verification steps over the authenticator's response.
// Registration (attestation) binds a new credential to a user after
// checking the challenge echo, origin, RP ID hash, user-presence and
// user-verification flags, global credential-id uniqueness, and
// per-user nickname uniqueness. Login (assertion) resolves the asserted
// credential, binds it to its owner via the user handle, verifies the
// signature against the stored COSE public key, and enforces sign
// counter monotonicity.
//
// # Clone detection
//
// Authenticators with a signature counter increment it on every
// assertion. A presented counter that does not strictly exceed the
// stored one (outside the all-zero counterless case) means the private
// key may exist in more than one place; the ceremony fails with
// ErrPossibleCloneDetected and the stored record is left untouched as
// evidence.
//
// # Error discipline
//
// Verifiers return precise sentinel kinds for audit logging and
// metrics. PublicError collapses every ceremony rejection into the
// generic ErrVerificationFailed before it crosses the network boundary,
// so a remote caller cannot use error detail as an oracle.
//
// Basic usage:
//
//	svc, err := webauthn.NewService(webauthn.ServiceParams{
//		Config: &webauthn.Config{
//			RPID:          "example.com",
//			RPDisplayName: "Example Corp",
//			RPOrigins:     []string{"https://example.com"},
//		},
//		CredentialStore: webauthn.NewMemoryCredentialStore(),
//		ChallengeStore:  webauthn.NewMemoryChallengeStore(),
//		Directory:       webauthn.NewMemoryDirectory(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	options, handle, err := svc.BeginRegistration(ctx, userID)
//	// send options to the browser, keep handle for the finish call
package webauthn
