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
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
)

// generateChallenge returns size bytes of cryptographically random
// challenge material. size must be at least MinChallengeSize.
func generateChallenge(size int) (protocol.URLEncodedBase64, error) {
	if size < MinChallengeSize {
		return nil, fmt.Errorf("challenge size %d below minimum %d", size, MinChallengeSize)
	}
	challenge := make([]byte, size)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}
	return challenge, nil
}

// challengeEquals compares the stored challenge against the base64url
// value echoed in collected client data, byte for byte.
func challengeEquals(stored []byte, echoed string) bool {
	return base64.RawURLEncoding.EncodeToString(stored) == echoed
}
