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
	"crypto/sha256"
	"fmt"
	"time"
)

// MinChallengeSize is the smallest challenge the relying party will
// issue. The WebAuthn specification requires at least 16 bytes of
// entropy.
const MinChallengeSize = 16

// Config is the relying-party policy consulted by both verifiers.
type Config struct {
	// RPID is the Relying Party identifier, typically the effective domain.
	// Example: "example.com"
	RPID string `yaml:"id" json:"id" mapstructure:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	// Example: "Example Corp"
	RPDisplayName string `yaml:"display_name" json:"display_name" mapstructure:"display_name"`

	// RPOrigins are the allowed origins for WebAuthn ceremonies. A response
	// whose client-data origin is not a member is rejected.
	// Example: []string{"https://example.com", "https://www.example.com"}
	RPOrigins []string `yaml:"origins" json:"origins" mapstructure:"origins"`

	// UserVerification specifies the user verification requirement.
	// Options: "required", "preferred", "discouraged"
	// Default: "preferred". When "required", both the user-present and
	// user-verified authenticator flags must be set; otherwise only
	// user-present is enforced.
	UserVerification string `yaml:"user_verification" json:"user_verification" mapstructure:"user_verification"`

	// AttestationPreference specifies the attestation conveyance preference
	// advertised in registration options.
	// Options: "none", "indirect", "direct", "enterprise"
	// Default: "none". Attestation statements are not chain-verified.
	AttestationPreference string `yaml:"attestation" json:"attestation" mapstructure:"attestation"`

	// ChallengeTTL bounds how long an issued challenge remains valid.
	// Expiry is checked lazily at verification time. Default: 5 minutes.
	ChallengeTTL time.Duration `yaml:"challenge_ttl" json:"challenge_ttl" mapstructure:"challenge_ttl"`

	// ChallengeSize is the challenge length in bytes. Default: 32,
	// minimum: MinChallengeSize.
	ChallengeSize int `yaml:"challenge_size" json:"challenge_size" mapstructure:"challenge_size"`

	// CeremonyTimeout is the client-side ceremony timeout advertised in
	// options, in wall-clock time. Default: 60 seconds.
	CeremonyTimeout time.Duration `yaml:"ceremony_timeout" json:"ceremony_timeout" mapstructure:"ceremony_timeout"`

	// StorageTimeout bounds individual storage operations. Timeouts are
	// surfaced as ErrStorageUnavailable. Default: 5 seconds.
	StorageTimeout time.Duration `yaml:"storage_timeout" json:"storage_timeout" mapstructure:"storage_timeout"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if len(c.RPOrigins) == 0 {
		return fmt.Errorf("at least one RPOrigin is required")
	}

	switch c.UserVerification {
	case "", "required", "preferred", "discouraged":
		// Valid
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}

	switch c.AttestationPreference {
	case "", "none", "indirect", "direct", "enterprise":
		// Valid
	default:
		return fmt.Errorf("invalid attestation preference: %s", c.AttestationPreference)
	}

	if c.ChallengeSize != 0 && c.ChallengeSize < MinChallengeSize {
		return fmt.Errorf("challenge size must be at least %d bytes", MinChallengeSize)
	}
	if c.ChallengeTTL < 0 {
		return fmt.Errorf("challenge TTL must be positive")
	}

	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.UserVerification == "" {
		c.UserVerification = "preferred"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "none"
	}
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	if c.ChallengeSize == 0 {
		c.ChallengeSize = 32
	}
	if c.CeremonyTimeout == 0 {
		c.CeremonyTimeout = 60 * time.Second
	}
	if c.StorageTimeout == 0 {
		c.StorageTimeout = 5 * time.Second
	}
}

// UserVerificationRequired reports whether policy demands the
// user-verified authenticator flag in addition to user presence.
func (c *Config) UserVerificationRequired() bool {
	return c.UserVerification == "required"
}

// RPIDHash returns the SHA-256 hash of the relying party identifier,
// compared against the hash reported in authenticator data.
func (c *Config) RPIDHash() []byte {
	sum := sha256.Sum256([]byte(c.RPID))
	return sum[:]
}

// OriginAllowed reports whether the given client-data origin is a member
// of the allowed origin set. Comparison is exact; origins must be
// configured fully qualified (scheme, host, optional port).
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.RPOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
