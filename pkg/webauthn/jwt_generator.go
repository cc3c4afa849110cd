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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTGenerator issues signed JWTs after a successful assertion.
type JWTGenerator struct {
	privateKey crypto.PrivateKey
	publicKey  crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   []string
	expiresIn  time.Duration
}

// JWTGeneratorConfig contains configuration for the JWT generator.
type JWTGeneratorConfig struct {
	// PrivateKey signs tokens (required). ECDSA P-256, Ed25519, and RSA
	// keys are supported.
	PrivateKey crypto.PrivateKey
	// Issuer is the JWT issuer claim (default: "go-webauthn-rp")
	Issuer string
	// Audience is the JWT audience claim (default: ["go-webauthn-rp"])
	Audience []string
	// ExpiresIn is how long tokens are valid (default: 1 hour)
	ExpiresIn time.Duration
}

// NewJWTGenerator creates a JWT generator with the given configuration.
func NewJWTGenerator(config *JWTGeneratorConfig) (*JWTGenerator, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	var method jwt.SigningMethod
	var publicKey crypto.PublicKey
	switch key := config.PrivateKey.(type) {
	case *ecdsa.PrivateKey:
		method = jwt.SigningMethodES256
		publicKey = key.Public()
	case ed25519.PrivateKey:
		method = jwt.SigningMethodEdDSA
		publicKey = key.Public()
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
		publicKey = key.Public()
	default:
		return nil, fmt.Errorf("unsupported private key type %T", config.PrivateKey)
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-webauthn-rp"
	}
	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-webauthn-rp"}
	}
	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &JWTGenerator{
		privateKey: config.PrivateKey,
		publicKey:  publicKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		expiresIn:  expiresIn,
	}, nil
}

// GenerateToken creates a JWT for the authenticated user.
func (g *JWTGenerator) GenerateToken(ctx context.Context, user *DirectoryUser) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss":  g.issuer,
		"aud":  g.audience,
		"sub":  user.ID,
		"iat":  now.Unix(),
		"exp":  now.Add(g.expiresIn).Unix(),
		"nbf":  now.Unix(),
		"name": user.DisplayName,
		"amr":  []string{"webauthn"},
	}

	token := jwt.NewWithClaims(g.method, claims)
	signed, err := token.SignedString(g.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies a JWT issued by this generator and returns its
// claims.
func (g *JWTGenerator) VerifyToken(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != g.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return g.publicKey, nil
	}, jwt.WithIssuer(g.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	return claims, nil
}
