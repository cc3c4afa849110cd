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

// Package config loads the relying-party server configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-webauthn-rp/pkg/webauthn"
	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	WebAuthn  webauthn.Config `yaml:"webauthn"`
	Token     TokenConfig     `yaml:"token"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level string `yaml:"level"` // info, debug
}

// TokenConfig controls post-authentication JWT issuance
type TokenConfig struct {
	Enabled bool `yaml:"enabled"`

	// PrivateKeyFile is a PEM-encoded signing key (ECDSA P-256, Ed25519,
	// or RSA).
	PrivateKeyFile string `yaml:"private_key_file"`

	Issuer    string        `yaml:"issuer"`
	Audience  []string      `yaml:"audience"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// RateLimitConfig controls rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health check endpoint
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads, parses, and validates the configuration at path.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Health.Path == "" {
		c.Health.Path = "/healthz"
	}
	c.WebAuthn.SetDefaults()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range 1-65535", c.Server.Port)
	}
	switch c.Logging.Level {
	case "info", "debug":
		// Valid
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Token.Enabled && c.Token.PrivateKeyFile == "" {
		return fmt.Errorf("token.private_key_file is required when token issuance is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("ratelimit.requests_per_min must be positive when rate limiting is enabled")
	}
	if err := c.WebAuthn.Validate(); err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}
	return nil
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return c.Logging.Level == "debug"
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("WEBAUTHN_RP_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("WEBAUTHN_RP_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid WEBAUTHN_RP_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid WEBAUTHN_RP_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}
	if level := os.Getenv("WEBAUTHN_RP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if rpid := os.Getenv("WEBAUTHN_RP_ID"); rpid != "" {
		cfg.WebAuthn.RPID = rpid
	}
	if name := os.Getenv("WEBAUTHN_RP_DISPLAY_NAME"); name != "" {
		cfg.WebAuthn.RPDisplayName = name
	}
	if origins := os.Getenv("WEBAUTHN_RP_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cleaned := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		cfg.WebAuthn.RPOrigins = cleaned
	}
	if uv := os.Getenv("WEBAUTHN_RP_USER_VERIFICATION"); uv != "" {
		cfg.WebAuthn.UserVerification = uv
	}
	if keyFile := os.Getenv("WEBAUTHN_RP_TOKEN_KEY_FILE"); keyFile != "" {
		cfg.Token.PrivateKeyFile = keyFile
	}
}
