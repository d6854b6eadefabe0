package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Access token formats.
const (
	FormatPaseto = "paseto"
	FormatJWT    = "jwt"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls token lifetimes, clock skew tolerance, refresh entropy size, the
// access-token format, and its signing key.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string `env:"SPLITBILL_AUTH_ISSUER"`

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration `env:"SPLITBILL_AUTH_ACCESS_TTL"`

	// RefreshTokenTTL is the absolute lifetime of a refresh token. Rotation
	// starts a fresh window.
	RefreshTokenTTL time.Duration `env:"SPLITBILL_AUTH_REFRESH_TTL"`

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration `env:"SPLITBILL_AUTH_CLOCK_SKEW"`

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh tokens.
	RefreshTokenBytes int `env:"SPLITBILL_AUTH_REFRESH_TOKEN_BYTES"`

	// IssueAttempts bounds the generate-check-retry loop for refresh fingerprints.
	IssueAttempts int `env:"SPLITBILL_AUTH_ISSUE_ATTEMPTS"`

	// AccessTokenFormat selects the codec: "paseto" (default) or "jwt".
	AccessTokenFormat string `env:"SPLITBILL_AUTH_ACCESS_TOKEN_FORMAT"`

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string `env:"SPLITBILL_PASETO_V4_SECRET_KEY_HEX"`

	// JWTSecret is the HS256 key used when AccessTokenFormat is "jwt".
	JWTSecret string `env:"SPLITBILL_JWT_SECRET"`
}

// MinJWTSecretBytes is the shortest accepted HS256 key.
const MinJWTSecretBytes = 32

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:            "splitbill",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		IssueAttempts:     5,
		AccessTokenFormat: FormatPaseto,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required (depending on SPLITBILL_AUTH_ACCESS_TOKEN_FORMAT):
//   - SPLITBILL_PASETO_V4_SECRET_KEY_HEX (paseto)
//   - SPLITBILL_JWT_SECRET (jwt, >= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - SPLITBILL_AUTH_ISSUER
//   - SPLITBILL_AUTH_ACCESS_TTL
//   - SPLITBILL_AUTH_REFRESH_TTL
//   - SPLITBILL_AUTH_CLOCK_SKEW
//   - SPLITBILL_AUTH_REFRESH_TOKEN_BYTES
//   - SPLITBILL_AUTH_ISSUE_ATTEMPTS
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants and signing material presence.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)
	}

	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return bad("issuer is empty")
	case c.AccessTokenTTL <= 0:
		return bad("access ttl must be positive")
	case c.RefreshTokenTTL <= 0:
		return bad("refresh ttl must be positive")
	case c.RefreshTokenTTL <= c.AccessTokenTTL:
		return bad("refresh ttl must exceed access ttl")
	case c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute:
		return bad("clock skew out of range [0..5m]")
	case c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64:
		return bad("refresh token bytes out of range [32..64]")
	case c.IssueAttempts < 1 || c.IssueAttempts > 20:
		return bad("issue attempts out of range [1..20]")
	}

	switch c.AccessTokenFormat {
	case FormatPaseto:
		if strings.TrimSpace(c.PasetoV4SecretKeyHex) == "" {
			return bad("SPLITBILL_PASETO_V4_SECRET_KEY_HEX is required")
		}
	case FormatJWT:
		if len(c.JWTSecret) < MinJWTSecretBytes {
			return bad("SPLITBILL_JWT_SECRET must be at least %d bytes", MinJWTSecretBytes)
		}
	default:
		return bad("unknown access token format %q", c.AccessTokenFormat)
	}
	return nil
}
