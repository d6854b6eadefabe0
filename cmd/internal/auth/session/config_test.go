package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_MissingSecretKey(t *testing.T) {
	t.Setenv("SPLITBILL_PASETO_V4_SECRET_KEY_HEX", "")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SPLITBILL_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SPLITBILL_AUTH_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_UnparsableDuration(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SPLITBILL_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SPLITBILL_AUTH_REFRESH_TTL", "a week")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unparsable duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidRefreshTokenBytes(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SPLITBILL_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SPLITBILL_AUTH_REFRESH_TOKEN_BYTES", "16")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for small refresh bytes, got %v", err)
	}
}

func TestLoadConfigFromEnv_RefreshMustOutliveAccess(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SPLITBILL_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SPLITBILL_AUTH_ACCESS_TTL", "2h")
	t.Setenv("SPLITBILL_AUTH_REFRESH_TTL", "1h")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_JWTRequiresLongSecret(t *testing.T) {
	t.Setenv("SPLITBILL_AUTH_ACCESS_TOKEN_FORMAT", "jwt")
	t.Setenv("SPLITBILL_JWT_SECRET", "too-short")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for short jwt secret, got %v", err)
	}

	t.Setenv("SPLITBILL_JWT_SECRET", strings.Repeat("s", MinJWTSecretBytes))
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AccessTokenFormat != FormatJWT {
		t.Fatalf("format mismatch: %q", cfg.AccessTokenFormat)
	}
}

func TestLoadConfigFromEnv_UnknownFormat(t *testing.T) {
	t.Setenv("SPLITBILL_AUTH_ACCESS_TOKEN_FORMAT", "saml")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown format, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("SPLITBILL_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("SPLITBILL_AUTH_ISSUER", "splitbill-test")
	t.Setenv("SPLITBILL_AUTH_ACCESS_TTL", "10m")
	t.Setenv("SPLITBILL_AUTH_REFRESH_TTL", "48h")
	t.Setenv("SPLITBILL_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("SPLITBILL_AUTH_REFRESH_TOKEN_BYTES", "48")
	t.Setenv("SPLITBILL_AUTH_ISSUE_ATTEMPTS", "3")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "splitbill-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 48*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTokenTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if cfg.RefreshTokenBytes != 48 {
		t.Fatalf("refresh token bytes mismatch: %d", cfg.RefreshTokenBytes)
	}
	if cfg.IssueAttempts != 3 {
		t.Fatalf("issue attempts mismatch: %d", cfg.IssueAttempts)
	}
	if cfg.AccessTokenFormat != FormatPaseto {
		t.Fatalf("default format mismatch: %q", cfg.AccessTokenFormat)
	}
}

func TestDefaultConfig_Lifetimes(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("access ttl: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("refresh ttl: %v", cfg.RefreshTokenTTL)
	}
}
