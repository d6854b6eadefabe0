package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// PepperEnvKey is the env var name for the optional fingerprint pepper.
	// #nosec G101 -- not a credential; it's an environment variable name.
	PepperEnvKey = "SPLITBILL_TOKEN_PEPPER"

	// MinOpaqueBytes is the smallest entropy NewOpaque will produce.
	MinOpaqueBytes = 16
	// MaxOpaqueBytes bounds allocation for misconfigured callers.
	MaxOpaqueBytes = 128
)

// NewOpaque returns n crypto-random bytes encoded as base64url (no padding).
func NewOpaque(n int) (string, error) {
	if n < MinOpaqueBytes || n > MaxOpaqueBytes {
		return "", ErrInvalidLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Fingerprinter maps raw tokens to their storage key.
// The zero value is keyless (plain SHA-256).
type Fingerprinter struct {
	pepper []byte
}

// NewFingerprinter returns a Fingerprinter. A nil or empty pepper selects SHA-256.
func NewFingerprinter(pepper []byte) Fingerprinter {
	if len(pepper) == 0 {
		return Fingerprinter{}
	}
	p := make([]byte, len(pepper))
	copy(p, pepper)
	return Fingerprinter{pepper: p}
}

// Keyed reports whether HMAC mode is active.
func (f Fingerprinter) Keyed() bool { return len(f.pepper) > 0 }

// Fingerprint returns the 64-char hex digest of raw.
func (f Fingerprinter) Fingerprint(raw string) string {
	if len(f.pepper) == 0 {
		return HashSHA256Hex(raw)
	}
	return HashHMACSHA256Hex(raw, f.pepper)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// PepperFromEnv returns the configured pepper bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrPepperMissing.
// If too short -> ErrPepperTooShort.
func PepperFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(PepperEnvKey))
	if raw == "" {
		return nil, ErrPepperMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrPepperTooShort
	}
	return b, nil
}
