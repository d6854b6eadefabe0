package identity

import (
	"net/mail"
	"strings"
)

// MaxEmailLength is the RFC 5321 path limit.
const MaxEmailLength = 254

// NormalizeEmail performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case. Provider-specific folding (dots,
// plus-tags) is deliberately not applied.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateEmail performs a syntactic check of a bare address.
// Display-name forms ("Ann <ann@x.io>") are rejected.
func ValidateEmail(s string) error {
	const op = "identity.ValidateEmail"

	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return invalid(op, "email is required")
	case len(s) > MaxEmailLength:
		return invalid(op, "email too long")
	}

	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return invalid(op, "email is malformed")
	}

	at := strings.LastIndexByte(s, '@')
	domain := s[at+1:]
	if at <= 0 || !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return invalid(op, "email domain is malformed")
	}
	return nil
}
