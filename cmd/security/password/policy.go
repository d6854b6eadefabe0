package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// commonPasswords is a tiny deny-list checked only when Policy.RejectVeryWeak is set.
var commonPasswords = map[string]struct{}{
	"password":  {},
	"12345678":  {},
	"123456789": {},
	"qwerty123": {},
	"11111111":  {},
	"iloveyou":  {},
	"splitbill": {},
	"letmein1":  {},
}

// Validate checks password policy. It does not mutate input.
func (c Config) Validate(password string) error {
	// Count runes, not bytes: the registration form counts characters.
	n := utf8.RuneCountInString(password)

	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && looksVeryWeak(password):
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak catches only the obvious cases: blank, a single repeated
// character, short digit-only PINs, and a handful of well-known passwords.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	repeated := strings.TrimLeft(s, string(first)) == ""
	if repeated {
		return true
	}

	digits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
	if digits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	_, common := commonPasswords[strings.ToLower(s)]
	return common
}
