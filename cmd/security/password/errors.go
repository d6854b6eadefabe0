package password

import "errors"

var (
	// ErrPasswordTooShort and ErrPasswordTooLong report a length outside Policy.
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")

	// ErrWeakPassword is returned only when Policy.RejectVeryWeak is set.
	ErrWeakPassword = errors.New("weak password")

	ErrInvalidHash = errors.New("invalid password hash")
)

// IsPolicyViolation reports whether err came from Validate (as opposed to hashing itself).
func IsPolicyViolation(err error) bool {
	switch {
	case errors.Is(err, ErrPasswordTooShort),
		errors.Is(err, ErrPasswordTooLong),
		errors.Is(err, ErrWeakPassword):
		return true
	}
	return false
}
