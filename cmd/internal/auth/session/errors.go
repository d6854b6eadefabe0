package session

import "errors"

// Error classes. Every concrete error below satisfies errors.Is against exactly one class.
var (
	// ErrUnauthorized is the class of failures that require the caller to re-authenticate.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is the class of uniqueness failures (email already bound).
	ErrConflict = errors.New("conflict")

	// ErrBadRequest is the class of requests that can never succeed as submitted.
	ErrBadRequest = errors.New("bad request")
)

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken error = classError{msg: "invalid token", class: ErrUnauthorized}

	// ErrSessionNotFound is returned when a refresh token does not match any record.
	// This is also what a replayed (already rotated or logged out) token produces.
	ErrSessionNotFound error = classError{msg: "session not found", class: ErrUnauthorized}

	// ErrSessionExpired is returned when the refresh record is past its expiry.
	ErrSessionExpired error = classError{msg: "session expired", class: ErrUnauthorized}

	// ErrInvalidCredentials is returned when email/password do not match a registered account.
	ErrInvalidCredentials error = classError{msg: "invalid credentials", class: ErrUnauthorized}

	// ErrAccountNotFound is returned when a token or login refers to an account that no longer exists.
	ErrAccountNotFound error = classError{msg: "account not found", class: ErrUnauthorized}

	// ErrEmailTaken is returned when the email is bound to another account.
	ErrEmailTaken error = classError{msg: "email already registered", class: ErrConflict}

	// ErrNotGuest is returned when an upgrade targets an already-registered account.
	ErrNotGuest error = classError{msg: "account is not a guest", class: ErrBadRequest}

	// ErrInvalidEmail is returned for syntactically invalid emails.
	ErrInvalidEmail error = classError{msg: "invalid email", class: ErrBadRequest}

	// ErrInvalidPassword is returned when a password violates policy.
	ErrInvalidPassword error = classError{msg: "invalid password", class: ErrBadRequest}
)

var (
	// ErrFingerprintTaken is returned by RefreshStore.Create on a fingerprint uniqueness violation.
	ErrFingerprintTaken = errors.New("refresh fingerprint already exists")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// classError is a stable sentinel that also matches its class via errors.Is.
type classError struct {
	msg   string
	class error
}

func (e classError) Error() string { return e.msg }

func (e classError) Is(target error) bool { return target == e.class }

// IsUnauthorized reports whether err is in the Unauthorized class.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsConflict reports whether err is in the Conflict class.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsBadRequest reports whether err is in the BadRequest class.
func IsBadRequest(err error) bool { return errors.Is(err, ErrBadRequest) }
