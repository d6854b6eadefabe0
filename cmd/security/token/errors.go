package token

import "errors"

// Public, stable errors for callers.
var (
	ErrPepperMissing  = errors.New("token pepper missing")
	ErrPepperTooShort = errors.New("token pepper too short")

	// ErrExhausted is returned when GenerateUnique runs out of attempts.
	ErrExhausted = errors.New("token generation exhausted retry budget")

	// ErrCollision may be returned by a GenerateUnique commit callback to signal
	// that the candidate was taken after the existence check; it consumes an attempt.
	ErrCollision = errors.New("token collision")

	ErrInvalidLength = errors.New("token length out of range")
)
