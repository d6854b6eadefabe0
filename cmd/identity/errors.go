package identity

import (
	"errors"
	"fmt"
)

// Error kinds. Every error this package returns matches exactly one of them
// with errors.Is; the session layer maps them onto its own classes.
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrNotGuest     = errors.New("not_guest")
)

// OpError carries the failing operation and its kind. Msg is for humans and
// never holds emails or hashes.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string { return format(e.Op, e.Kind, e.Msg) }

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports that a unique field ("email", "id") is already bound.
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string { return format(e.Op, ErrConflict, e.Field) }

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string { return format(e.Op, ErrNotFound, e.Resource) }

func (e NotFoundError) Unwrap() error { return ErrNotFound }

func format(op string, kind error, detail string) string {
	if detail == "" {
		return fmt.Sprintf("%s: %v", op, kind)
	}
	return fmt.Sprintf("%s: %v: %s", op, kind, detail)
}

func accountNotFound(op string) error { return NotFoundError{Op: op, Resource: "account"} }

func notGuest(op string) error {
	return OpError{Op: op, Kind: ErrNotGuest, Msg: "account is already registered"}
}

func invalid(op, msg string) error { return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg} }

// Kind predicates.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
func IsNotGuest(err error) bool { return errors.Is(err, ErrNotGuest) }
