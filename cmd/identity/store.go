package identity

import (
	"context"
	"strings"
	"time"
)

// Account is splitbill's canonical principal.
//
// Invariant: IsGuest == (Email == nil && PasswordHash == nil).
type Account struct {
	ID        string
	Email     *string
	EmailNorm *string

	// PasswordHash is an encoded Argon2id (or legacy bcrypt) hash. Never log it.
	PasswordHash *string

	DisplayName *string
	IsGuest     bool

	CreatedAt    time.Time
	LastActiveAt time.Time
}

// CreateGuestInput creates a credential-less account.
type CreateGuestInput struct {
	DisplayName *string
	Now         time.Time
}

// CreateRegisteredInput creates an account with credentials.
// PasswordHash must already be hashed; the store never sees plaintext.
type CreateRegisteredInput struct {
	Email        string
	PasswordHash string
	DisplayName  *string
	Now          time.Time
}

// UpgradeGuestInput binds credentials to an existing guest account.
// A nil DisplayName keeps the current one.
type UpgradeGuestInput struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  *string
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	GetByID(ctx context.Context, id string) (Account, error)

	// GetByEmail looks up by normalized email.
	GetByEmail(ctx context.Context, email string) (Account, error)

	CreateGuest(ctx context.Context, in CreateGuestInput) (Account, error)

	// CreateRegistered returns ConflictError{Field:"email"} if the email is bound.
	CreateRegistered(ctx context.Context, in CreateRegisteredInput) (Account, error)

	// UpgradeGuest converts a guest in place, preserving its ID.
	//
	// Contract:
	// - Re-verifies guest status immediately before writing (ErrNotGuest otherwise).
	// - Re-verifies email availability immediately before writing (ConflictError).
	// - Returns NotFoundError if the account does not exist.
	UpgradeGuest(ctx context.Context, in UpgradeGuestInput) (Account, error)

	// Touch records activity. Missing accounts are ignored.
	Touch(ctx context.Context, id string, now time.Time) error
}

// trimPtr trims a string pointer, returning nil if result is empty.
func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

func nowOrUTC(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func validateCredentials(op, email, passwordHash string) (string, string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", invalid(op, "email is required")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return "", "", invalid(op, "password hash is required")
	}
	return email, NormalizeEmail(email), nil
}
