package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

var errInvalidRecord = errors.New("refresh record: missing fingerprint or account id")

// Record is a persisted refresh token. The raw token is never stored; only its fingerprint.
type Record struct {
	Fingerprint string
	AccountID   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the record is unusable at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

func (r Record) validate() error {
	if strings.TrimSpace(r.Fingerprint) == "" || strings.TrimSpace(r.AccountID) == "" {
		return errInvalidRecord
	}
	return nil
}

// RefreshStore abstracts persistence for refresh-token records.
//
// Implementations must make Consume atomic: for a given fingerprint at most one
// concurrent caller receives the record, every other caller gets ErrSessionNotFound.
type RefreshStore interface {
	// Create inserts a record. Returns ErrFingerprintTaken on a uniqueness violation.
	Create(ctx context.Context, rec Record) error

	// Exists reports whether a record with fingerprint is present (expired or not).
	Exists(ctx context.Context, fingerprint string) (bool, error)

	// Consume atomically looks up and deletes the record.
	// Returns ErrSessionNotFound when absent. Expired records are still returned
	// (and removed); the caller decides what expiry means.
	Consume(ctx context.Context, fingerprint string) (Record, error)

	// Delete removes the record if present. Idempotent.
	Delete(ctx context.Context, fingerprint string) error

	// DeleteAllForAccount removes every record owned by accountID and reports how many.
	DeleteAllForAccount(ctx context.Context, accountID string) (int64, error)

	// DeleteExpired removes records whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
