package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements RefreshStore using PostgreSQL (<schema>.refresh_tokens).
//
// Consume is a single DELETE ... RETURNING statement, so concurrent refreshes of
// the same token serialize on the row and exactly one observes it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var schemaIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresStore creates a Postgres-backed refresh store in schema.
// The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if !schemaIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{schema, "refresh_tokens"}.Sanitize(),
	}, nil
}

// Create inserts a new refresh record.
func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (fingerprint, account_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, rec.Fingerprint, rec.AccountID, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation
				return ErrFingerprintTaken
			case "23503": // foreign_key_violation
				return ErrAccountNotFound
			}
		}
		return err
	}
	return nil
}

// Exists reports whether a record with fingerprint is stored.
func (s *PostgresStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM `+s.table+` WHERE fingerprint = $1)
	`, fingerprint).Scan(&ok)
	return ok, err
}

// Consume deletes and returns the record in one statement.
func (s *PostgresStore) Consume(ctx context.Context, fingerprint string) (Record, error) {
	var rec Record

	err := s.pool.QueryRow(ctx, `
		DELETE FROM `+s.table+`
		WHERE fingerprint = $1
		RETURNING fingerprint, account_id, created_at, expires_at
	`, fingerprint).Scan(
		&rec.Fingerprint,
		&rec.AccountID,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}

// Delete removes a record (idempotent).
func (s *PostgresStore) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table+` WHERE fingerprint = $1
	`, fingerprint)
	return err
}

// DeleteAllForAccount removes all records for an account (idempotent).
func (s *PostgresStore) DeleteAllForAccount(ctx context.Context, accountID string) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table+` WHERE account_id = $1
	`, accountID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// DeleteExpired removes records with expires_at <= now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table+` WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// Ping checks connectivity for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
