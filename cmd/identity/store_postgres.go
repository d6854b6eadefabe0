package identity

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

	"splitbill/cmd/identity/ids"
)

// PostgresStore implements account persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Email uniqueness is enforced by uq_accounts_email_norm; violations map to ConflictError.
// - UpgradeGuest locks the account row (SELECT ... FOR UPDATE) for its checks and write.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the schema used when WithSchema is not supplied.
const DefaultSchema = "splitbill"

// WithSchema sets the Postgres schema used by the store (default "splitbill").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !ValidSchemaIdent(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const accountColumns = `id, email, email_norm, password_hash, display_name, is_guest, created_at, last_active_at`

// GetByID returns the account or NotFoundError.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetByID"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, invalid(op, "missing id")
	}
	if !ids.Valid(id) {
		return Account{}, accountNotFound(op)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.accounts()+` WHERE id = $1`,
		id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, accountNotFound(op)
		}
		return Account{}, err
	}
	return a, nil
}

// GetByEmail returns the account bound to the normalized email or NotFoundError.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.GetByEmail"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, invalid(op, "missing email")
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.accounts()+` WHERE email_norm = $1`,
		norm,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, accountNotFound(op)
		}
		return Account{}, err
	}
	return a, nil
}

// CreateGuest inserts a guest account.
func (s *PostgresStore) CreateGuest(ctx context.Context, in CreateGuestInput) (Account, error) {
	const op = "identity.CreateGuest"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}

	now := nowOrUTC(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	a := Account{
		ID:           id,
		DisplayName:  trimPtr(in.DisplayName),
		IsGuest:      true,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := s.insert(ctx, op, a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// CreateRegistered inserts a registered account.
func (s *PostgresStore) CreateRegistered(ctx context.Context, in CreateRegisteredInput) (Account, error) {
	const op = "identity.CreateRegistered"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	email, norm, err := validateCredentials(op, in.Email, in.PasswordHash)
	if err != nil {
		return Account{}, err
	}

	now := nowOrUTC(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	hash := in.PasswordHash
	a := Account{
		ID:           id,
		Email:        &email,
		EmailNorm:    &norm,
		PasswordHash: &hash,
		DisplayName:  trimPtr(in.DisplayName),
		IsGuest:      false,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := s.insert(ctx, op, a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// UpgradeGuest converts a guest account in place.
func (s *PostgresStore) UpgradeGuest(ctx context.Context, in UpgradeGuestInput) (Account, error) {
	const op = "identity.UpgradeGuest"

	if err := s.ready(ctx, op); err != nil {
		return Account{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return Account{}, invalid(op, "missing id")
	}
	email, norm, err := validateCredentials(op, in.Email, in.PasswordHash)
	if err != nil {
		return Account{}, err
	}
	now := nowOrUTC(in.Now)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Account{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	accounts := s.accounts()

	cur, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+accounts+` WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, accountNotFound(op)
		}
		return Account{}, err
	}
	if !cur.IsGuest {
		return Account{}, notGuest(op)
	}

	var taken bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+accounts+` WHERE email_norm = $1 AND id <> $2)`,
		norm, id,
	).Scan(&taken)
	if err != nil {
		return Account{}, err
	}
	if taken {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}

	displayName := cur.DisplayName
	if dn := trimPtr(in.DisplayName); dn != nil {
		displayName = dn
	}

	updated, err := scanAccount(tx.QueryRow(ctx,
		`UPDATE `+accounts+`
		    SET email = $2,
		        email_norm = $3,
		        password_hash = $4,
		        display_name = $5,
		        is_guest = FALSE,
		        last_active_at = GREATEST(last_active_at, $6)
		  WHERE id = $1
		    AND is_guest
		RETURNING `+accountColumns,
		id, email, norm, in.PasswordHash, displayName, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row lock makes this unreachable unless the row changed underneath us.
			return Account{}, notGuest(op)
		}
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return updated, nil
}

// Touch bumps last_active_at monotonically.
func (s *PostgresStore) Touch(ctx context.Context, id string, now time.Time) error {
	const op = "identity.Touch"

	if err := s.ready(ctx, op); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return invalid(op, "missing id")
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.accounts()+`
		    SET last_active_at = GREATEST(last_active_at, $2)
		  WHERE id = $1`,
		id, nowOrUTC(now),
	)
	return err
}

// ---- helpers ----

func (s *PostgresStore) ready(ctx context.Context, op string) error {
	if s == nil || s.pool == nil {
		return invalid(op, "nil store")
	}
	return ctx.Err()
}

func (s *PostgresStore) accounts() string {
	return pgIdent(s.schema, "accounts")
}

func (s *PostgresStore) insert(ctx context.Context, op string, a Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.accounts()+` (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID,
		a.Email,
		a.EmailNorm,
		a.PasswordHash,
		a.DisplayName,
		a.IsGuest,
		a.CreatedAt,
		a.LastActiveAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.EmailNorm,
		&a.PasswordHash,
		&a.DisplayName,
		&a.IsGuest,
		&a.CreatedAt,
		&a.LastActiveAt,
	)
	if err != nil {
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.LastActiveAt = a.LastActiveAt.UTC()
	return a, nil
}

// ValidSchemaIdent checks if a string is a safe Postgres identifier.
func ValidSchemaIdent(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch {
	case c == "uq_accounts_email_norm", strings.Contains(c, "email"):
		return "email", true
	case c == "accounts_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
