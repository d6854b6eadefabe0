// Package migrations embeds the splitbill schema and applies it with goose.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// FS holds the versioned SQL files.
//
//go:embed *.sql
var FS embed.FS

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Up creates schema if needed and applies every pending migration inside it.
//
// Migrations use unqualified names; they run on a dedicated connection whose
// search_path is pinned to schema, so the pool itself is left untouched.
// The goose version table lives in the same schema.
func Up(ctx context.Context, pool *pgxpool.Pool, schema string, log *slog.Logger) error {
	if pool == nil {
		return errors.New("migrations: nil pool")
	}
	if !schemaRe.MatchString(schema) {
		return fmt.Errorf("migrations: invalid schema identifier %q", schema)
	}
	if log == nil {
		log = slog.Default()
	}

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("migrations: create schema: %w", err)
	}

	cc := pool.Config().ConnConfig.Copy()
	if cc.RuntimeParams == nil {
		cc.RuntimeParams = map[string]string{}
	}
	cc.RuntimeParams["search_path"] = schema

	db := stdlib.OpenDB(*cc)
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, FS)
	if err != nil {
		return fmt.Errorf("migrations: provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	for _, r := range results {
		log.Info("db.migrate.applied",
			"schema", schema,
			"version", r.Source.Version,
			"duration_ms", r.Duration.Milliseconds(),
		)
	}
	return nil
}
