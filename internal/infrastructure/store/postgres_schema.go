package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const migrationsTable = "cart_schema_migrations"

type migration struct {
	Version     int
	Description string
	Statement   string // %[1]s is the quoted table name, %[2]s the bare table name
}

// Migrations are additive: each version only creates what is missing and never
// drops or rewrites existing records.
var postgresMigrations = []migration{
	{
		Version:     1,
		Description: "create line item table",
		Statement: `CREATE TABLE IF NOT EXISTS %[1]s (
			id             TEXT PRIMARY KEY,
			namespace      TEXT NOT NULL,
			product_id     TEXT NOT NULL DEFAULT '',
			sub_product_id TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			image          TEXT NOT NULL DEFAULT '',
			quantity       INTEGER NOT NULL CHECK (quantity >= 1),
			size           TEXT NOT NULL DEFAULT '',
			shape          TEXT NOT NULL DEFAULT '',
			added_at       TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`,
	},
	{
		Version:     2,
		Description: "index line items by sub product",
		Statement:   `CREATE INDEX IF NOT EXISTS %[2]s_sub_product_idx ON %[1]s (namespace, sub_product_id)`,
	},
	{
		Version:     3,
		Description: "index line items by added time",
		Statement:   `CREATE INDEX IF NOT EXISTS %[2]s_added_at_idx ON %[1]s (namespace, added_at)`,
	},
}

// SchemaVersion is the latest migration version known to this build.
func SchemaVersion() int {
	return postgresMigrations[len(postgresMigrations)-1].Version
}

func renderMigration(m migration, table string) string {
	return fmt.Sprintf(m.Statement, pq.QuoteIdentifier(table), table)
}

// Migrate brings the line item table up to SchemaVersion and returns the
// versions it applied.
func Migrate(ctx context.Context, db *sql.DB, table string) ([]int, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", migrationsTable); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
		store       TEXT NOT NULL,
		version     INTEGER NOT NULL,
		description TEXT NOT NULL,
		applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (store, version)
	)`); err != nil {
		return nil, fmt.Errorf("create %s: %w", migrationsTable, err)
	}

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM `+migrationsTable+` WHERE store = $1`,
		table,
	).Scan(&current); err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	applied := pendingMigrations(current)
	for _, m := range applied {
		if _, err := tx.ExecContext(ctx, renderMigration(m, table)); err != nil {
			return nil, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+migrationsTable+` (store, version, description) VALUES ($1, $2, $3)`,
			table, m.Version, m.Description,
		); err != nil {
			return nil, fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	versions := make([]int, 0, len(applied))
	for _, m := range applied {
		versions = append(versions, m.Version)
	}
	return versions, nil
}

func pendingMigrations(current int) []migration {
	var pending []migration
	for _, m := range postgresMigrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	return pending
}
