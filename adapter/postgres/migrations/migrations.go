// Package migrations bootstraps the sync metadata tables: client_state and
// sync_log via golang-migrate, the same migration runner theanswer42-bt-go
// and smartramana-developer-mesh use for their own schema bootstrap, and
// one sync_rows_<table> per registered table via plain SQL. This
// only migrates driftsync's own bookkeeping tables, never a consuming
// application's business schema — schema migration of user data remains
// a Non-goal per spec.md §1.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var fs embed.FS

// Apply runs every pending embedded migration against db, creating the
// driftsync bookkeeping tables (client_state, sync_log) and, for each
// name in tables, a sync_rows_<name> JSONB row store.
func Apply(db *sql.DB, tables []string) error {
	if err := applyCore(db); err != nil {
		return err
	}
	return applyTableRows(db, tables)
}

func applyCore(db *sql.DB) error {
	src, err := iofs.New(fs, "sql")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("new migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply core migrations: %w", err)
	}
	return nil
}

// applyTableRows creates the per-table row store, idempotently. These are
// dynamically named from the caller's registered tables, so they aren't
// expressed as static golang-migrate migration files.
func applyTableRows(db *sql.DB, tables []string) error {
	for _, t := range tables {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sync_rows_%s (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			client_id TEXT,
			is_deleted BOOLEAN NOT NULL DEFAULT false
		)`, t)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create row table for %s: %w", t, err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS sync_rows_%s_updated_at_idx ON sync_rows_%s (updated_at)`, t, t)
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create updated_at index for %s: %w", t, err)
		}
	}
	return nil
}
