// Package migrations embeds the forward/backward SQL migrations and runs
// them through golang-migrate (spec §4.B). Migrations are strictly
// forward/backward; additive-then-backfill-then-tighten sequencing is used
// whenever a column moves from nullable to a NOT NULL + unique constraint
// (see the payout idempotency_key migrations).
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var fsys embed.FS

// CanonicalUUID matches the canonical 8-4-4-4-12 hex UUID form. Historical
// schema baselines backfilling legacy string tenant identifiers into a
// uuid-typed column validate against this before altering the column type
// (spec §4.B) — any row whose legacy tenant_id fails this match must be
// fixed by hand before the type change, never coerced.
var CanonicalUUID = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Up applies all pending migrations.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back all migrations. Used only by test fixtures and local
// teardown scripts, never by the running service.
func Down(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: postgres driver: %w", err)
	}
	src, err := iofs.New(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: new: %w", err)
	}
	return m, nil
}
