// Package store is the relational store layer (spec §4.B): the Postgres
// connection pool, transactional unit-of-work helper, and the primitives
// (SELECT ... FOR UPDATE SKIP LOCKED claiming, pg_advisory_lock) that the
// job runtime, outbox relay, and financial core all share.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Conn is satisfied by both *sql.DB and *sql.Tx, so repository code can be
// written once and run either outside or inside a transaction.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Placeholder renders the lib/pq positional bind-parameter syntax ($1, $2, ...).
func Placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

// DB wraps the pool and exposes primary/replica routing. Replica is a
// distinct *sql.DB only when a replica DSN was configured; otherwise it
// aliases Primary, so callers can always call DB.Replica() safely.
type DB struct {
	primary *sql.DB
	replica *sql.DB
}

// Config controls pool sizing. Defaults follow spec §5 (target 150
// connections for production).
type Config struct {
	PrimaryDSN     string
	ReplicaDSN     string // optional; empty means replica aliases primary
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxLifetime time.Duration
}

func defaults(cfg Config) Config {
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 150
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = cfg.MaxOpenConns / 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	return cfg
}

// Open establishes the primary (and optional replica) connection pools.
func Open(cfg Config) (*DB, error) {
	cfg = defaults(cfg)

	primary, err := sql.Open("postgres", cfg.PrimaryDSN)
	if err != nil {
		return nil, fmt.Errorf("store: open primary: %w", err)
	}
	primary.SetMaxOpenConns(cfg.MaxOpenConns)
	primary.SetMaxIdleConns(cfg.MaxIdleConns)
	primary.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	replica := primary
	if cfg.ReplicaDSN != "" {
		replica, err = sql.Open("postgres", cfg.ReplicaDSN)
		if err != nil {
			return nil, fmt.Errorf("store: open replica: %w", err)
		}
		replica.SetMaxOpenConns(cfg.MaxOpenConns)
		replica.SetMaxIdleConns(cfg.MaxIdleConns)
		replica.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &DB{primary: primary, replica: replica}, nil
}

// NewDB wraps an already-open *sql.DB, so tests can point repository code
// at a sqlmock connection without going through Open's real driver dial.
func NewDB(primary *sql.DB) *DB {
	return &DB{primary: primary, replica: primary}
}

// Primary returns the read/write pool. All writes and any read feeding a
// financial decision must use this.
func (d *DB) Primary() *sql.DB { return d.primary }

// Replica returns the read-only pool (aliases Primary when no replica DSN
// was configured). Only for read-only queries that explicitly tolerate
// replication lag (spec §5) — never the default.
func (d *DB) Replica() *sql.DB { return d.replica }

// Close closes both pools (a no-op twice if replica aliases primary).
func (d *DB) Close() error {
	if d.replica != d.primary {
		_ = d.replica.Close()
	}
	return d.primary.Close()
}

// Ping validates connectivity to the primary.
func (d *DB) Ping(ctx context.Context) error {
	return d.primary.PingContext(ctx)
}

// WithTx runs fn inside a transaction on the primary pool: begin, run,
// commit on success, rollback on error or panic. Financial transactions
// (spec §7) always roll back on any error inside their span.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := d.primary.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(ctx, tx)
	return err
}

// AdvisoryLock acquires a session-level Postgres advisory lock on a
// hashed key. It blocks until acquired. Callers must run it on a
// dedicated connection (via conn, obtained from sql.DB.Conn) so the lock
// and its eventual unlock observe the same backend.
func AdvisoryLock(ctx context.Context, conn *sql.Conn, key string) error {
	_, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key)
	return err
}

// AdvisoryUnlock releases a previously acquired advisory lock.
func AdvisoryUnlock(ctx context.Context, conn *sql.Conn, key string) error {
	_, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, key)
	return err
}

// TryAdvisoryLock attempts to acquire the lock without blocking, returning
// ok=false immediately if another session holds it. This is what backs
// "a second invocation returns immediately" (spec §4.E) for scheduled jobs.
func TryAdvisoryLock(ctx context.Context, conn *sql.Conn, key string) (ok bool, err error) {
	row := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key)
	err = row.Scan(&ok)
	return ok, err
}
