// Package advisory is the shared distributed-lock helper used by payroll,
// recurring-transaction processing, and the cron scheduler's distributed
// jobs (spec §5); the outbox relay takes its lock through internal/store
// directly. It is a
// thin policy wrapper around internal/store's pg_advisory_lock
// primitives that implements "a second invocation returns immediately."
package advisory

import (
	"context"
	"database/sql"

	"github.com/ocx/opscore/internal/store"
)

// TryRun attempts key under a non-blocking advisory lock. If another
// replica already holds it, ran is false and fn does not run — no error,
// since a concurrent holder is the expected steady state, not a failure.
func TryRun(ctx context.Context, db *sql.DB, key string, fn func(ctx context.Context) error) (ran bool, err error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	ok, err := store.TryAdvisoryLock(ctx, conn, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() { _ = store.AdvisoryUnlock(ctx, conn, key) }()

	return true, fn(ctx)
}
