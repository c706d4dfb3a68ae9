package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ClaimBatch runs a SELECT ... FOR UPDATE SKIP LOCKED over table, scanning
// up to limit rows with scan, inside its own transaction, then applies
// markClaimed within the same transaction before committing. The job
// runtime's Worker is built on this (the outbox relay runs its own claim
// query instead): the poller claims a batch, processes it outside the
// lock, and reports success/failure back
// through a second, separate statement rather than holding the
// transaction open for the duration of the work.
//
// orderBy should reference a column that gives FIFO-ish fairness (e.g.
// "created_at"); whereSQL/whereArgs scope the claim (e.g. to a queue name
// or ready-to-run predicate) and may be empty.
func ClaimBatch[T any](
	ctx context.Context,
	db *sql.DB,
	table string,
	columns []string,
	whereSQL string,
	whereArgs []any,
	orderBy string,
	limit int,
	scan func(row *sql.Rows) (T, error),
	markClaimed func(ctx context.Context, tx *sql.Tx, claimed []T) error,
) ([]T, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: claim: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op once committed
	}()

	query := fmt.Sprintf("SELECT %s FROM %s", columnList(columns), table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	query += fmt.Sprintf(" LIMIT %d FOR UPDATE SKIP LOCKED", limit)

	rows, err := tx.QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return nil, fmt.Errorf("store: claim: select: %w", err)
	}
	var claimed []T
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: claim: scan: %w", err)
		}
		claimed = append(claimed, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(claimed) == 0 {
		return nil, tx.Commit()
	}
	if err := markClaimed(ctx, tx, claimed); err != nil {
		return nil, fmt.Errorf("store: claim: mark: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: claim: commit: %w", err)
	}
	return claimed, nil
}

func columnList(columns []string) string {
	out := columns[0]
	for _, c := range columns[1:] {
		out += ", " + c
	}
	return out
}
