package tenant

import (
	"context"
	"database/sql"
)

// ActiveIDs lists every tenant with status = 'active', for scheduled jobs
// (payroll, recurring transactions, payout dispatch) that must fan out
// per-tenant rather than run once globally — each tenant's run still
// takes its own advisory lock, so this is just the set to iterate.
func ActiveIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM tenants WHERE status = 'active'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
