package finance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ocx/opscore/internal/audit"
	"github.com/ocx/opscore/internal/finance/advisory"
	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/store/money"
	"github.com/ocx/opscore/internal/tenant"
)

// ProcessRecurringTransactions runs the due RecurringTransactionRule
// postings for tenantID under a recurring:<tenant_id> advisory lock. Each
// due rule is posted through CreateTransaction — never a special-cased
// insert — so it inherits exchange-rate lookup, outbox emission, and
// audit enqueue for free.
func ProcessRecurringTransactions(ctx context.Context, db *store.DB, rates ExchangeRateLookup, chain *audit.Chain, tenantID string) (ran bool, err error) {
	lockKey := "recurring:" + tenantID
	return advisory.TryRun(ctx, db.Primary(), lockKey, func(ctx context.Context) error {
		ctx = tenant.With(ctx, tenantID, "", "")
		rules, err := dueRecurringRules(ctx, db, tenantID)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if _, err := CreateTransaction(ctx, db, rates, chain, CreateTransactionInput{
				Type:            rule.Type,
				Amount:          rule.Amount,
				Currency:        rule.Currency,
				Category:        rule.Category,
				Description:     rule.Description,
				TransactionDate: time.Now().UTC(),
			}); err != nil {
				return err
			}
			if err := advanceRecurringRule(ctx, db, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

func dueRecurringRules(ctx context.Context, db *store.DB, tenantID string) ([]RecurringTransactionRule, error) {
	rows, err := db.Primary().QueryContext(ctx, `
		SELECT tenant_id, id, type, amount, currency, category, description, cron_expr,
		       next_run_at, active
		FROM recurring_transaction_rules
		WHERE tenant_id = $1 AND active = true AND next_run_at <= now()
		ORDER BY next_run_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecurringTransactionRule
	for rows.Next() {
		r, err := scanRecurringRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecurringRule(row interface{ Scan(dest ...any) error }) (RecurringTransactionRule, error) {
	var (
		r      RecurringTransactionRule
		amount string
	)
	if err := row.Scan(&r.TenantID, &r.ID, &r.Type, &amount, &r.Currency, &r.Category,
		&r.Description, &r.CronExpr, &r.NextRunAt, &r.Active); err != nil {
		return RecurringTransactionRule{}, err
	}
	var err error
	if r.Amount, err = money.Parse(amount, money.Amount); err != nil {
		return RecurringTransactionRule{}, err
	}
	return r, nil
}

// advanceRecurringRule computes the rule's next occurrence from its cron
// expression and persists it, so a rule never fires twice for the same
// period.
func advanceRecurringRule(ctx context.Context, db *store.DB, rule RecurringTransactionRule) error {
	next, err := NextCronOccurrence(rule.CronExpr, rule.NextRunAt)
	if err != nil {
		return err
	}
	_, err = db.Primary().ExecContext(ctx, `
		UPDATE recurring_transaction_rules SET next_run_at = $3
		WHERE tenant_id = $1 AND id = $2`, rule.TenantID, rule.ID, next)
	return err
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextCronOccurrence returns the next time expr fires strictly after
// after, using the standard five-field cron syntax (robfig/cron), the
// same parser the job scheduler uses for its own triggers.
func NextCronOccurrence(expr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}
