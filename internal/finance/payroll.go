package finance

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/audit"
	"github.com/ocx/opscore/internal/finance/advisory"
	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/tenant"
)

const payrollBatchSize = 100

// PayrollProfile is the minimal view scheduled payroll needs of an HR
// profile (profiles themselves are an external collaborator per the
// bookings/catalog/HR-profile boundary; only baseSalary crosses in).
type PayrollProfile struct {
	UserID     string
	BaseSalary decimal.Decimal
}

// ProfileSource paginates a tenant's payroll-eligible profiles.
type ProfileSource interface {
	ListProfiles(ctx context.Context, tenantID string, offset, limit int) ([]PayrollProfile, error)
}

// payrollRunResult is the aggregate outcome of one RunScheduledPayroll
// invocation, for the top-level PAYROLL_RUN audit event (spec §4.E).
type payrollRunResult struct {
	Created int `json:"created"`
	Skipped int `json:"idempotentSkipped"`
}

// RunScheduledPayroll is the end-of-month cron trigger (spec §4.E):
// guarded by a distributed advisory lock keyed payroll:<tenant_id> so a
// second concurrent invocation for the same tenant returns immediately.
// yearMonth (e.g. "2026-07") makes each profile's idempotency key unique
// per run period, so a retry within the same month is a uniqueness-
// constraint no-op rather than relying on any notes-text matching. After
// a run that completes without error, a single top-level PAYROLL_RUN
// audit entry records the aggregate outcome, including the
// all-idempotent-skip case of a plain re-run; a run that returns an error
// logs no entry.
func RunScheduledPayroll(ctx context.Context, db *store.DB, chain *audit.Chain, profiles ProfileSource, tenantID, yearMonth string) (ran bool, err error) {
	lockKey := "payroll:" + tenantID
	result := payrollRunResult{}
	ran, err = advisory.TryRun(ctx, db.Primary(), lockKey, func(ctx context.Context) error {
		ctx = tenant.With(ctx, tenantID, "", "")
		offset := 0
		for {
			batch, err := profiles.ListProfiles(ctx, tenantID, offset, payrollBatchSize)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			if err := processPayrollBatch(ctx, db, tenantID, yearMonth, batch, &result); err != nil {
				return err
			}
			if len(batch) < payrollBatchSize {
				return nil
			}
			offset += payrollBatchSize
		}
	})
	if err != nil {
		return ran, err
	}
	if ran && chain != nil {
		chain.Log(ctx, audit.Entry{
			TenantID:   tenantID,
			Action:     "PAYROLL_RUN",
			EntityName: "payroll",
			EntityID:   tenantID + ":" + yearMonth,
			NewValues: map[string]any{
				"yearMonth": yearMonth,
				"created":   result.Created,
				"skipped":   result.Skipped,
			},
		})
	}
	return ran, nil
}

// processPayrollBatch runs an entire batch of up to payrollBatchSize
// payouts in one transaction (spec §4.E: "batches of 100 per
// transaction"), so a failure partway through rolls the whole batch
// back rather than leaving earlier payouts committed.
func processPayrollBatch(ctx context.Context, db *store.DB, tenantID, yearMonth string, batch []PayrollProfile, result *payrollRunResult) error {
	return db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for i, profile := range batch {
			wallet, err := fetchWalletTx(ctx, tx, tenantID, profile.UserID)
			if err != nil {
				return err
			}
			amount := profile.BaseSalary.Add(wallet.PayableBalance)
			if amount.IsZero() {
				continue
			}

			// Each payout runs under its own savepoint: an idempotency-key
			// conflict rolls back to it rather than aborting the batch's
			// outer transaction, so the rest of the batch can still commit.
			savepoint := fmt.Sprintf("payout_%d", i)
			if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
				return err
			}

			key := fmt.Sprintf("payroll:%s:%s:%s", tenantID, profile.UserID, yearMonth)
			_, err = createPayoutTx(ctx, tx, tenantID, CreatePayoutInput{
				UserID:         profile.UserID,
				Amount:         amount,
				IdempotencyKey: key,
				Notes:          "scheduled payroll " + yearMonth,
			})
			if err != nil {
				if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindConflict {
					if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
						return rbErr
					}
					result.Skipped++
					continue // idempotent retry: already ran for this period
				}
				return err
			}
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
				return err
			}
			result.Created++
		}
		return nil
	})
}

func fetchWalletTx(ctx context.Context, tx *sql.Tx, tenantID, userID string) (EmployeeWallet, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT tenant_id, id, user_id, pending_balance, payable_balance
		FROM employee_wallets WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	return scanWallet(row)
}
