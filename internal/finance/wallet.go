package finance

import (
	"context"
	"database/sql"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ocx/opscore/internal/audit"
	"github.com/ocx/opscore/internal/outbox"
	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/store/money"
	"github.com/ocx/opscore/internal/tenant"
)

// CommissionShare is one assignee's cut of a completed task.
type CommissionShare struct {
	UserID string
	Amount decimal.Decimal
}

// LockWalletsInOrder sorts userIDs lexicographically and issues SELECT
// ... FOR UPDATE on each wallet in that order, preventing deadlock when
// concurrent operations touch overlapping user sets (spec §4.E). Missing
// wallets are silently skipped — callers that require every user to have
// a wallet should check the returned map's length.
func LockWalletsInOrder(ctx context.Context, tx *sql.Tx, tenantID string, userIDs []string) (map[string]EmployeeWallet, error) {
	ordered := append([]string(nil), userIDs...)
	sort.Strings(ordered)

	wallets := make(map[string]EmployeeWallet, len(ordered))
	for _, uid := range ordered {
		row := tx.QueryRowContext(ctx, `
			SELECT tenant_id, id, user_id, pending_balance, payable_balance
			FROM employee_wallets
			WHERE tenant_id = $1 AND user_id = $2
			FOR UPDATE`, tenantID, uid)
		w, err := scanWallet(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		wallets[uid] = w
	}
	return wallets, nil
}

func scanWallet(row interface{ Scan(dest ...any) error }) (EmployeeWallet, error) {
	var (
		w           EmployeeWallet
		pending     string
		payable     string
	)
	if err := row.Scan(&w.TenantID, &w.ID, &w.UserID, &pending, &payable); err != nil {
		return EmployeeWallet{}, err
	}
	var err error
	if w.PendingBalance, err = money.Parse(pending, money.Amount); err != nil {
		return EmployeeWallet{}, err
	}
	if w.PayableBalance, err = money.Parse(payable, money.Amount); err != nil {
		return EmployeeWallet{}, err
	}
	return w, nil
}

// AccrueCommission credits each share's pending_balance and writes a
// COMMISSION transaction linked to the task, all within the task-
// completion transaction. lockTask takes the FOR UPDATE lock on the
// external Task row (task ownership lives outside this core; see the
// bookings/tasks collaborator boundary) before any wallet is touched, so
// two concurrent completions of the same task can't double-accrue.
func AccrueCommission(ctx context.Context, db *store.DB, chain *audit.Chain, taskID string,
	lockTask func(ctx context.Context, tx *sql.Tx) error, shares []CommissionShare) error {
	tid, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockTask(ctx, tx); err != nil {
			return err
		}
		userIDs := make([]string, len(shares))
		for i, s := range shares {
			userIDs[i] = s.UserID
		}
		wallets, err := LockWalletsInOrder(ctx, tx, tid, userIDs)
		if err != nil {
			return err
		}
		for _, s := range shares {
			w, ok := wallets[s.UserID]
			if !ok {
				continue
			}
			w.PendingBalance = w.PendingBalance.Add(s.Amount)
			if _, err := tx.ExecContext(ctx, `
				UPDATE employee_wallets SET pending_balance = $3
				WHERE tenant_id = $1 AND id = $2`,
				tid, w.ID, money.Wire(w.PendingBalance, money.Amount)); err != nil {
				return err
			}

			taskIDCopy := taskID
			txnID := uuid.NewString()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO transactions
					(tenant_id, id, type, amount, currency, exchange_rate, category,
					 task_id, description, transaction_date, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())`,
				tid, txnID, string(TransactionCommission), money.Wire(s.Amount, money.Amount),
				"", money.Wire(decimal.NewFromInt(1), money.ExchangeRate), "commission",
				&taskIDCopy, "commission accrual"); err != nil {
				return err
			}
			if err := outbox.Emit(ctx, tx, tid, "task", taskID, "commission.accrued", map[string]any{
				"user_id": s.UserID, "amount": s.Amount.String(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// TransferPendingToPayable moves userIDs' pending commission balances to
// payable when a booking settles, batching all affected wallets in one
// transaction under LockWalletsInOrder's deadlock-avoidance ordering
// (spec §4.E).
func TransferPendingToPayable(ctx context.Context, db *store.DB, bookingID string, userIDs []string) error {
	tid, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		wallets, err := LockWalletsInOrder(ctx, tx, tid, userIDs)
		if err != nil {
			return err
		}
		for _, uid := range userIDs {
			w, ok := wallets[uid]
			if !ok {
				continue
			}
			amount := w.PendingBalance
			if amount.IsZero() {
				continue
			}
			w.PendingBalance = decimal.Zero
			w.PayableBalance = w.PayableBalance.Add(amount)
			if _, err := tx.ExecContext(ctx, `
				UPDATE employee_wallets SET pending_balance = $3, payable_balance = $4
				WHERE tenant_id = $1 AND id = $2`,
				tid, w.ID, money.Wire(w.PendingBalance, money.Amount), money.Wire(w.PayableBalance, money.Amount)); err != nil {
				return err
			}
		}
		return outbox.Emit(ctx, tx, tid, "booking", bookingID, "booking.settled", map[string]any{"user_ids": userIDs})
	})
}
