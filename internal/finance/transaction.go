package finance

import (
	"context"
	"database/sql"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/audit"
	"github.com/ocx/opscore/internal/outbox"
	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/store/money"
	"github.com/ocx/opscore/internal/tenant"
)

var refundOrReversal = regexp.MustCompile(`(?i)refund|reversal`)

// CreateTransactionInput is the caller-supplied half of a Transaction.
type CreateTransactionInput struct {
	Type            TransactionType
	Amount          decimal.Decimal
	Currency        string
	BookingID       *string
	TaskID          *string
	PayoutID        *string
	Category        string
	Description     string
	TransactionDate time.Time
}

// validate enforces the single invariant spec.md §3 states on Transaction:
// a negative amount is permitted only for INCOME with either a booking id
// or a refund/reversal category.
func (in CreateTransactionInput) validate() error {
	if in.Amount.IsNegative() {
		if in.Type != TransactionIncome {
			return apierr.FinancialInvariantViolation("negative amount only permitted for INCOME transactions")
		}
		if in.BookingID == nil && !refundOrReversal.MatchString(in.Category) {
			return apierr.FinancialInvariantViolation(
				"negative INCOME amount requires a booking_id or a refund/reversal category")
		}
	}
	if _, err := money.Parse(in.Amount.StringFixed(money.Amount.Scale), money.Amount); err != nil {
		return apierr.Validation("amount: %v", err)
	}
	return nil
}

// CreateTransaction inserts a Transaction, resolves its exchange rate,
// and emits a transaction.created outbox event, all within one
// transaction (spec §4.E). It never updates an existing transaction.
func CreateTransaction(ctx context.Context, db *store.DB, rates ExchangeRateLookup, chain *audit.Chain, in CreateTransactionInput) (Transaction, error) {
	tid, err := tenant.Require(ctx)
	if err != nil {
		return Transaction{}, err
	}
	if err := in.validate(); err != nil {
		return Transaction{}, err
	}

	var txn Transaction
	err = db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rate, err := rates.Lookup(ctx, tx, tid, in.Currency, in.TransactionDate)
		if err != nil {
			return err
		}

		txn = Transaction{
			ID:              uuid.NewString(),
			TenantID:        tid,
			Type:            in.Type,
			Amount:          in.Amount,
			Currency:        in.Currency,
			ExchangeRate:    rate,
			Category:        in.Category,
			BookingID:       in.BookingID,
			TaskID:          in.TaskID,
			PayoutID:        in.PayoutID,
			Description:     in.Description,
			TransactionDate: in.TransactionDate,
			CreatedAt:       time.Now().UTC(),
		}
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		if err := outbox.Emit(ctx, tx, tid, "transaction", txn.ID, "transaction.created", txn); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}

	if chain != nil {
		chain.Log(ctx, audit.Entry{
			TenantID:   tid,
			Action:     "transaction.created",
			EntityName: "transaction",
			EntityID:   txn.ID,
			NewValues:  map[string]any{"type": txn.Type, "amount": txn.Amount.String(), "currency": txn.Currency},
		})
	}
	return txn, nil
}

func insertTransaction(ctx context.Context, conn store.Conn, t Transaction) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO transactions
			(tenant_id, id, type, amount, currency, exchange_rate, category,
			 booking_id, task_id, payout_id, description, transaction_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.TenantID, t.ID, string(t.Type), money.Wire(t.Amount, money.Amount), t.Currency,
		money.Wire(t.ExchangeRate, money.ExchangeRate), t.Category, t.BookingID, t.TaskID,
		t.PayoutID, t.Description, t.TransactionDate, t.CreatedAt)
	return err
}

// ExchangeRateLookup resolves a currency's rate against the tenant's base
// currency on a given date, falling through to the most recent known
// rate per spec §4.E.
type ExchangeRateLookup interface {
	Lookup(ctx context.Context, conn store.Conn, tenantID, currency string, asOf time.Time) (decimal.Decimal, error)
}

// PostgresRateLookup reads the exchange_rates table.
type PostgresRateLookup struct{}

func (PostgresRateLookup) Lookup(ctx context.Context, conn store.Conn, tenantID, currency string, asOf time.Time) (decimal.Decimal, error) {
	row := conn.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE tenant_id = $1 AND currency = $2 AND as_of <= $3
		ORDER BY as_of DESC LIMIT 1`, tenantID, currency, asOf)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Decimal{}, apierr.NotFound("no exchange rate known for %s as of %s", currency, asOf.Format("2006-01-02"))
		}
		return decimal.Decimal{}, err
	}
	return money.Parse(raw, money.ExchangeRate)
}
