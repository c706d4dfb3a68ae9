package finance

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/outbox"
	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/store/money"
	"github.com/ocx/opscore/internal/tenant"
)

// CreatePayoutInput mirrors createPayout({userId, amount, idempotencyKey})
// from spec §4.E. The caller computes a stable IdempotencyKey, e.g.
// "payout:" + wallet.id + ":" + amount + ":" + periodKey.
type CreatePayoutInput struct {
	UserID         string
	Amount         decimal.Decimal
	IdempotencyKey string
	Notes          string
}

// CreatePayout takes a FOR UPDATE lock on the user's wallet, asserts
// sufficient payable balance, inserts a PENDING payout row (whose unique
// idempotency_key constraint is the primary defense against duplicates),
// decrements the wallet, records a PAYROLL transaction, and emits
// payout.created — all in one transaction.
func CreatePayout(ctx context.Context, db *store.DB, in CreatePayoutInput) (Payout, error) {
	tid, err := tenant.Require(ctx)
	if err != nil {
		return Payout{}, err
	}

	var payout Payout
	err = db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		p, err := createPayoutTx(ctx, tx, tid, in)
		if err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	return payout, nil
}

// createPayoutTx is CreatePayout's body, factored out so a caller that
// already owns a transaction (processPayrollBatch, committing a batch of
// up to 100 as one unit per spec §4.E) can drive several payouts through
// it without each one opening its own WithTx.
func createPayoutTx(ctx context.Context, tx *sql.Tx, tid string, in CreatePayoutInput) (Payout, error) {
	if in.Amount.IsNegative() || in.Amount.IsZero() {
		return Payout{}, apierr.Validation("payout amount must be positive")
	}

	row := tx.QueryRowContext(ctx, `
		SELECT tenant_id, id, user_id, pending_balance, payable_balance
		FROM employee_wallets
		WHERE tenant_id = $1 AND user_id = $2
		FOR UPDATE`, tid, in.UserID)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payout{}, apierr.NotFound("wallet for user %s not found", in.UserID)
		}
		return Payout{}, err
	}
	if in.Amount.GreaterThan(wallet.PayableBalance) {
		return Payout{}, apierr.FinancialInvariantViolation("insufficient payable balance: have %s, requested %s",
			wallet.PayableBalance, in.Amount)
	}

	payout := Payout{
		ID:             uuid.NewString(),
		TenantID:       tid,
		UserID:         in.UserID,
		Amount:         in.Amount,
		Status:         PayoutPending,
		IdempotencyKey: in.IdempotencyKey,
		Notes:          in.Notes,
		PayoutDate:     time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := insertPayout(ctx, tx, payout); err != nil {
		if isUniqueViolation(err) {
			return Payout{}, apierr.Conflict("payout with idempotency key %q already exists", in.IdempotencyKey)
		}
		return Payout{}, err
	}

	newPayable := wallet.PayableBalance.Sub(in.Amount)
	if _, err := tx.ExecContext(ctx, `
		UPDATE employee_wallets SET payable_balance = $3
		WHERE tenant_id = $1 AND id = $2`,
		tid, wallet.ID, money.Wire(newPayable, money.Amount)); err != nil {
		return Payout{}, err
	}

	// Amount is stored positive so sum(transactions.payout_id = p.id) == p.amount.
	txn := Transaction{
		ID:              uuid.NewString(),
		TenantID:        tid,
		Type:            TransactionPayroll,
		Amount:          in.Amount,
		Currency:        "",
		ExchangeRate:    decimal.NewFromInt(1),
		Category:        "payroll",
		PayoutID:        &payout.ID,
		Description:     "payout " + payout.ID,
		TransactionDate: payout.PayoutDate,
		CreatedAt:       time.Now().UTC(),
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return Payout{}, err
	}

	if err := outbox.Emit(ctx, tx, tid, "payout", payout.ID, "payout.created", payout); err != nil {
		return Payout{}, err
	}
	return payout, nil
}

func insertPayout(ctx context.Context, conn store.Conn, p Payout) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO payouts
			(tenant_id, id, user_id, amount, status, idempotency_key, gateway_reference,
			 notes, payout_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.TenantID, p.ID, p.UserID, money.Wire(p.Amount, money.Amount), string(p.Status),
		p.IdempotencyKey, p.GatewayReference, p.Notes, p.PayoutDate, p.CreatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

// PayoutGateway is the external payment-rail collaborator (out of scope
// per the spec's Non-goals beyond this contract): Send attempts the
// disbursement and returns a gateway reference on success.
type PayoutGateway interface {
	Send(ctx context.Context, payout Payout) (gatewayReference string, err error)
}

// ProcessPendingPayouts reads PENDING payouts for tenantID and invokes
// gateway for each; on success marks COMPLETED with the gateway
// reference, on terminal failure marks FAILED and refunds
// payable_balance (spec §4.E). Intended to run as a job handler, one
// tenant pass at a time.
func ProcessPendingPayouts(ctx context.Context, db *store.DB, gateway PayoutGateway, tenantID string, limit int) error {
	rows, err := db.Primary().QueryContext(ctx, `
		SELECT tenant_id, id, user_id, amount, status, idempotency_key, gateway_reference,
		       notes, payout_date, created_at
		FROM payouts
		WHERE tenant_id = $1 AND status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return err
	}
	var payouts []Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			rows.Close()
			return err
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, p := range payouts {
		ref, sendErr := gateway.Send(ctx, p)
		if sendErr == nil {
			_, err := db.Primary().ExecContext(ctx, `
				UPDATE payouts SET status = 'COMPLETED', gateway_reference = $3
				WHERE tenant_id = $1 AND id = $2`, p.TenantID, p.ID, ref)
			if err != nil {
				return err
			}
			continue
		}

		if err := refundFailedPayout(ctx, db, p); err != nil {
			return err
		}
	}
	return nil
}

// PayoutByGatewayReference resolves the tenant a gateway's asynchronous
// webhook callback belongs to by its gateway_reference, since the
// webhook body itself is never a trusted source of tenant identity.
func PayoutByGatewayReference(ctx context.Context, db *store.DB, gatewayReference string) (Payout, error) {
	row := db.Primary().QueryRowContext(ctx, `
		SELECT tenant_id, id, user_id, amount, status, idempotency_key, gateway_reference,
		       notes, payout_date, created_at
		FROM payouts WHERE gateway_reference = $1`, gatewayReference)
	return scanPayout(row)
}

// ApplyGatewayCallback applies a provider's asynchronous delivery outcome
// to the payout it refers to. A failure past the initial attempt refunds
// the wallet the same way ProcessPendingPayouts does for a synchronous
// failure.
func ApplyGatewayCallback(ctx context.Context, db *store.DB, gatewayReference string, succeeded bool) error {
	p, err := PayoutByGatewayReference(ctx, db, gatewayReference)
	if err != nil {
		return err
	}
	if p.Status != PayoutPending {
		return nil // already resolved; webhook callbacks may be redelivered
	}
	if succeeded {
		_, err := db.Primary().ExecContext(ctx, `
			UPDATE payouts SET status = 'COMPLETED' WHERE tenant_id = $1 AND id = $2`,
			p.TenantID, p.ID)
		return err
	}
	return refundFailedPayout(ctx, db, p)
}

func refundFailedPayout(ctx context.Context, db *store.DB, p Payout) error {
	return db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE payouts SET status = 'FAILED' WHERE tenant_id = $1 AND id = $2`,
			p.TenantID, p.ID); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			SELECT tenant_id, id, user_id, pending_balance, payable_balance
			FROM employee_wallets
			WHERE tenant_id = $1 AND user_id = $2
			FOR UPDATE`, p.TenantID, p.UserID)
		wallet, err := scanWallet(row)
		if err != nil {
			return err
		}
		refunded := wallet.PayableBalance.Add(p.Amount)
		_, err = tx.ExecContext(ctx, `
			UPDATE employee_wallets SET payable_balance = $3
			WHERE tenant_id = $1 AND id = $2`,
			p.TenantID, wallet.ID, money.Wire(refunded, money.Amount))
		return err
	})
}

func scanPayout(row interface{ Scan(dest ...any) error }) (Payout, error) {
	var (
		p                         Payout
		amount                    string
		gatewayRef                sql.NullString
	)
	if err := row.Scan(&p.TenantID, &p.ID, &p.UserID, &amount, &p.Status, &p.IdempotencyKey,
		&gatewayRef, &p.Notes, &p.PayoutDate, &p.CreatedAt); err != nil {
		return Payout{}, err
	}
	var err error
	if p.Amount, err = money.Parse(amount, money.Amount); err != nil {
		return Payout{}, err
	}
	if gatewayRef.Valid {
		p.GatewayReference = &gatewayRef.String
	}
	return p, nil
}
