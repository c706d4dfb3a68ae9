package finance

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ocx/opscore/internal/store"
)

func TestApplyGatewayCallback_Success_MarksCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, amount, status, idempotency_key, gateway_reference,\s*notes, payout_date, created_at\s*FROM payouts WHERE gateway_reference = \$1`).
		WithArgs("gw-ref-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "id", "user_id", "amount", "status", "idempotency_key",
			"gateway_reference", "notes", "payout_date", "created_at",
		}).AddRow("tenant-1", "payout-1", "user-1", "100.00", string(PayoutPending), "idem-1", "gw-ref-1", "", now, now))

	mock.ExpectExec(`UPDATE payouts SET status = 'COMPLETED' WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "payout-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ApplyGatewayCallback(t.Context(), store.NewDB(db), "gw-ref-1", true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyGatewayCallback_AlreadyResolved_IsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, amount, status, idempotency_key, gateway_reference,\s*notes, payout_date, created_at\s*FROM payouts WHERE gateway_reference = \$1`).
		WithArgs("gw-ref-2").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "id", "user_id", "amount", "status", "idempotency_key",
			"gateway_reference", "notes", "payout_date", "created_at",
		}).AddRow("tenant-1", "payout-2", "user-1", "50.00", string(PayoutCompleted), "idem-2", "gw-ref-2", "", now, now))

	// Redelivered webhook for an already-COMPLETED payout must not issue
	// any further write.
	err = ApplyGatewayCallback(t.Context(), store.NewDB(db), "gw-ref-2", true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyGatewayCallback_Failure_RefundsWallet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, amount, status, idempotency_key, gateway_reference,\s*notes, payout_date, created_at\s*FROM payouts WHERE gateway_reference = \$1`).
		WithArgs("gw-ref-3").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "id", "user_id", "amount", "status", "idempotency_key",
			"gateway_reference", "notes", "payout_date", "created_at",
		}).AddRow("tenant-1", "payout-3", "user-1", "75.00", string(PayoutPending), "idem-3", "gw-ref-3", "", now, now))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payouts SET status = 'FAILED' WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "payout-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, pending_balance, payable_balance\s*FROM employee_wallets\s*WHERE tenant_id = \$1 AND user_id = \$2\s*FOR UPDATE`).
		WithArgs("tenant-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id", "user_id", "pending_balance", "payable_balance"}).
			AddRow("tenant-1", "wallet-1", "user-1", "0.00", "200.00"))
	mock.ExpectExec(`UPDATE employee_wallets SET payable_balance = \$3\s*WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "wallet-1", "275.00").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = ApplyGatewayCallback(t.Context(), store.NewDB(db), "gw-ref-3", false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
