package finance

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/tenant"
)

func TestCreatePayout_RecordsTransactionAtThePositivePayoutAmount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, pending_balance, payable_balance\s*FROM employee_wallets\s*WHERE tenant_id = \$1 AND user_id = \$2\s*FOR UPDATE`).
		WithArgs("tenant-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id", "user_id", "pending_balance", "payable_balance"}).
			AddRow("tenant-1", "wallet-1", "user-1", "0.00", "300.00"))
	mock.ExpectExec(`INSERT INTO payouts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE employee_wallets SET payable_balance = \$3`).
		WithArgs("tenant-1", "wallet-1", "200.00").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transactions`).
		WithArgs("tenant-1", sqlmock.AnyArg(), string(TransactionPayroll), "100.00", "",
			"1.000000", "payroll", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := tenant.With(t.Context(), "tenant-1", "", "")
	payout, err := CreatePayout(ctx, store.NewDB(db), CreatePayoutInput{
		UserID:         "user-1",
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.True(t, payout.Amount.Equal(decimal.NewFromInt(100)))
	require.NoError(t, mock.ExpectationsWereMet())
}
