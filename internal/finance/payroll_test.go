package finance

import (
	"context"
	"fmt"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ocx/opscore/internal/audit"
	"github.com/ocx/opscore/internal/store"
)

type staticProfiles struct {
	profiles []PayrollProfile
}

func (s staticProfiles) ListProfiles(ctx context.Context, tenantID string, offset, limit int) ([]PayrollProfile, error) {
	if offset > 0 {
		return nil, nil
	}
	return s.profiles, nil
}

type capturingEnqueuer struct {
	queueName string
	payload   []byte
}

func (c *capturingEnqueuer) Enqueue(ctx context.Context, queueName string, payload []byte) error {
	c.queueName = queueName
	c.payload = payload
	return nil
}

func TestRunScheduledPayroll_CreatesPayoutsAndEmitsPayrollRunAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).WithArgs("payroll:tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, pending_balance, payable_balance\s*FROM employee_wallets WHERE tenant_id = \$1 AND user_id = \$2`).
		WithArgs("tenant-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id", "user_id", "pending_balance", "payable_balance"}).
			AddRow("tenant-1", "wallet-1", "user-1", "0.00", "0.00"))
	mock.ExpectExec(`SAVEPOINT payout_0`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, pending_balance, payable_balance\s*FROM employee_wallets\s*WHERE tenant_id = \$1 AND user_id = \$2\s*FOR UPDATE`).
		WithArgs("tenant-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id", "user_id", "pending_balance", "payable_balance"}).
			AddRow("tenant-1", "wallet-1", "user-1", "0.00", "0.00"))
	mock.ExpectExec(`INSERT INTO payouts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE employee_wallets SET payable_balance = \$3`).
		WithArgs("tenant-1", "wallet-1", "-500.00").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`RELEASE SAVEPOINT payout_0`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs("payroll:tenant-1").WillReturnResult(sqlmock.NewResult(0, 0))

	enqueuer := &capturingEnqueuer{}
	chain := audit.NewChain(db, enqueuer, audit.NewMasker(nil), nil)

	profiles := staticProfiles{profiles: []PayrollProfile{{UserID: "user-1", BaseSalary: decimal.NewFromInt(500)}}}

	ran, err := RunScheduledPayroll(t.Context(), store.NewDB(db), chain, profiles, "tenant-1", "2026-07")
	require.NoError(t, err)
	require.True(t, ran)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, audit.QueueName, enqueuer.queueName)
	require.Contains(t, string(enqueuer.payload), `"Action":"PAYROLL_RUN"`)
	require.Contains(t, string(enqueuer.payload), `"created":1`)
}

func TestRunScheduledPayroll_LockHeldElsewhere_DoesNotRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).WithArgs("payroll:tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	enqueuer := &capturingEnqueuer{}
	chain := audit.NewChain(db, enqueuer, audit.NewMasker(nil), nil)

	profiles := staticProfiles{profiles: []PayrollProfile{{UserID: "user-1", BaseSalary: decimal.NewFromInt(500)}}}

	ran, err := RunScheduledPayroll(t.Context(), store.NewDB(db), chain, profiles, "tenant-1", "2026-07")
	require.NoError(t, err)
	require.False(t, ran)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Nil(t, enqueuer.payload) // no run, no audit event
}

func TestRunScheduledPayroll_IdempotencyCollision_EmitsSingleNoOpAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).WithArgs("payroll:tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, pending_balance, payable_balance\s*FROM employee_wallets WHERE tenant_id = \$1 AND user_id = \$2`).
		WithArgs("tenant-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id", "user_id", "pending_balance", "payable_balance"}).
			AddRow("tenant-1", "wallet-1", "user-1", "0.00", "0.00"))
	mock.ExpectExec(`SAVEPOINT payout_0`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT tenant_id, id, user_id, pending_balance, payable_balance\s*FROM employee_wallets\s*WHERE tenant_id = \$1 AND user_id = \$2\s*FOR UPDATE`).
		WithArgs("tenant-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id", "user_id", "pending_balance", "payable_balance"}).
			AddRow("tenant-1", "wallet-1", "user-1", "0.00", "0.00"))
	mock.ExpectExec(`INSERT INTO payouts`).
		WillReturnError(fmt.Errorf(`pq: duplicate key value violates unique constraint "payouts_idempotency_key_key"`))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT payout_0`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs("payroll:tenant-1").WillReturnResult(sqlmock.NewResult(0, 0))

	enqueuer := &capturingEnqueuer{}
	chain := audit.NewChain(db, enqueuer, audit.NewMasker(nil), nil)

	profiles := staticProfiles{profiles: []PayrollProfile{{UserID: "user-1", BaseSalary: decimal.NewFromInt(500)}}}

	ran, err := RunScheduledPayroll(t.Context(), store.NewDB(db), chain, profiles, "tenant-1", "2026-07")
	require.NoError(t, err)
	require.True(t, ran)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Contains(t, string(enqueuer.payload), `"Action":"PAYROLL_RUN"`)
	require.Contains(t, string(enqueuer.payload), `"created":0`)
	require.Contains(t, string(enqueuer.payload), `"skipped":1`)
}
