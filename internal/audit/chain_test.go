package audit

import (
	"database/sql"
	"encoding/json"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ocx/opscore/internal/jobs"
)

func TestChain_Append_FirstEntryHasNoPreviousHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT sequence_number, hash FROM audit_logs`).
		WithArgs("tenant-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), "tenant-1", int64(1), nil, sqlmock.AnyArg(),
			"user.created", "user", "user-1", nil, nil, nil, "", "", "", "", 0, int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WillReturnResult(sqlmock.NewResult(0, 0))

	chain := NewChain(db, nil, NewMasker(nil), nil)
	err = chain.Append(t.Context(), Entry{TenantID: "tenant-1", Action: "user.created", EntityName: "user", EntityID: "user-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChain_Append_SubsequentEntryChainsPreviousHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT sequence_number, hash FROM audit_logs`).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_number", "hash"}).AddRow(int64(1), "abc123"))
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), "tenant-1", int64(2), "abc123", sqlmock.AnyArg(),
			"user.updated", "user", "user-1", nil, nil, nil, "", "", "", "", 0, int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WillReturnResult(sqlmock.NewResult(0, 0))

	chain := NewChain(db, nil, NewMasker(nil), nil)
	err = chain.Append(t.Context(), Entry{TenantID: "tenant-1", Action: "user.updated", EntityName: "user", EntityID: "user-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChain_JobHandler_AppendsDecodedEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT sequence_number, hash FROM audit_logs`).
		WithArgs("tenant-2").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WillReturnResult(sqlmock.NewResult(0, 0))

	chain := NewChain(db, nil, NewMasker(nil), nil)
	handler := chain.JobHandler()

	entry := Entry{TenantID: "tenant-2", Action: "payout.created", EntityName: "payout", EntityID: "payout-1"}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	err = handler(t.Context(), jobs.Job{Payload: payload})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
