package tenant

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestActiveIDs_ReturnsOnlyActiveTenants(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id FROM tenants WHERE status = 'active'`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tenant-1").AddRow("tenant-2"))

	ids, err := ActiveIDs(t.Context(), db)
	require.NoError(t, err)
	require.Equal(t, []string{"tenant-1", "tenant-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveIDs_EmptyResultIsNilNotError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id FROM tenants WHERE status = 'active'`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := ActiveIDs(t.Context(), db)
	require.NoError(t, err)
	require.Empty(t, ids)
}
