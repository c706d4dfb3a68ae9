package tenant

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

type widget struct {
	TenantID string
	ID       string
	Name     string
}

func (w widget) GetTenantID() string { return w.TenantID }

func widgetRepository() *Repository[widget] {
	return NewRepository(Mapper[widget]{
		Table:    "widgets",
		IDColumn: "id",
		Columns:  []string{"tenant_id", "id", "name"},
		Scan: func(s Scanner) (widget, error) {
			var w widget
			err := s.Scan(&w.TenantID, &w.ID, &w.Name)
			return w, err
		},
		InsertValues: func(w widget) []any { return []any{w.TenantID, w.ID, w.Name} },
		GetID:        func(w widget) string { return w.ID },
	})
}

func TestRepository_SoftDelete_RendersNowAsLiteralSQLNotABoundParameter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE widgets SET deleted_at = now\(\) WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "widget-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := With(t.Context(), "tenant-1", "", "")
	err = widgetRepository().SoftDelete(ctx, db, "widget-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Update_BindsOrdinaryValuesAsParameters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE widgets SET name = \$1 WHERE tenant_id = \$2 AND id = \$3`).
		WithArgs("renamed", "tenant-1", "widget-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := With(t.Context(), "tenant-1", "", "")
	err = widgetRepository().Update(ctx, db, "widget-1", map[string]any{"name": "renamed"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Update_NotFoundWhenNoRowMatchesTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE widgets SET name = \$1 WHERE tenant_id = \$2 AND id = \$3`).
		WithArgs("renamed", "tenant-1", "widget-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := With(t.Context(), "tenant-1", "", "")
	err = widgetRepository().Update(ctx, db, "widget-1", map[string]any{"name": "renamed"})
	require.Error(t, err)
}
