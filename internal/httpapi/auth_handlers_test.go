package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ocx/opscore/internal/auth"
	"github.com/ocx/opscore/internal/store"
)

func TestRegister_RejectsMissingFields(t *testing.T) {
	h := &AuthHandlers{}
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"jane@example.com"}`))
	rec := httptest.NewRecorder()

	h.register(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.Message, "tenantId")
}

func TestRegister_RejectsMalformedBody(t *testing.T) {
	h := &AuthHandlers{}
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()

	h.register(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_HappyPath_ReturnsCreatedUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("tenant-1", sqlmock.AnyArg(), "jane@example.com", sqlmock.AnyArg(), "member", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := &AuthHandlers{DB: store.NewDB(db)}
	body := `{"tenantId":"tenant-1","email":"jane@example.com","password":"correct horse battery staple"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	require.Equal(t, "jane@example.com", data["email"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresh_RejectsCookieBorneTokenWithoutCSRFHeader(t *testing.T) {
	h := &AuthHandlers{}
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{}`))
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "some-refresh-token"})
	req.AddCookie(&http.Cookie{Name: auth.CSRFCookieName, Value: "csrf-token-abc"})
	rec := httptest.NewRecorder()

	h.refresh(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}
