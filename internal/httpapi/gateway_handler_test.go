package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ocx/opscore/internal/notify/webhook"
	"github.com/ocx/opscore/internal/store"
)

func TestGatewayWebhookHandler_RejectsBadSignature(t *testing.T) {
	h := &GatewayWebhookHandler{Secret: "gw-secret", MaxSigAge: 5 * time.Minute}
	body := `{"gatewayReference":"gw-ref-1","status":"succeeded"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(body))
	req.Header.Set("X-Gateway-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()

	h.receive(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayWebhookHandler_AppliesVerifiedCallback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM payouts WHERE gateway_reference = \$1`).
		WithArgs("gw-ref-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "id", "user_id", "amount", "status", "idempotency_key",
			"gateway_reference", "notes", "payout_date", "created_at",
		}).AddRow("tenant-1", "payout-1", "user-1", "10.00", "PENDING", "idem-1", "gw-ref-1", "", now, now))
	mock.ExpectExec(`UPDATE payouts SET status = 'COMPLETED' WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "payout-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	secret := "gw-secret"
	body := []byte(`{"gatewayReference":"gw-ref-1","status":"succeeded"}`)
	sig := webhook.Sign(secret, time.Now(), body)

	h := &GatewayWebhookHandler{DB: store.NewDB(db), Secret: secret, MaxSigAge: 5 * time.Minute}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(string(body)))
	req.Header.Set("X-Gateway-Signature", sig)
	rec := httptest.NewRecorder()

	h.receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
