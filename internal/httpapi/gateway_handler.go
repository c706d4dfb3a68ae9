package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/finance"
	"github.com/ocx/opscore/internal/notify/webhook"
	"github.com/ocx/opscore/internal/store"
)

// GatewayWebhookHandler receives the payout gateway's asynchronous
// delivery callbacks. Tenant identity is resolved from the payout's own
// gateway_reference lookup, never from the request body — the body is
// provider-controlled and untrusted until the signature verifies.
type GatewayWebhookHandler struct {
	DB        *store.DB
	Secret    string
	MaxSigAge time.Duration
}

type gatewayCallbackBody struct {
	GatewayReference string `json:"gatewayReference"`
	Status           string `json:"status"` // "succeeded" | "failed"
}

func (h *GatewayWebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, r, apierr.Validation("could not read request body"))
		return
	}

	sigHeader := r.Header.Get("X-Gateway-Signature")
	if err := webhook.Verify(h.Secret, sigHeader, body, h.MaxSigAge); err != nil {
		writeError(w, r, apierr.Unauthenticated("invalid webhook signature"))
		return
	}

	var payload gatewayCallbackBody
	if err := json.Unmarshal(body, &payload); err != nil || payload.GatewayReference == "" {
		writeError(w, r, apierr.Validation("malformed callback payload"))
		return
	}

	if err := finance.ApplyGatewayCallback(r.Context(), h.DB, payload.GatewayReference, payload.Status == "succeeded"); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"acknowledged": true})
}
