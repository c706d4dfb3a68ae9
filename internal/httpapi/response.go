// Package httpapi exposes the core's external-interface touchpoints
// (spec §6): auth bootstrap, health, metrics, and the webhook receiver.
// Business-domain endpoints (bookings, tasks, HR) are out of scope —
// those collaborators live outside this module.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/tenant"
)

// envelope is the success response shape spec §6 requires.
type envelope struct {
	Data any `json:"data"`
	Meta any `json:"meta,omitempty"`
}

// errorBody is the error response shape spec §6 requires.
type errorBody struct {
	StatusCode    int    `json:"statusCode"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	Timestamp     string `json:"timestamp"`
	Path          string `json:"path"`
	Method        string `json:"method"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Internal(err)
	}
	writeJSON(w, apiErr.Kind.HTTPStatus(), errorBody{
		StatusCode:    apiErr.Kind.HTTPStatus(),
		Message:       apiErr.Message,
		CorrelationID: tenant.CorrelationID(r.Context()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Path:          r.URL.Path,
		Method:        r.Method,
	})
}
