package observability

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/ocx/opscore/internal/tenant"
)

// NewBaseLogger builds the process-wide zerolog.Logger. dev toggles
// console-pretty output; production always emits structured JSON to w.
func NewBaseLogger(w io.Writer, dev bool) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Logger derives a request/job-scoped logger from base, pulling
// tenant_id, correlation_id, and user_id out of ctx so every log line a
// request (or a background job that inherited its context) produces
// carries the same three fields, per spec §4.J.
func Logger(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	l := base.With()
	if t := tenant.Current(ctx); t != "" {
		l = l.Str("tenant_id", t)
	}
	if c := tenant.CorrelationID(ctx); c != "" {
		l = l.Str("correlation_id", c)
	}
	if u := tenant.UserID(ctx); u != "" {
		l = l.Str("user_id", u)
	}
	return l.Logger()
}
