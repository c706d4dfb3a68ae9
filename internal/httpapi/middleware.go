package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/auth"
	"github.com/ocx/opscore/internal/observability"
	"github.com/ocx/opscore/internal/tenant"
)

// correlationIDMiddleware installs a correlation id (from the incoming
// header, or generated) onto every request's context before anything
// else runs, per spec §4.J.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		ctx := tenant.With(r.Context(), tenant.Current(r.Context()), correlationID, tenant.UserID(r.Context()))
		w.Header().Set("X-Correlation-ID", tenant.CorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware emits one structured access log line per request,
// plus request-count/latency metrics.
func loggingMiddleware(base zerolog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			duration := time.Since(start)

			observability.Logger(r.Context(), base).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", duration).
				Msg("http request")

			metrics.ObserveRequest(r.URL.Path, r.Method, statusClass(sw.status), duration)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// corsMiddleware reflects the configured allow-list of origins.
func corsMiddleware(allowOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowOrigins))
	allowAll := false
	for _, o := range allowOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID, X-CSRF-Token")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware applies the identity-priority fixed-window limiter
// (spec §4.H) ahead of every handler.
func rateLimitMiddleware(limiter *auth.Limiter, trustedProxies map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := auth.TrustedProxyIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), trustedProxies)
			id := auth.ResolveIdentity(r, ip, tenant.UserID(r.Context()))
			if id.Kind == auth.IdentityAnonymous && id.Value == "" {
				id.Value = issueAnonCookie(w)
			}

			decision, err := limiter.Allow(r.Context(), id)
			if err != nil {
				writeError(w, r, apierr.Transient(err))
				return
			}
			if !decision.Allowed {
				w.Header().Set("Retry-After", decision.BlockedUntil.Format(time.RFC1123))
				writeError(w, r, apierr.RateLimited("too many requests, try again after %s", decision.BlockedUntil.Format(time.RFC3339)))
				return
			}
			if decision.Delay > 0 {
				time.Sleep(decision.Delay)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func issueAnonCookie(w http.ResponseWriter) string {
	token, err := auth.NewCSRFToken() // reuses the same random-token primitive
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name: auth.AnonCookieName, Value: token, HttpOnly: true, Path: "/",
		SameSite: http.SameSiteLaxMode, MaxAge: int((24 * time.Hour).Seconds()),
	})
	return token
}

// requireAuth wraps handler so it only runs for a valid bearer access
// token, installing the token-derived tenant/user identity onto the
// request context — tenant identity is never read from the body or
// query (spec §4.H, §4.I contract 1).
func requireAuth(issuer *auth.TokenIssuer, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, r, apierr.Unauthenticated("missing bearer token"))
			return
		}
		claims, err := issuer.ParseAccess(token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := tenant.With(r.Context(), claims.TenantID, tenant.CorrelationID(r.Context()), claims.Subject)
		handler(w, r.WithContext(ctx))
	}
}

// requireRole additionally asserts the authenticated user's role is one
// of allowed.
func requireRole(issuer *auth.TokenIssuer, allowed []string, handler http.HandlerFunc) http.HandlerFunc {
	return requireAuth(issuer, func(w http.ResponseWriter, r *http.Request) {
		claims, err := issuer.ParseAccess(bearerToken(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, role := range allowed {
			if role == claims.Role {
				handler(w, r)
				return
			}
		}
		writeError(w, r, apierr.Forbidden("role %q is not permitted on this endpoint", claims.Role))
	})
}

// publicEndpoint is the explicit opt-out the authz contract recognizes
// (spec §4.I contract 3) — it performs no auth check. CheckAuthzContract
// accepts it as a guard by itself; it does not look for an entry in
// lint/allowlist.yaml.
func publicEndpoint(handler http.HandlerFunc) http.HandlerFunc { return handler }

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}
