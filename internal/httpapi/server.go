package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ocx/opscore/internal/auth"
	"github.com/ocx/opscore/internal/config"
	"github.com/ocx/opscore/internal/observability"
	"github.com/ocx/opscore/internal/store"
)

// Server assembles the router for every HTTP-surface concern this core
// owns directly (spec §6): auth bootstrap, health, metrics, and the
// payout gateway's webhook callback. Tenant-facing business endpoints
// (bookings, catalog, HR, reviews) are named out of scope and are not
// registered here.
type Server struct {
	cfg     *config.Config
	db      *store.DB
	issuer  *auth.TokenIssuer
	limiter *auth.Limiter
	metrics *observability.Metrics
	logger  zerolog.Logger
	gateway *GatewayWebhookHandler
	dashboardHub http.Handler
}

func NewServer(cfg *config.Config, db *store.DB, issuer *auth.TokenIssuer, limiter *auth.Limiter,
	metrics *observability.Metrics, logger zerolog.Logger, dashboardHub http.Handler) *Server {
	return &Server{
		cfg:     cfg,
		db:      db,
		issuer:  issuer,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		gateway: &GatewayWebhookHandler{DB: db, Secret: cfg.Notify.GatewayWebhookSecret, MaxSigAge: 5 * time.Minute},
		dashboardHub: dashboardHub,
	}
}

// Router builds the gorilla/mux router with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	trustedProxies := map[string]bool{} // populated from deployment-specific config when a reverse proxy terminates TLS
	r.Use(correlationIDMiddleware)
	r.Use(corsMiddleware(s.cfg.Server.CORSAllowOrigins))
	r.Use(loggingMiddleware(s.logger, s.metrics))
	r.Use(rateLimitMiddleware(s.limiter, trustedProxies))

	authHandlers := &AuthHandlers{DB: s.db, Issuer: s.issuer}

	r.HandleFunc("/auth/register", publicEndpoint(authHandlers.register)).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", publicEndpoint(authHandlers.login)).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", publicEndpoint(authHandlers.refresh)).Methods(http.MethodPost)
	// mfa/verify resubmits the full credential+code payload rather than a
	// separate pending-session token — there is no intermediate session
	// store between the two steps.
	r.HandleFunc("/auth/mfa/verify", publicEndpoint(authHandlers.login)).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", requireAuth(s.issuer, authHandlers.me)).Methods(http.MethodGet)

	r.HandleFunc("/webhooks/gateway", publicEndpoint(s.gateway.receive)).Methods(http.MethodPost)

	r.HandleFunc("/health", publicEndpoint(s.handleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)

	if s.dashboardHub != nil {
		r.Handle("/ws/dashboard", s.dashboardHub).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// metricsHandler gates /metrics behind METRICS_TOKEN in production —
// scrape endpoints are an internal-network concern everywhere else.
func (s *Server) metricsHandler() http.Handler {
	base := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.IsProduction() {
			token := r.Header.Get("X-Metrics-Token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Observability.MetricsToken)) != 1 {
				http.NotFound(w, r)
				return
			}
		}
		base.ServeHTTP(w, r)
	})
}

// Addr renders the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf(":%s", s.cfg.Server.Port)
}
