package outbox

import (
	"context"
	"database/sql"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/ocx/opscore/internal/store"
)

// Dispatcher publishes a single outbox event. A non-nil error is treated
// as a delivery failure and drives the backoff/attempts bookkeeping.
type Dispatcher func(ctx context.Context, e Event) error

const (
	backoffBase = time.Second
	backoffCap  = 10 * time.Minute
	// advisoryLockKey gates the relay loop to a single active replica.
	advisoryLockKey = "outbox-relay"
)

// Relay is the single-replica polling loop described in spec §4.D.
type Relay struct {
	db          *sql.DB
	log         zerolog.Logger
	batchSize   int
	maxAttempts int
	dispatchers map[string]Dispatcher
}

// NewRelay builds a Relay. batchSize defaults to 50, maxAttempts to 10
// when given as zero.
func NewRelay(db *sql.DB, log zerolog.Logger, batchSize, maxAttempts int) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Relay{db: db, log: log, batchSize: batchSize, maxAttempts: maxAttempts, dispatchers: make(map[string]Dispatcher)}
}

// Register associates a dispatcher with an event_type. Re-registering a
// type replaces the prior dispatcher.
func (r *Relay) Register(eventType string, d Dispatcher) {
	r.dispatchers[eventType] = d
}

// Run polls on interval until ctx is cancelled. Only one replica at a
// time actually does work — the rest spin on a non-blocking advisory
// lock attempt and go back to sleep.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.log.Error().Err(err).Msg("outbox relay tick failed")
			}
		}
	}
}

func (r *Relay) tick(ctx context.Context) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ok, err := store.TryAdvisoryLock(ctx, conn, advisoryLockKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer func() { _ = store.AdvisoryUnlock(ctx, conn, advisoryLockKey) }()

	events, err := r.claim(ctx)
	if err != nil {
		return err
	}
	for _, e := range events {
		r.process(ctx, e)
	}
	return nil
}

func (r *Relay) claim(ctx context.Context) ([]Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, tenant_id, aggregate_type, aggregate_id, event_type, payload,
		       created_at, published_at, attempts, next_attempt_at, last_error, failed
		FROM outbox_events
		WHERE published_at IS NULL AND failed = false
		  AND (next_attempt_at IS NULL OR next_attempt_at <= now())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, r.batchSize)
	if err != nil {
		return nil, err
	}
	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	return events, tx.Commit()
}

func (r *Relay) process(ctx context.Context, e Event) {
	d, ok := r.dispatchers[e.EventType]
	if !ok {
		r.log.Warn().Str("event_type", e.EventType).Str("tenant_id", e.TenantID).
			Msg("outbox: no dispatcher registered for event type")
		return
	}
	if err := d(ctx, e); err != nil {
		r.markFailure(ctx, e, err)
		return
	}
	r.markPublished(ctx, e)
}

func (r *Relay) markPublished(ctx context.Context, e Event) {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET published_at = now() WHERE tenant_id = $1 AND id = $2`,
		e.TenantID, e.ID)
	if err != nil {
		r.log.Error().Err(err).Str("event_id", e.ID).Msg("outbox: failed to mark published")
	}
}

func (r *Relay) markFailure(ctx context.Context, e Event, cause error) {
	attempts := e.Attempts + 1
	errMsg := cause.Error()
	if attempts >= r.maxAttempts {
		_, err := r.db.ExecContext(ctx, `
			UPDATE outbox_events SET attempts = $3, last_error = $4, failed = true
			WHERE tenant_id = $1 AND id = $2`, e.TenantID, e.ID, attempts, errMsg)
		if err != nil {
			r.log.Error().Err(err).Str("event_id", e.ID).Msg("outbox: failed to mark terminal failure")
		}
		r.log.Error().Str("event_id", e.ID).Str("tenant_id", e.TenantID).Int("attempts", attempts).
			Msg("outbox: event exhausted retries, marked terminal")
		return
	}
	next := time.Now().Add(backoff(attempts))
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET attempts = $3, next_attempt_at = $4, last_error = $5
		WHERE tenant_id = $1 AND id = $2`, e.TenantID, e.ID, attempts, next, errMsg)
	if err != nil {
		r.log.Error().Err(err).Str("event_id", e.ID).Msg("outbox: failed to record retry")
	}
}

// backoff implements min(base * 2^attempts, cap) * rand(0.5, 1.5).
func backoff(attempts int) time.Duration {
	d := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempts)))
	if d > backoffCap {
		d = backoffCap
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}
