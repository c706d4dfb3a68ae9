package jobs

import (
	"context"
	"database/sql"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/tenant"
)

// Handler processes a claimed job. A non-nil error triggers the
// retry/backoff policy; once attempts reach MaxAttempts the job is
// marked terminally failed (failed_at set) and preserved — never
// deleted — as the dead-letter record.
type Handler func(ctx context.Context, j Job) error

// Worker polls a single queue name, claiming and running jobs one batch
// at a time.
type Worker struct {
	db        *sql.DB
	log       zerolog.Logger
	workerID  string
	queueName string
	batchSize int
	handler   Handler
}

// NewWorker builds a Worker for queueName. workerID identifies this
// process/goroutine in locked_by for observability; batchSize defaults
// to 20.
func NewWorker(db *sql.DB, log zerolog.Logger, queueName string, batchSize int, handler Handler) *Worker {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Worker{
		db: db, log: log, workerID: uuid.NewString(),
		queueName: queueName, batchSize: batchSize, handler: handler,
	}
}

// Run polls on interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				w.log.Error().Err(err).Str("queue", w.queueName).Msg("jobs: worker tick failed")
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) error {
	claimed, err := store.ClaimBatch(ctx, w.db, "jobs", []string{
		"id", "tenant_id", "queue", "name", "payload", "attempts", "max_attempts",
		"backoff_base_ms", "remove_on_complete", "run_after", "locked_by", "locked_at",
		"failed_at", "last_error", "created_at",
	}, "queue = $1 AND locked_by IS NULL AND failed_at IS NULL AND run_after <= now()",
		[]any{w.queueName}, "run_after ASC", w.batchSize,
		func(row *sql.Rows) (Job, error) { return scanJob(row) },
		w.markLocked,
	)
	if err != nil {
		return err
	}
	for _, j := range claimed {
		w.process(ctx, j)
	}
	return nil
}

func (w *Worker) markLocked(ctx context.Context, tx *sql.Tx, claimed []Job) error {
	for _, j := range claimed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET locked_by = $2, locked_at = now() WHERE id = $1`, j.ID, w.workerID); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) process(ctx context.Context, j Job) {
	runCtx := ctx
	if j.TenantID != nil {
		runCtx = tenant.With(ctx, *j.TenantID, "", "")
	}
	err := w.handler(runCtx, j)
	if err == nil {
		w.complete(ctx, j)
		return
	}
	w.fail(ctx, j, err)
}

func (w *Worker) complete(ctx context.Context, j Job) {
	var execErr error
	if j.RemoveOnComplete {
		_, execErr = w.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, j.ID)
	} else {
		_, execErr = w.db.ExecContext(ctx, `
			UPDATE jobs SET locked_by = NULL, locked_at = NULL WHERE id = $1`, j.ID)
	}
	if execErr != nil {
		w.log.Error().Err(execErr).Str("job_id", j.ID).Msg("jobs: failed to finalize completed job")
	}
}

func (w *Worker) fail(ctx context.Context, j Job, cause error) {
	attempts := j.Attempts + 1
	errMsg := cause.Error()

	if attempts >= j.MaxAttempts {
		_, err := w.db.ExecContext(ctx, `
			UPDATE jobs SET attempts = $2, locked_by = NULL, locked_at = NULL,
			                failed_at = now(), last_error = $3
			WHERE id = $1`, j.ID, attempts, errMsg)
		if err != nil {
			w.log.Error().Err(err).Str("job_id", j.ID).Msg("jobs: failed to mark terminal failure")
		}
		w.log.Error().Str("job_id", j.ID).Str("queue", j.Queue).Int("attempts", attempts).
			Msg("jobs: job exhausted retries, preserved as dead letter")
		return
	}

	next := time.Now().Add(backoff(j.BackoffBaseMS, attempts))
	_, err := w.db.ExecContext(ctx, `
		UPDATE jobs SET attempts = $2, locked_by = NULL, locked_at = NULL,
		                run_after = $3, last_error = $4
		WHERE id = $1`, j.ID, attempts, next, errMsg)
	if err != nil {
		w.log.Error().Err(err).Str("job_id", j.ID).Msg("jobs: failed to record retry")
	}
}

// backoff mirrors the outbox relay's formula so the two retry ladders
// behave consistently: min(base * 2^attempts, 10min) * rand(0.5, 1.5).
func backoff(baseMS, attempts int) time.Duration {
	base := time.Duration(baseMS) * time.Millisecond
	d := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	const capMS = 10 * time.Minute
	if d > capMS {
		d = capMS
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}
