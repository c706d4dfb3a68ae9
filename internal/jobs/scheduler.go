package jobs

import (
	"context"
	"database/sql"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ocx/opscore/internal/finance/advisory"
)

// Scheduler drives cron-triggered jobs (payroll EOM, outbox relay sweep,
// webhook retry sweep, recurring transaction processing) via
// github.com/robfig/cron/v3. Every handler registered through
// AddDistributedJob wraps its body in the advisory-lock helper before
// doing anything (spec §4.E/§4.F/§5), so concurrent replicas never run
// the same scheduled trigger twice.
type Scheduler struct {
	cron *cron.Cron
	db   *sql.DB
	log  zerolog.Logger
}

// NewScheduler builds a Scheduler backed by db for its advisory locks.
func NewScheduler(db *sql.DB, log zerolog.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), db: db, log: log}
}

// ScheduledFunc is a cron-triggered unit of work.
type ScheduledFunc func(ctx context.Context) error

// AddDistributedJob registers fn to run on the standard five-field cron
// spec, guarded by a non-blocking advisory lock keyed lockKey so only one
// replica's invocation actually executes.
func (s *Scheduler) AddDistributedJob(spec, lockKey string, fn ScheduledFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		ran, err := advisory.TryRun(ctx, s.db, lockKey, fn)
		if err != nil {
			s.log.Error().Err(err).Str("lock_key", lockKey).Msg("jobs: scheduled job failed")
			return
		}
		if !ran {
			s.log.Debug().Str("lock_key", lockKey).Msg("jobs: scheduled job skipped, another replica holds the lock")
		}
	})
	return err
}

// Start begins running the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight run to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
