// Package jobs implements the named-queue job runtime (spec §4.F):
// Postgres-backed queues claimed via SELECT ... FOR UPDATE SKIP LOCKED,
// retry with backoff, dead-letter preservation, and cron-driven scheduled
// triggers.
package jobs

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Job is a single queued unit of work.
type Job struct {
	ID                string
	TenantID          *string // nil for tenant-agnostic jobs (e.g. outbox sweep trigger)
	Queue             string
	Name              string
	Payload           json.RawMessage
	Attempts          int
	MaxAttempts       int
	BackoffBaseMS     int
	RemoveOnComplete  bool
	RunAfter          time.Time
	LockedBy          *string
	LockedAt          *time.Time
	FailedAt          *time.Time
	LastError         *string
	CreatedAt         time.Time
}

func scanJob(row interface{ Scan(dest ...any) error }) (Job, error) {
	var (
		j                                    Job
		tenantID, lockedBy, lastError        sql.NullString
		lockedAt, failedAt                   sql.NullTime
	)
	err := row.Scan(&j.ID, &tenantID, &j.Queue, &j.Name, &j.Payload, &j.Attempts, &j.MaxAttempts,
		&j.BackoffBaseMS, &j.RemoveOnComplete, &j.RunAfter, &lockedBy, &lockedAt, &failedAt,
		&lastError, &j.CreatedAt)
	if err != nil {
		return Job{}, err
	}
	if tenantID.Valid {
		j.TenantID = &tenantID.String
	}
	if lockedBy.Valid {
		j.LockedBy = &lockedBy.String
	}
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	if failedAt.Valid {
		j.FailedAt = &failedAt.Time
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return j, nil
}

const jobColumns = `id, tenant_id, queue, name, payload, attempts, max_attempts, backoff_base_ms,
	remove_on_complete, run_after, locked_by, locked_at, failed_at, last_error, created_at`
