package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the producer side: enqueueing jobs onto a named queue.
type Queue struct {
	db *sql.DB
}

// NewQueue builds a Queue over db.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// EnqueueOptions customizes a single Enqueue call; the zero value applies
// the runtime's defaults (3 attempts, 1s backoff base, removed on
// completion, runnable immediately).
type EnqueueOptions struct {
	TenantID         string
	Name             string
	MaxAttempts      int
	BackoffBaseMS    int
	RemoveOnComplete *bool
	RunAfter         time.Time
}

// Enqueue inserts a job with default options, satisfying
// internal/audit.Enqueuer.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload []byte) error {
	return q.EnqueueWithOptions(ctx, queueName, payload, EnqueueOptions{})
}

// EnqueueWithOptions inserts a job with explicit tuning.
func (q *Queue) EnqueueWithOptions(ctx context.Context, queueName string, payload []byte, opts EnqueueOptions) error {
	if !json.Valid(payload) {
		return fmt.Errorf("jobs: payload is not valid JSON")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	backoffBase := opts.BackoffBaseMS
	if backoffBase == 0 {
		backoffBase = 1000
	}
	removeOnComplete := true
	if opts.RemoveOnComplete != nil {
		removeOnComplete = *opts.RemoveOnComplete
	}
	runAfter := opts.RunAfter
	if runAfter.IsZero() {
		runAfter = time.Now().UTC()
	}
	var tenantID *string
	if opts.TenantID != "" {
		tenantID = &opts.TenantID
	}
	name := opts.Name
	if name == "" {
		name = queueName
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs
			(id, tenant_id, queue, name, payload, attempts, max_attempts, backoff_base_ms,
			 remove_on_complete, run_after, created_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$9,now())`,
		uuid.NewString(), tenantID, queueName, name, payload, maxAttempts, backoffBase,
		removeOnComplete, runAfter)
	return err
}
