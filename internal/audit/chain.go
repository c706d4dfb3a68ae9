package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/opscore/internal/jobs"
	"github.com/ocx/opscore/internal/store"
)

// Enqueuer submits a job payload onto a named queue. internal/jobs.Queue
// satisfies this; audit depends only on the interface so the two packages
// don't import each other.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload []byte) error
}

// FailureRecorder is an optional metrics hook; nil is safe to use.
type FailureRecorder interface {
	IncAuditQueueSubmitFailure(tenantID string)
}

// QueueName is the job queue audit entries are enqueued on.
const QueueName = "audit"

// Chain is the audit log's write path (spec §4.C): Log is best-effort and
// never blocks or fails the originating request.
type Chain struct {
	db      *sql.DB
	queue   Enqueuer
	masker  *Masker
	metrics FailureRecorder
}

// NewChain builds a Chain. metrics may be nil.
func NewChain(db *sql.DB, queue Enqueuer, masker *Masker, metrics FailureRecorder) *Chain {
	if masker == nil {
		masker = NewMasker(nil)
	}
	return &Chain{db: db, queue: queue, masker: masker, metrics: metrics}
}

// Log masks e and enqueues it on the audit queue. If enqueuing fails, a
// counter is incremented and the entry is appended synchronously as a
// fallback so a queue outage never silently drops an audit record.
func (c *Chain) Log(ctx context.Context, e Entry) {
	masked := c.masker.MaskEntry(e)
	payload, err := json.Marshal(masked)
	if err != nil {
		// Entry can't even be serialized; attempt the synchronous fallback
		// directly against the unmasked-but-unmarshalable struct is pointless,
		// so there is nothing left to do but record the failure.
		if c.metrics != nil {
			c.metrics.IncAuditQueueSubmitFailure(e.TenantID)
		}
		return
	}
	if err := c.queue.Enqueue(ctx, QueueName, payload); err != nil {
		if c.metrics != nil {
			c.metrics.IncAuditQueueSubmitFailure(e.TenantID)
		}
		_ = c.Append(ctx, masked)
	}
}

// canonicalEntry is the subset of Entry/Log fields hashed into the chain,
// with explicit field order so json.Marshal output (map keys already sort
// alphabetically) is reproducible across processes.
type canonicalEntry struct {
	TenantID   string         `json:"tenant_id"`
	Action     string         `json:"action"`
	EntityName string         `json:"entity_name"`
	EntityID   string         `json:"entity_id"`
	OldValues  map[string]any `json:"old_values"`
	NewValues  map[string]any `json:"new_values"`
	UserID     *string        `json:"user_id"`
	IP         string         `json:"ip"`
	UserAgent  string         `json:"user_agent"`
	Method     string         `json:"method"`
	Path       string         `json:"path"`
	StatusCode int            `json:"status_code"`
	DurationMS int64          `json:"duration_ms"`
}

func canonicalize(e Entry) ([]byte, error) {
	return json.Marshal(canonicalEntry{
		TenantID:   e.TenantID,
		Action:     e.Action,
		EntityName: e.EntityName,
		EntityID:   e.EntityID,
		OldValues:  e.OldValues,
		NewValues:  e.NewValues,
		UserID:     e.UserID,
		IP:         e.IP,
		UserAgent:  e.UserAgent,
		Method:     e.Method,
		Path:       e.Path,
		StatusCode: e.StatusCode,
		DurationMS: e.DurationMS,
	})
}

// JobHandler returns the jobs.Handler that drains QueueName: it decodes
// the already-masked entry the queue carries and appends it to the chain.
func (c *Chain) JobHandler() jobs.Handler {
	return func(ctx context.Context, j jobs.Job) error {
		var e Entry
		if err := json.Unmarshal(j.Payload, &e); err != nil {
			return fmt.Errorf("audit: decoding queued entry: %w", err)
		}
		return c.Append(ctx, e)
	}
}

// maxRetries bounds the unique-constraint-collision retry loop in Append.
const maxRetries = 5

// Append computes the next sequence number and hash for e's tenant and
// inserts the row (the audit worker's per-job unit of work). It takes a
// Postgres advisory lock keyed by hash(tenant_id, "audit-chain") for the
// duration of the read-compute-insert, and also relies on the unique
// (tenant_id, sequence_number) constraint as a second line of defense —
// retrying on a uniqueness violation rather than assuming the lock alone
// is sufficient.
func (c *Chain) Append(ctx context.Context, e Entry) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := c.appendOnce(ctx, e)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			continue
		}
		return err
	}
	return c.appendDLQ(ctx, e, fmt.Errorf("audit: exhausted retries on sequence collision"))
}

func (c *Chain) appendOnce(ctx context.Context, e Entry) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	lockKey := "audit-chain:" + e.TenantID
	if err := store.AdvisoryLock(ctx, conn, lockKey); err != nil {
		return err
	}
	defer func() { _ = store.AdvisoryUnlock(ctx, conn, lockKey) }()

	var lastSeq int64
	var lastHash sql.NullString
	row := conn.QueryRowContext(ctx, `
		SELECT sequence_number, hash FROM audit_logs
		WHERE tenant_id = $1 AND sequence_number >= 0
		ORDER BY sequence_number DESC LIMIT 1`, e.TenantID)
	switch err := row.Scan(&lastSeq, &lastHash); {
	case errors.Is(err, sql.ErrNoRows):
		lastSeq = 0
		lastHash = sql.NullString{}
	case err != nil:
		return err
	}

	nextSeq := lastSeq + 1
	canonical, err := canonicalize(e)
	if err != nil {
		return err
	}
	h := sha256.New()
	if lastHash.Valid {
		h.Write([]byte(lastHash.String))
	}
	h.Write(canonical)
	hash := hex.EncodeToString(h.Sum(nil))

	var prevHash *string
	if lastHash.Valid {
		prevHash = &lastHash.String
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, tenant_id, sequence_number, previous_hash, hash, action, entity_name,
			 entity_id, old_values, new_values, user_id, ip, user_agent, method, path,
			 status_code, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		uuid.NewString(), e.TenantID, nextSeq, prevHash, hash, e.Action, e.EntityName,
		e.EntityID, jsonOrNil(e.OldValues), jsonOrNil(e.NewValues), e.UserID, e.IP,
		e.UserAgent, e.Method, e.Path, e.StatusCode, e.DurationMS, time.Now().UTC())
	return err
}

// appendDLQ writes a chain-exempt fallback row after the normal path is
// exhausted, per spec §4.C: sequence_number = -1, action prefixed
// "DLQ_FAILED:", notes capturing the error and a truncated payload.
func (c *Chain) appendDLQ(ctx context.Context, e Entry, cause error) error {
	canonical, _ := canonicalize(e)
	truncated := string(canonical)
	if len(truncated) > 2000 {
		truncated = truncated[:2000]
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, tenant_id, sequence_number, previous_hash, hash, action, entity_name,
			 entity_id, old_values, new_values, user_id, ip, user_agent, method, path,
			 status_code, duration_ms, created_at)
		VALUES ($1,$2,$3,NULL,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		uuid.NewString(), e.TenantID, DLQSequenceNumber, dlqHash(cause, truncated),
		"DLQ_FAILED:"+e.Action, e.EntityName, e.EntityID,
		jsonOrNil(map[string]any{"error": cause.Error(), "payload": truncated}), nil,
		e.UserID, e.IP, e.UserAgent, e.Method, e.Path, e.StatusCode, e.DurationMS, time.Now().UTC())
	return err
}

func dlqHash(cause error, payload string) string {
	h := sha256.Sum256([]byte(cause.Error() + payload))
	return hex.EncodeToString(h[:])
}

func jsonOrNil(v map[string]any) any {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
