// Package outbox implements the transactional outbox (spec §3, §4.D):
// domain writes capture an event row in the same transaction as the
// state change, and a background relay publishes it at-least-once.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/opscore/internal/store"
)

// Event is a persisted outbox row.
type Event struct {
	ID            string
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Attempts      int
	NextAttemptAt *time.Time
	LastError     *string
	Failed        bool // terminal failure after exhausting maxAttempts; row is kept, never deleted
}

// GetTenantID satisfies tenant.Entity.
func (e Event) GetTenantID() string { return e.TenantID }

// Emit inserts an Event row with published_at = null, attempts = 0,
// inside the caller's transaction. No in-memory bus is used for events
// that must survive a crash — conn must be the same *sql.Tx as the
// domain write it accompanies.
func Emit(ctx context.Context, conn store.Conn, tenantID, aggregateType, aggregateID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO outbox_events
			(id, tenant_id, aggregate_type, aggregate_id, event_type, payload, created_at, attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0)`,
		uuid.NewString(), tenantID, aggregateType, aggregateID, eventType, raw, time.Now().UTC())
	return err
}

func scanEvent(row interface{ Scan(dest ...any) error }) (Event, error) {
	var (
		e           Event
		publishedAt sql.NullTime
		nextAttempt sql.NullTime
		lastError   sql.NullString
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.AggregateType, &e.AggregateID, &e.EventType,
		&e.Payload, &e.CreatedAt, &publishedAt, &e.Attempts, &nextAttempt, &lastError, &e.Failed)
	if err != nil {
		return Event{}, err
	}
	if publishedAt.Valid {
		e.PublishedAt = &publishedAt.Time
	}
	if nextAttempt.Valid {
		e.NextAttemptAt = &nextAttempt.Time
	}
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	return e, nil
}
