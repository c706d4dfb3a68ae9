// Package webhook delivers signed event payloads to tenant-registered
// endpoints (spec §3 WebhookDelivery), persisting delivery attempts so
// retries survive a process restart instead of living only in an
// in-memory channel.
package webhook

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ocx/opscore/internal/jobs"
	"github.com/ocx/opscore/internal/notify/resilience"
)

// Webhook is a tenant-registered delivery endpoint.
type Webhook struct {
	TenantID   string
	ID         string
	URL        string
	Secret     string
	EventTypes []string
	Active     bool
}

// DeliveryStatus enumerates a WebhookDelivery's lifecycle.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliverySuccess   DeliveryStatus = "SUCCESS"
	DeliveryFailed    DeliveryStatus = "FAILED"
	DeliveryRetrying  DeliveryStatus = "RETRYING"
)

// Delivery is a persisted attempt (or series of attempts) to deliver one
// event to one webhook.
type Delivery struct {
	ID             string
	TenantID       string
	WebhookID      string
	EventType      string
	RequestBody    json.RawMessage
	Status         DeliveryStatus
	ResponseStatus *int
	AttemptNumber  int
	MaxAttempts    int
	NextRetryAt    *time.Time
	DeliveredAt    *time.Time
	DurationMS     *int
	CreatedAt      time.Time
}

// RetryQueueName is where failed deliveries are requeued for another attempt.
const RetryQueueName = "webhook-retry"

// Deliverer sends webhook deliveries and persists their outcome.
type Deliverer struct {
	db       *sql.DB
	client   *http.Client
	breakers *resilience.Manager
	queue    *jobs.Queue
	maxRetryAge time.Duration
}

// NewDeliverer builds a Deliverer. client defaults to a 10s-timeout
// http.Client when nil.
func NewDeliverer(db *sql.DB, client *http.Client, breakers *resilience.Manager, queue *jobs.Queue) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Deliverer{db: db, client: client, breakers: breakers, queue: queue, maxRetryAge: 5 * time.Minute}
}

// Deliver sends eventType/payload to wh, creating a Delivery row and
// attempting the HTTP POST under the per-endpoint circuit breaker. On
// failure it schedules a retry via the job runtime rather than blocking
// or looping in place.
func (d *Deliverer) Deliver(ctx context.Context, wh Webhook, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	delivery := Delivery{
		ID:            uuid.NewString(),
		TenantID:      wh.TenantID,
		WebhookID:     wh.ID,
		EventType:     eventType,
		RequestBody:   body,
		Status:        DeliveryPending,
		AttemptNumber: 1,
		MaxAttempts:   5,
		CreatedAt:     time.Now().UTC(),
	}
	if err := d.insert(ctx, delivery); err != nil {
		return err
	}
	d.attempt(ctx, wh, delivery)
	return nil
}

// RetryHandler is the jobs.Handler driving the retry queue: it re-reads
// the delivery and webhook rows and attempts again.
func (d *Deliverer) RetryHandler(ctx context.Context, j jobs.Job) error {
	var payload struct {
		DeliveryID string `json:"delivery_id"`
		WebhookID  string `json:"webhook_id"`
	}
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return err
	}
	wh, err := d.loadWebhook(ctx, payload.WebhookID)
	if err != nil {
		return err
	}
	delivery, err := d.loadDelivery(ctx, payload.DeliveryID)
	if err != nil {
		return err
	}
	d.attempt(ctx, wh, delivery)
	return nil
}

func (d *Deliverer) attempt(ctx context.Context, wh Webhook, delivery Delivery) {
	start := time.Now()
	breaker := d.breakers.Get(wh.ID)
	var responseStatus int

	err := breaker.Execute(ctx, func(ctx context.Context) error {
		ts := time.Now()
		sig := Sign(wh.Secret, ts, delivery.RequestBody)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(delivery.RequestBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", sig)
		req.Header.Set("X-Webhook-Event", delivery.EventType)

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		responseStatus = resp.StatusCode
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
		}
		return nil
	})

	durationMS := int(time.Since(start).Milliseconds())
	if err == nil {
		d.markSuccess(ctx, delivery, responseStatus, durationMS)
		return
	}
	d.markFailureAndMaybeRetry(ctx, wh, delivery, responseStatus, durationMS, err)
}

func (d *Deliverer) markSuccess(ctx context.Context, delivery Delivery, responseStatus, durationMS int) {
	_, execErr := d.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'SUCCESS', response_status = $3, delivered_at = now(), duration_ms = $4
		WHERE tenant_id = $1 AND id = $2`,
		delivery.TenantID, delivery.ID, responseStatus, durationMS)
	_ = execErr
}

func (d *Deliverer) markFailureAndMaybeRetry(ctx context.Context, wh Webhook, delivery Delivery, responseStatus, durationMS int, cause error) {
	if delivery.AttemptNumber >= delivery.MaxAttempts {
		_, _ = d.db.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET status = 'FAILED', response_status = $3, duration_ms = $4
			WHERE tenant_id = $1 AND id = $2`,
			delivery.TenantID, delivery.ID, responseStatus, durationMS)
		return
	}

	next := time.Now().Add(retryDelay(delivery.AttemptNumber))
	_, _ = d.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'RETRYING', response_status = $3, attempt_number = attempt_number + 1,
		    next_retry_at = $4, duration_ms = $5
		WHERE tenant_id = $1 AND id = $2`,
		delivery.TenantID, delivery.ID, responseStatus, next, durationMS)

	payload, _ := json.Marshal(map[string]string{"delivery_id": delivery.ID, "webhook_id": wh.ID})
	_ = d.queue.EnqueueWithOptions(ctx, RetryQueueName, payload, jobs.EnqueueOptions{
		TenantID: wh.TenantID, MaxAttempts: 1, RunAfter: next,
	})
	_ = cause
}

// retryDelay implements a short fixed ladder (1m, 5m, 15m, 30m); the job
// runtime's own backoff only governs requeue-handler failures, not the
// webhook-specific delay between delivery attempts.
func retryDelay(attempt int) time.Duration {
	ladder := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute}
	if attempt-1 < len(ladder) {
		return ladder[attempt-1]
	}
	return ladder[len(ladder)-1]
}

func (d *Deliverer) insert(ctx context.Context, del Delivery) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries
			(tenant_id, id, webhook_id, event_type, request_body, request_headers, status,
			 attempt_number, max_attempts, created_at)
		VALUES ($1,$2,$3,$4,$5,'{}',$6,$7,$8,$9)`,
		del.TenantID, del.ID, del.WebhookID, del.EventType, string(del.RequestBody),
		string(del.Status), del.AttemptNumber, del.MaxAttempts, del.CreatedAt)
	return err
}

// ListActiveForEvent returns every active webhook tenantID has registered
// for eventType, for the outbox relay's fan-out dispatcher to deliver to.
func (d *Deliverer) ListActiveForEvent(ctx context.Context, tenantID, eventType string) ([]Webhook, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT tenant_id, id, url, secret, event_types, active
		FROM webhooks
		WHERE tenant_id = $1 AND active = true AND $2 = ANY(event_types)`, tenantID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		var wh Webhook
		if err := rows.Scan(&wh.TenantID, &wh.ID, &wh.URL, &wh.Secret, pq.Array(&wh.EventTypes), &wh.Active); err != nil {
			return nil, err
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (d *Deliverer) loadWebhook(ctx context.Context, id string) (Webhook, error) {
	row := d.db.QueryRowContext(ctx, `SELECT tenant_id, id, url, secret, event_types, active FROM webhooks WHERE id = $1`, id)
	var wh Webhook
	if err := row.Scan(&wh.TenantID, &wh.ID, &wh.URL, &wh.Secret, pq.Array(&wh.EventTypes), &wh.Active); err != nil {
		return Webhook{}, err
	}
	return wh, nil
}

func (d *Deliverer) loadDelivery(ctx context.Context, id string) (Delivery, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT tenant_id, id, webhook_id, event_type, request_body, status, response_status,
		       attempt_number, max_attempts, next_retry_at, delivered_at, duration_ms, created_at
		FROM webhook_deliveries WHERE id = $1`, id)
	var (
		del            Delivery
		responseStatus sql.NullInt32
		nextRetryAt    sql.NullTime
		deliveredAt    sql.NullTime
		durationMS     sql.NullInt32
	)
	if err := row.Scan(&del.TenantID, &del.ID, &del.WebhookID, &del.EventType, &del.RequestBody,
		&del.Status, &responseStatus, &del.AttemptNumber, &del.MaxAttempts, &nextRetryAt,
		&deliveredAt, &durationMS, &del.CreatedAt); err != nil {
		return Delivery{}, err
	}
	if responseStatus.Valid {
		v := int(responseStatus.Int32)
		del.ResponseStatus = &v
	}
	if nextRetryAt.Valid {
		del.NextRetryAt = &nextRetryAt.Time
	}
	if deliveredAt.Valid {
		del.DeliveredAt = &deliveredAt.Time
	}
	if durationMS.Valid {
		v := int(durationMS.Int32)
		del.DurationMS = &v
	}
	return del, nil
}
