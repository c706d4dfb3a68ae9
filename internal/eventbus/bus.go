// Package eventbus is an in-process, non-durable CloudEvents pub/sub
// bus. It exists only for the "cache invalidations and live dashboard
// fan-out may use a non-durable bus" case called out by spec §9 — a
// dropped subscriber or a process restart loses nothing that matters,
// because the durable path is always internal/outbox. Callers publish
// here only after an outbox row has committed, never instead of it.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CloudEvent is the CloudEvents 1.0 envelope used for in-process fan-out.
type CloudEvent struct {
	SpecVersion string         `json:"specversion"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	ID          string         `json:"id"`
	Time        time.Time      `json:"time"`
	TenantID    string         `json:"tenantid,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	Data        map[string]any `json:"data"`
}

// NewCloudEvent builds an envelope for publishing.
func NewCloudEvent(eventType, source, tenantID, subject string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		TenantID:    tenantID,
		Subject:     subject,
		Data:        data,
	}
}

// SSEFormat renders the event for an EventSource/websocket text frame.
func (ce *CloudEvent) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(ce)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", ce.Type, data, ce.ID)), nil
}

const subscriberBuffer = 100

// Bus is an in-process, tenant-aware pub/sub fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *CloudEvent // tenantID -> channels; Publish delivers only to the event's own TenantID
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]chan *CloudEvent)}
}

// Subscribe returns a buffered channel receiving every event published
// for tenantID. The caller must Unsubscribe when done to release it.
func (b *Bus) Subscribe(tenantID string) chan *CloudEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *CloudEvent, subscriberBuffer)
	b.subscribers[tenantID] = append(b.subscribers[tenantID], ch)
	return ch
}

// Unsubscribe removes and closes ch.
func (b *Bus) Unsubscribe(tenantID string, ch chan *CloudEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[tenantID]
	for i, s := range subs {
		if s == ch {
			b.subscribers[tenantID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers event to every subscriber of event.TenantID. A full
// subscriber channel drops the event rather than blocking the
// publisher — this bus is explicitly best-effort.
func (b *Bus) Publish(event *CloudEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[event.TenantID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions across all tenants.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}
