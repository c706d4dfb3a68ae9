// Package audit implements the hash-chained, append-only audit log
// (spec §3, §4.C): a best-effort, async-queued write path with a
// per-tenant serialization guarantee and an independently-verifiable
// chain of SHA-256 hashes.
package audit

import "time"

// Entry is a single audit record, pre-insert. Callers build one of these
// for every mutating action; Masker.Mask runs over OldValues/NewValues
// before the entry ever reaches the queue.
type Entry struct {
	TenantID   string
	Action     string
	EntityName string
	EntityID   string
	OldValues  map[string]any
	NewValues  map[string]any
	UserID     *string
	IP         string
	UserAgent  string
	Method     string
	Path       string
	StatusCode int
	DurationMS int64
}

// Log is a persisted audit row, including the chain linkage fields
// computed by the worker.
type Log struct {
	ID             string
	TenantID       string
	SequenceNumber int64 // negative reserved for DLQ entries
	PreviousHash   *string
	Hash           string
	Action         string
	EntityName     string
	EntityID       string
	OldValues      map[string]any
	NewValues      map[string]any
	UserID         *string
	IP             string
	UserAgent      string
	Method         string
	Path           string
	StatusCode     int
	DurationMS     int64
	CreatedAt      time.Time
}

// GetTenantID satisfies tenant.Entity.
func (l Log) GetTenantID() string { return l.TenantID }

// DLQSequenceNumber is the sentinel sequence number for chain-broken
// fallback entries; such rows are excluded from VerifyChain.
const DLQSequenceNumber int64 = -1
