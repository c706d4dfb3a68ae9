// Package tenant implements the ambient tenant-context engine (spec §4.A).
//
// Go has no implicit async-local storage, so the engine is built on the
// one suspension-safe primitive the language actually offers:
// context.Context, threaded explicitly through every call (design option
// (c) in spec §9). Run installs a tenant for the duration of fn and any
// goroutine fn spawns, as long as that goroutine is handed the context Run
// passes it — the same discipline the standard library itself expects of
// context-carrying code.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ocx/opscore/internal/apierr"
)

type ctxKey int

const (
	keyTenantID ctxKey = iota
	keyCorrelationID
	keyUserID
)

// Absent is the sentinel tenant id returned by Current when no tenant is
// installed.
const Absent = ""

// Current returns the ambient tenant id, or Absent if none is installed.
// Used by read-only paths that tolerate absence (health, metrics).
func Current(ctx context.Context) string {
	v, _ := ctx.Value(keyTenantID).(string)
	return v
}

// Require returns the ambient tenant id or a TenantContextMissing error.
// Every repository method operating on a tenant-owned entity calls this.
func Require(ctx context.Context) (string, error) {
	v := Current(ctx)
	if v == "" {
		return "", apierr.ErrTenantContextMissing
	}
	return v, nil
}

// MustRequire panics if no tenant is installed. Reserved for code paths
// that are only ever reached after a Require check has already passed
// (e.g. deep inside a repository call chain) — never call this directly
// from a handler.
func MustRequire(ctx context.Context) string {
	id, err := Require(ctx)
	if err != nil {
		panic(err)
	}
	return id
}

// CorrelationID returns the ambient correlation id, or "" if none.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(keyCorrelationID).(string)
	return v
}

// UserID returns the ambient authenticated user id, or "" if none.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(keyUserID).(string)
	return v
}

// With installs tenant/correlation/user identity onto ctx and returns the
// derived context. correlationID is generated if empty.
func With(ctx context.Context, tenantID, correlationID, userID string) context.Context {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = context.WithValue(ctx, keyTenantID, tenantID)
	ctx = context.WithValue(ctx, keyCorrelationID, correlationID)
	if userID != "" {
		ctx = context.WithValue(ctx, keyUserID, userID)
	}
	return ctx
}

// Run installs tenantID (and optional correlation/user ids) for the
// duration of fn. Scheduled jobs iterate the tenant set and wrap each
// per-tenant pass in Run.
func Run(ctx context.Context, tenantID, correlationID, userID string, fn func(context.Context) error) error {
	if tenantID == "" {
		return errors.New("tenant: Run requires a non-empty tenantID")
	}
	return fn(With(ctx, tenantID, correlationID, userID))
}
