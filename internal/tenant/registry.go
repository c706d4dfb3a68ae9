package tenant

import (
	"context"
	"sync"
)

// Purger is implemented by any repository that can remove (or anonymize)
// all rows for a single tenant. Registering it here is how a future
// tenant-offboarding workflow would discover every tenant-owned table
// without hand-maintaining a table list — the workflow itself is out of
// scope for now, but the registry it would walk is cheap to build up
// front and costly to retrofit later.
type Purger interface {
	PurgeTenant(ctx context.Context, tenantID string) error
}

// Registry collects the Purger for every tenant-owned repository
// constructed during process startup.
type Registry struct {
	mu      sync.Mutex
	purgers map[string]Purger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{purgers: make(map[string]Purger)}
}

// Register associates a table name with its Purger. Panics on duplicate
// registration of the same table — that indicates two repositories were
// wired for one table, which is always a startup bug.
func (r *Registry) Register(table string, p Purger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.purgers[table]; exists {
		panic("tenant: duplicate registry entry for table " + table)
	}
	r.purgers[table] = p
}

// Tables returns the registered table names, for diagnostics and for the
// (not yet implemented) tenant-deletion workflow to enumerate.
func (r *Registry) Tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.purgers))
	for t := range r.purgers {
		out = append(out, t)
	}
	return out
}
