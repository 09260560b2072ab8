package registry

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/pool"
)

// Handle returns the pool for database if it has been created
func (r *Registry) Handle(database string) (*pool.Handle, bool) {
	h := r.lookup(strings.TrimSpace(database))
	return h, h != nil
}

// Databases returns the names of all created pools in sorted order
func (r *Registry) Databases() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Stats returns the statistics of one pool
func (r *Registry) Stats(database string) (pool.Stats, error) {
	h, ok := r.Handle(database)
	if !ok {
		return pool.Stats{}, errors.Newf(errors.ErrorTypeInvalidState, "no pool created for %q", strings.TrimSpace(database))
	}
	return h.Stats()
}

// Snapshot returns the statistics of every pool. Pools closed concurrently
// are left out.
func (r *Registry) Snapshot() map[string]pool.Stats {
	r.mu.RLock()
	handles := make([]*pool.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	out := make(map[string]pool.Stats, len(handles))
	for _, h := range handles {
		if s, err := h.Stats(); err == nil {
			out[h.Name()] = s
		}
	}
	return out
}

// PoolStats implements metrics.StatsSource
func (r *Registry) PoolStats() map[string]backend.Stat {
	snapshot := r.Snapshot()
	out := make(map[string]backend.Stat, len(snapshot))
	for name, s := range snapshot {
		out[name] = backend.Stat{
			Acquired: s.ActiveConnections,
			Idle:     s.IdleConnections,
			Total:    s.TotalConnections,
			Max:      s.MaxPoolSize,
		}
	}
	return out
}
