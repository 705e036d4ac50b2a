package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/port"
)

// Registry maps surface ids to adapters built once at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]port.SurfaceAdapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]port.SurfaceAdapter)}
}

// Register adds a under its metadata id. Registering the same id twice is an error.
func (r *Registry) Register(a port.SurfaceAdapter) error {
	id := a.Metadata().ID
	if id == "" {
		return &domain.ErrValidation{Field: "id", Message: "surface id is required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[id]; ok {
		return &domain.ErrDuplicate{Key: id}
	}
	r.adapters[id] = a
	return nil
}

// Get returns the adapter for surfaceID.
func (r *Registry) Get(surfaceID string) (port.SurfaceAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[surfaceID]
	return a, ok
}

// Has reports whether surfaceID is registered.
func (r *Registry) Has(surfaceID string) bool {
	_, ok := r.Get(surfaceID)
	return ok
}

// IDs returns the registered surface ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns metadata of every registered surface, sorted by id.
func (r *Registry) List() []domain.SurfaceMetadata {
	ids := r.IDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SurfaceMetadata, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.adapters[id].Metadata())
	}
	return out
}

// Close closes every adapter and reports all failures together.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for id, a := range r.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
