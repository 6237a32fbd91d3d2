package analysis

import (
	"errors"
	"fmt"
	"sync"

	"dcsa-query/internal/metadata"
)

// ErrUnknownEntity is returned for names absent from the catalog.
var ErrUnknownEntity = errors.New("unknown entity")

// Registry builds analyses lazily, at most once per entity.
// The entry map is fixed at construction so lookups need no lock.
type Registry struct {
	catalog *metadata.Catalog
	entries map[string]*registryEntry
}

type registryEntry struct {
	once     sync.Once
	analysis *EntityAnalysis
	err      error
}

// NewRegistry creates a registry over catalog.
func NewRegistry(catalog *metadata.Catalog) *Registry {
	r := &Registry{
		catalog: catalog,
		entries: make(map[string]*registryEntry),
	}
	for _, name := range catalog.Names() {
		r.entries[name] = &registryEntry{}
	}
	return r
}

// Get returns the analysis for entity, building it on first use.
// Concurrent first callers share one build, including its error.
func (r *Registry) Get(entity string) (*EntityAnalysis, error) {
	entry, ok := r.entries[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	entry.once.Do(func() {
		entry.analysis, entry.err = Build(r.catalog, entity)
	})
	return entry.analysis, entry.err
}

// Preload builds every entity and returns the first failure.
func (r *Registry) Preload() error {
	for _, name := range r.catalog.Names() {
		if _, err := r.Get(name); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the catalog's entity names.
func (r *Registry) Names() []string {
	return r.catalog.Names()
}

// Catalog returns the underlying catalog.
func (r *Registry) Catalog() *metadata.Catalog {
	return r.catalog
}
