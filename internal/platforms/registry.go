package platforms

import (
	"fmt"
	"sync"

	"github.com/imageguard/guardian/internal/models"
)

// Registry holds the configured listing sources keyed by platform.
type Registry struct {
	mu      sync.RWMutex
	sources map[models.Platform]ListingSource
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[models.Platform]ListingSource)}
}

func (r *Registry) Register(source ListingSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.Platform()] = source
}

func (r *Registry) Get(platform models.Platform) (ListingSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[platform]
	if !ok {
		return nil, fmt.Errorf("no listing source registered for platform %q", platform)
	}
	return source, nil
}

func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	platforms := make([]models.Platform, 0, len(r.sources))
	for p := range r.sources {
		platforms = append(platforms, p)
	}
	return platforms
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, source := range r.sources {
		if err := source.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
