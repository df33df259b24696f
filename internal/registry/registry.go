// Package registry caches the upstream model catalog. The cache is an
// atomically swapped snapshot: readers never observe a partially updated
// catalog and never contend with a refresh in flight.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sonarbridge/sonarbridge/internal/domain"
	"github.com/sonarbridge/sonarbridge/internal/observability"
)

// Registry implements domain.ModelRegistry.
type Registry struct {
	fetcher      domain.CatalogFetcher
	defaultModel string

	snapshot atomic.Pointer[catalog]
	fetchMu  sync.Mutex // serializes fetches; readers are lock-free
}

type catalog struct {
	models []domain.ModelDescriptor
	byID   map[string]domain.ModelDescriptor
}

// NewRegistry creates a model registry backed by the given fetcher.
// The cache has no automatic expiry; Refresh is explicit.
func NewRegistry(fetcher domain.CatalogFetcher, defaultModel string) *Registry {
	return &Registry{
		fetcher:      fetcher,
		defaultModel: defaultModel,
	}
}

// List returns the cached catalog, performing one blocking fetch if the
// cache is empty. Concurrent first callers share a single fetch.
func (r *Registry) List(ctx context.Context) ([]domain.ModelDescriptor, error) {
	snap, err := r.current(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]domain.ModelDescriptor, len(snap.models))
	copy(models, snap.models)
	return models, nil
}

// Refresh forces a fetch and replaces the cache atomically, returning the
// new count. On failure the previous cache is retained unchanged.
func (r *Registry) Refresh(ctx context.Context) (int, error) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	snap, err := r.fetch(ctx)
	if err != nil {
		return 0, err
	}

	r.snapshot.Store(snap)

	observability.FromContext(ctx).Info("model catalog refreshed",
		observability.Int("models", len(snap.models)))
	return len(snap.models), nil
}

// Resolve returns the descriptor for modelID, exact match first, then the
// configured default model.
func (r *Registry) Resolve(ctx context.Context, modelID string) (domain.ModelDescriptor, error) {
	snap, err := r.current(ctx)
	if err != nil {
		return domain.ModelDescriptor{}, err
	}

	if modelID != "" {
		if model, ok := snap.byID[modelID]; ok {
			return model, nil
		}
	}

	if model, ok := snap.byID[r.defaultModel]; ok {
		if modelID != "" {
			observability.FromContext(ctx).Info("falling back to default model",
				observability.String("requested", modelID),
				observability.String("default", r.defaultModel))
		}
		return model, nil
	}

	return domain.ModelDescriptor{}, fmt.Errorf("%w: %q (default %q not in catalog)", domain.ErrUnknownModel, modelID, r.defaultModel)
}

func (r *Registry) current(ctx context.Context) (*catalog, error) {
	if snap := r.snapshot.Load(); snap != nil {
		return snap, nil
	}

	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	// Another caller may have fetched while we waited.
	if snap := r.snapshot.Load(); snap != nil {
		return snap, nil
	}

	snap, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}

	r.snapshot.Store(snap)
	return snap, nil
}

func (r *Registry) fetch(ctx context.Context) (*catalog, error) {
	models, err := r.fetcher.FetchModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog fetch failed: %w", err)
	}

	byID := make(map[string]domain.ModelDescriptor, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}

	return &catalog{models: models, byID: byID}, nil
}
