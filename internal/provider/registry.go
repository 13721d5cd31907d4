package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/styryl1/invoicecore/internal/domain"
)

// Registry hands out per-tenant adapter instances with caching.
//
// Registry responsibilities:
// - Gate every lookup on the deployment-level enable flag
// - Build adapter instances via the registered builders
// - Cache instances to avoid re-reading credentials on every call
// - Invalidate cache entries when a tenant connects or disconnects
type Registry interface {
	// Adapter returns the adapter for (tenant, provider). A disabled or
	// unregistered provider yields ENOTIMPL with the canonical
	// not-connected message; so does a tenant without credentials.
	Adapter(ctx context.Context, tenantID uuid.UUID, p domain.Provider) (Adapter, error)

	// InvalidateCache removes the cached adapter for the given tenant and
	// provider. Call this when the tenant's credentials change.
	InvalidateCache(tenantID uuid.UUID, p domain.Provider)

	// InvalidateAllCache clears all cached adapter instances.
	InvalidateAllCache()
}

// DefaultRegistry implements Registry with in-memory caching.
type DefaultRegistry struct {
	builders map[domain.Provider]Builder
	enabled  map[domain.Provider]bool
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	tenantID uuid.UUID
	provider domain.Provider
}

type cacheEntry struct {
	adapter   Adapter
	expiresAt time.Time
}

// NewRegistry creates a registry over the given builders. Providers
// absent from enabled (or mapped to false) are treated as not deployed.
// If cacheTTL is zero or negative, defaults to 1 hour.
func NewRegistry(builders map[domain.Provider]Builder, enabled map[domain.Provider]bool, cacheTTL time.Duration) *DefaultRegistry {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &DefaultRegistry{
		builders: builders,
		enabled:  enabled,
		cacheTTL: cacheTTL,
		cache:    make(map[cacheKey]cacheEntry),
	}
}

var _ Registry = (*DefaultRegistry)(nil)

// Adapter returns the adapter for the tenant, building one on cache miss.
func (r *DefaultRegistry) Adapter(ctx context.Context, tenantID uuid.UUID, p domain.Provider) (Adapter, error) {
	if !p.Valid() {
		return nil, domain.Invalid("registry.adapter", "unknown provider: "+string(p))
	}
	if !r.enabled[p] {
		return nil, domain.NotConnected("registry.adapter", p)
	}
	builder, ok := r.builders[p]
	if !ok {
		return nil, domain.NotConnected("registry.adapter", p)
	}

	key := cacheKey{tenantID: tenantID, provider: p}

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.adapter, nil
	}

	adapter, err := builder(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{adapter: adapter, expiresAt: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()

	return adapter, nil
}

// InvalidateCache removes the cached adapter for the tenant and provider.
func (r *DefaultRegistry) InvalidateCache(tenantID uuid.UUID, p domain.Provider) {
	r.mu.Lock()
	delete(r.cache, cacheKey{tenantID: tenantID, provider: p})
	r.mu.Unlock()
}

// InvalidateAllCache clears all cached adapter instances.
func (r *DefaultRegistry) InvalidateAllCache() {
	r.mu.Lock()
	r.cache = make(map[cacheKey]cacheEntry)
	r.mu.Unlock()
}
