package permissions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/liana-admin/liana/internal/controlplane"
)

// DefaultExpiration is how long a fetched bucket stays fresh.
const DefaultExpiration = 3600 * time.Second

// Fetcher retrieves the raw permission payload from the control plane.
type Fetcher interface {
	FetchPermissions(ctx context.Context, renderingID string, renderingSpecificOnly bool) (*controlplane.PermissionsResponse, error)
}

// RefreshOptions tunes a single refresh.
type RefreshOptions struct {
	// RenderingOnly limits the fetch to the rendering-scoped part of the
	// canonical format (scopes). Ignored by the legacy format.
	RenderingOnly bool
}

type renderingBucket struct {
	// collections is populated only by the legacy format, which ships a full
	// snapshot per rendering.
	collections  map[string]CollectionPermissions
	scopes       map[string]ScopeDefinition
	lastRetrieve time.Time
}

// Cache is the process-wide permission store. It is constructed once at
// startup and passed by reference to every consumer; all requests share the
// same instance.
//
// Concurrent refreshes are not serialized: two requests observing an expired
// bucket may both fetch, and the last writer wins. The data is idempotent
// per fetch, so the race is benign; the mutex below exists for Go memory
// safety, not to coordinate refreshes.
type Cache struct {
	fetcher    Fetcher
	expiration time.Duration
	logger     *slog.Logger

	mu                  sync.RWMutex
	rolesACL            bool
	collections         map[string]CollectionPermissions
	collectionsRetrieve time.Time
	renderings          map[string]*renderingBucket
}

// NewCache constructs the cache. A non-positive expiration falls back to
// DefaultExpiration.
func NewCache(fetcher Fetcher, expiration time.Duration, logger *slog.Logger) *Cache {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher:     fetcher,
		expiration:  expiration,
		logger:      logger,
		collections: make(map[string]CollectionPermissions),
		renderings:  make(map[string]*renderingBucket),
	}
}

// Get returns the canonical permissions for a collection, or nil when the
// cache holds nothing for it. Pure read, never triggers network I/O.
func (c *Cache) Get(renderingID, collection string) *CollectionPermissions {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if bucket, ok := c.renderings[renderingID]; ok && bucket.collections != nil {
		if perms, ok := bucket.collections[collection]; ok {
			return &perms
		}
	}
	if perms, ok := c.collections[collection]; ok {
		return &perms
	}
	return nil
}

// GetScope returns the scope granted on a collection for a rendering, or nil
// when none is configured. Pure read.
func (c *Cache) GetScope(renderingID, collection string) *ScopeDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bucket, ok := c.renderings[renderingID]
	if !ok {
		return nil
	}
	if scope, ok := bucket.scopes[collection]; ok {
		return &scope
	}
	return nil
}

// IsExpired reports whether a check of the given kind must refetch before
// evaluating. Browse freshness follows the rendering bucket because scope
// data is rendering-specific; the other kinds follow the shared collections
// bucket under the canonical format.
func (c *Cache) IsExpired(renderingID string, kind Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if kind == KindBrowse || !c.rolesACL {
		bucket, ok := c.renderings[renderingID]
		if !ok {
			return true
		}
		return c.stale(bucket.lastRetrieve)
	}
	return c.stale(c.collectionsRetrieve)
}

// CollectionsExpired reports staleness of the shared collections bucket only.
func (c *Cache) CollectionsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stale(c.collectionsRetrieve)
}

func (c *Cache) stale(lastRetrieve time.Time) bool {
	if lastRetrieve.IsZero() {
		return true
	}
	return time.Since(lastRetrieve) >= c.expiration
}

// Invalidate clears the last-retrieve timestamps touching a rendering. The
// data itself stays in place so a concurrent request can still be served
// from the stale snapshot until the next successful refresh.
func (c *Cache) Invalidate(renderingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bucket, ok := c.renderings[renderingID]; ok {
		bucket.lastRetrieve = time.Time{}
	}
	c.collectionsRetrieve = time.Time{}
}

// Refresh fetches the permission payload for a rendering, normalizes it and
// atomically replaces the relevant buckets. A fetch or decode failure leaves
// every bucket untouched and returns a *FetchError.
func (c *Cache) Refresh(ctx context.Context, renderingID string, opts RefreshOptions) error {
	response, err := c.fetcher.FetchPermissions(ctx, renderingID, opts.RenderingOnly)
	if err != nil {
		return &FetchError{cause: err}
	}

	var normalized *snapshot
	if response.RolesACLActivated {
		normalized, err = normalizeRolesACL(response.Data)
	} else {
		normalized, err = normalizeTeamsACL(renderingID, response.Data)
	}
	if err != nil {
		return &FetchError{cause: err}
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rolesACL = response.RolesACLActivated
	if response.RolesACLActivated {
		if !opts.RenderingOnly {
			c.collections = normalized.Collections
			c.collectionsRetrieve = now
		}
		for id, scopes := range normalized.Scopes {
			c.renderings[id] = &renderingBucket{scopes: scopes, lastRetrieve: now}
		}
		if _, ok := normalized.Scopes[renderingID]; !ok {
			c.renderings[renderingID] = &renderingBucket{scopes: map[string]ScopeDefinition{}, lastRetrieve: now}
		}
	} else {
		c.renderings[renderingID] = &renderingBucket{
			collections:  normalized.Collections,
			scopes:       normalized.Scopes[renderingID],
			lastRetrieve: now,
		}
	}

	c.logger.Debug("permissions refreshed",
		slog.String("rendering_id", renderingID),
		slog.Bool("roles_acl", response.RolesACLActivated),
		slog.Bool("rendering_only", opts.RenderingOnly))
	return nil
}
