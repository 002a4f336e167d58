package permissions

import (
	"context"
	"log/slog"

	"github.com/liana-admin/liana/internal/observability"
)

// Checker evaluates permission checks against the cache, refreshing it when
// stale or when a first evaluation denies.
type Checker struct {
	cache   *Cache
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewChecker constructs a Checker. Metrics may be nil.
func NewChecker(cache *Cache, logger *slog.Logger, metrics *observability.Metrics) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{cache: cache, logger: logger, metrics: metrics}
}

// CheckPermissions resolves silently when the user may perform the given
// kind of operation on the collection, and returns *AccessForbiddenError
// otherwise.
//
// Retry-on-miss policy: evaluate against the current cache; on denial force
// exactly one refresh and re-evaluate once. "Permission was granted or
// revoked since the last cache fill" is the common case worth one retry, so
// a check costs at most one extra round-trip.
func (c *Checker) CheckPermissions(ctx context.Context, renderingID, collection string, kind Kind, info CheckInfo) error {
	refreshed := false
	if c.cache.IsExpired(renderingID, kind) {
		if err := c.refresh(ctx, renderingID, kind); err != nil {
			return err
		}
		refreshed = true
	}

	if c.evaluate(renderingID, collection, kind, info) {
		c.observe(kind, true)
		return nil
	}

	if !refreshed {
		if err := c.refresh(ctx, renderingID, kind); err != nil {
			return err
		}
		if c.evaluate(renderingID, collection, kind, info) {
			c.observe(kind, true)
			return nil
		}
	}

	c.observe(kind, false)
	c.logger.Info("permission denied",
		slog.String("rendering_id", renderingID),
		slog.String("collection", collection),
		slog.String("kind", string(kind)),
		slog.Int("user_id", info.UserID))
	return &AccessForbiddenError{Kind: kind, Collection: collection}
}

func (c *Checker) refresh(ctx context.Context, renderingID string, kind Kind) error {
	// Browse data is rendering-scoped; when the shared collections bucket is
	// still fresh the fetch can be limited to the rendering-specific part.
	renderingOnly := kind == KindBrowse && !c.cache.CollectionsExpired()
	err := c.cache.Refresh(ctx, renderingID, RefreshOptions{RenderingOnly: renderingOnly})
	if c.metrics != nil {
		c.metrics.ObserveCacheRefresh("checker", err == nil)
	}
	return err
}

func (c *Checker) evaluate(renderingID, collection string, kind Kind, info CheckInfo) bool {
	perms := c.cache.Get(renderingID, collection)
	if perms == nil {
		return false
	}

	switch kind {
	case KindActions:
		if info.ActionName == "" {
			return false
		}
		action, ok := perms.Actions[info.ActionName]
		if !ok {
			return false
		}
		return action.TriggerEnabled.Allows(info.UserID)
	case KindBrowse:
		if !perms.Browse.Allows(info.UserID) {
			return false
		}
		scope := c.cache.GetScope(renderingID, collection)
		if scope == nil {
			return true
		}
		return MatchScope(info.Filters, *scope, info.UserID)
	default:
		value, ok := perms.ValueFor(kind)
		if !ok {
			return false
		}
		return value.Allows(info.UserID)
	}
}

func (c *Checker) observe(kind Kind, allowed bool) {
	if c.metrics != nil {
		c.metrics.ObservePermissionCheck(string(kind), allowed)
	}
}
