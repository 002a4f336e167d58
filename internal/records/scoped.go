package records

import (
	"context"

	"github.com/liana-admin/liana/internal/filters"
	"github.com/liana-admin/liana/internal/permissions"
)

// ScopeSource resolves the scope granted to a user on a collection.
type ScopeSource interface {
	GetScope(renderingID, collection string) *permissions.ScopeDefinition
}

// ScopedCounter decorates a Counter so that counts issued on behalf of a
// user include that user's mandatory browse scope, unless the query opts out
// with ExcludesScope.
type ScopedCounter struct {
	inner  Counter
	scopes ScopeSource
}

// NewScopedCounter constructs a ScopedCounter.
func NewScopedCounter(inner Counter, scopes ScopeSource) *ScopedCounter {
	return &ScopedCounter{inner: inner, scopes: scopes}
}

// Count applies the user's scope filter and delegates to the inner counter.
func (c *ScopedCounter) Count(ctx context.Context, collection string, userID int, query CountQuery) (int64, error) {
	if !query.ExcludesScope {
		if scope := c.scopes.GetScope(query.RenderingID, collection); scope != nil {
			resolved, err := filters.ResolveVariables(scope.Filter, scope.ValuesForUser(userID))
			if err != nil {
				return 0, err
			}
			query.Filters = filters.And(query.Filters, resolved)
		}
	}
	return c.inner.Count(ctx, collection, userID, query)
}
