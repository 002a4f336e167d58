package permissions

import "context"

// ActionPermission returns the cached permission entry for one smart action,
// or nil when the cache holds nothing for it. Pure read.
func (c *Cache) ActionPermission(renderingID, collection, action string) *ActionPermission {
	perms := c.Get(renderingID, collection)
	if perms == nil {
		return nil
	}
	if entry, ok := perms.Actions[action]; ok {
		return &entry
	}
	return nil
}

// EnsureActionPermission returns the permission entry for a smart action,
// refreshing the cache once when the entry is stale or missing. A nil result
// with a nil error means the control plane knows no such action.
func (c *Cache) EnsureActionPermission(ctx context.Context, renderingID, collection, action string) (*ActionPermission, error) {
	if c.IsExpired(renderingID, KindActions) {
		if err := c.Refresh(ctx, renderingID, RefreshOptions{}); err != nil {
			return nil, err
		}
		return c.ActionPermission(renderingID, collection, action), nil
	}
	if entry := c.ActionPermission(renderingID, collection, action); entry != nil {
		return entry, nil
	}
	if err := c.Refresh(ctx, renderingID, RefreshOptions{}); err != nil {
		return nil, err
	}
	return c.ActionPermission(renderingID, collection, action), nil
}
