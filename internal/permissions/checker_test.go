package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liana-admin/liana/internal/controlplane"
	"github.com/liana-admin/liana/internal/filters"
)

func teamsResponse(collections string) *controlplane.PermissionsResponse {
	return &controlplane.PermissionsResponse{Data: json.RawMessage(collections)}
}

func TestCheckPermissionsBooleanRule(t *testing.T) {
	fetcher := &stubFetcher{response: teamsResponse(`{
		"books": {
			"collection": {
				"browseEnabled": true,
				"readEnabled": true,
				"editEnabled": false,
				"addEnabled": [10, 11],
				"deleteEnabled": false,
				"exportEnabled": false
			},
			"actions": {}
		}
	}`)}
	checker := NewChecker(NewCache(fetcher, time.Hour, nil), nil, nil)
	ctx := context.Background()

	require.NoError(t, checker.CheckPermissions(ctx, "1", "books", KindRead, CheckInfo{UserID: 10}))

	err := checker.CheckPermissions(ctx, "1", "books", KindEdit, CheckInfo{UserID: 10})
	var forbidden *AccessForbiddenError
	require.ErrorAs(t, err, &forbidden)
	require.Equal(t, KindEdit, forbidden.Kind)
	require.Equal(t, "books", forbidden.Collection)

	require.NoError(t, checker.CheckPermissions(ctx, "1", "books", KindAdd, CheckInfo{UserID: 11}))
	require.Error(t, checker.CheckPermissions(ctx, "1", "books", KindAdd, CheckInfo{UserID: 12}))
}

func TestCheckPermissionsFetchesOnce(t *testing.T) {
	fetcher := &stubFetcher{response: teamsResponse(`{
		"books": {
			"collection": {
				"browseEnabled": true, "readEnabled": true, "editEnabled": true,
				"addEnabled": true, "deleteEnabled": true, "exportEnabled": true
			},
			"actions": {}
		}
	}`)}
	checker := NewChecker(NewCache(fetcher, time.Hour, nil), nil, nil)
	ctx := context.Background()

	require.NoError(t, checker.CheckPermissions(ctx, "1", "books", KindRead, CheckInfo{UserID: 1}))
	require.NoError(t, checker.CheckPermissions(ctx, "1", "books", KindRead, CheckInfo{UserID: 1}))
	require.Equal(t, 1, fetcher.calls)
}

func TestCheckPermissionsForcedRefreshOnDenial(t *testing.T) {
	denied := teamsResponse(`{
		"books": {
			"collection": {
				"browseEnabled": false, "readEnabled": false, "editEnabled": false,
				"addEnabled": false, "deleteEnabled": false, "exportEnabled": false
			},
			"actions": {}
		}
	}`)
	granted := teamsResponse(`{
		"books": {
			"collection": {
				"browseEnabled": false, "readEnabled": true, "editEnabled": false,
				"addEnabled": false, "deleteEnabled": false, "exportEnabled": false
			},
			"actions": {}
		}
	}`)

	fetcher := &stubFetcher{response: denied}
	cache := NewCache(fetcher, time.Hour, nil)
	checker := NewChecker(cache, nil, nil)
	ctx := context.Background()

	require.Error(t, checker.CheckPermissions(ctx, "1", "books", KindRead, CheckInfo{UserID: 1}))
	require.Equal(t, 1, fetcher.calls)

	// Grant appears server-side; a single call must pick it up via the
	// forced refresh instead of reporting the stale denial.
	fetcher.response = granted
	require.NoError(t, checker.CheckPermissions(ctx, "1", "books", KindRead, CheckInfo{UserID: 1}))
	require.Equal(t, 2, fetcher.calls)
}

func TestCheckPermissionsActionKind(t *testing.T) {
	fetcher := &stubFetcher{response: teamsResponse(`{
		"books": {
			"collection": {
				"browseEnabled": true, "readEnabled": true, "editEnabled": true,
				"addEnabled": true, "deleteEnabled": true, "exportEnabled": true
			},
			"actions": {
				"publish": {"allowed": true, "users": [3]}
			}
		}
	}`)}
	checker := NewChecker(NewCache(fetcher, time.Hour, nil), nil, nil)
	ctx := context.Background()

	require.NoError(t, checker.CheckPermissions(ctx, "1", "books", KindActions, CheckInfo{UserID: 3, ActionName: "publish"}))
	require.Error(t, checker.CheckPermissions(ctx, "1", "books", KindActions, CheckInfo{UserID: 4, ActionName: "publish"}))
	require.Error(t, checker.CheckPermissions(ctx, "1", "books", KindActions, CheckInfo{UserID: 3, ActionName: "missing"}))
	require.Error(t, checker.CheckPermissions(ctx, "1", "books", KindActions, CheckInfo{UserID: 3}))
}

func TestCheckPermissionsBrowseScope(t *testing.T) {
	fetcher := &stubFetcher{response: teamsResponse(`{
		"books": {
			"collection": {
				"browseEnabled": true, "readEnabled": true, "editEnabled": true,
				"addEnabled": true, "deleteEnabled": true, "exportEnabled": true
			},
			"actions": {},
			"scope": {
				"filter": {"field": "owner_id", "operator": "equal", "value": "$currentUser.id"},
				"dynamicScopesValues": {"users": {"5": {"$currentUser.id": 5}}}
			}
		}
	}`)}
	checker := NewChecker(NewCache(fetcher, time.Hour, nil), nil, nil)
	ctx := context.Background()

	scoped := &filters.Leaf{Field: "owner_id", Operator: "equal", Value: 5.0}
	require.NoError(t, checker.CheckPermissions(ctx, "1", "books", KindBrowse, CheckInfo{UserID: 5, Filters: scoped}))

	unscoped := &filters.Leaf{Field: "title", Operator: "present"}
	require.Error(t, checker.CheckPermissions(ctx, "1", "books", KindBrowse, CheckInfo{UserID: 5, Filters: unscoped}))
	require.Error(t, checker.CheckPermissions(ctx, "1", "books", KindBrowse, CheckInfo{UserID: 5}))
}

func TestCheckPermissionsFetchFailure(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("control plane down")}
	checker := NewChecker(NewCache(fetcher, time.Hour, nil), nil, nil)

	err := checker.CheckPermissions(context.Background(), "1", "books", KindRead, CheckInfo{UserID: 1})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	var forbidden *AccessForbiddenError
	require.False(t, errors.As(err, &forbidden))
}

func TestCheckPermissionsUnknownCollection(t *testing.T) {
	fetcher := &stubFetcher{response: teamsResponse(`{}`)}
	checker := NewChecker(NewCache(fetcher, time.Hour, nil), nil, nil)

	err := checker.CheckPermissions(context.Background(), "1", "ghosts", KindRead, CheckInfo{UserID: 1})
	var forbidden *AccessForbiddenError
	require.ErrorAs(t, err, &forbidden)
	// Initial fill plus the forced retry.
	require.Equal(t, 2, fetcher.calls)
}
