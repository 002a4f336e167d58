// Package records executes filter trees against collections. The count
// primitive is what the action authorization engine uses to reason about
// conditional permissions.
package records

import (
	"context"
	"errors"

	"github.com/liana-admin/liana/internal/filters"
)

// ErrInvalidFilter marks a count failure caused by a filter tree the backend
// cannot execute. Callers classify it as a condition fault, never as a
// denial.
var ErrInvalidFilter = errors.New("records: invalid filter")

// CountQuery describes one count request.
type CountQuery struct {
	Filters     filters.Tree
	Timezone    string
	RenderingID string
	// ExcludesScope bypasses the acting user's own browse scope. Role
	// eligibility baselines must reason over the full target set, not one
	// already narrowed by the caller's scope.
	ExcludesScope bool
}

// Counter returns the number of records of a collection matching a filter
// tree, as seen by the given user.
type Counter interface {
	Count(ctx context.Context, collection string, userID int, query CountQuery) (int64, error)
}
