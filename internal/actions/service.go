// Package actions decides whether a user may trigger or approve a smart
// action, including the conditional variants that compare record counts to
// prove every targeted record satisfies the granted condition.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/liana-admin/liana/internal/filters"
	"github.com/liana-admin/liana/internal/permissions"
	"github.com/liana-admin/liana/internal/records"
)

// PermissionChecker gates the unconditional trigger permission.
type PermissionChecker interface {
	CheckPermissions(ctx context.Context, renderingID, collection string, kind permissions.Kind, info permissions.CheckInfo) error
}

// ActionPermissionSource exposes the conditional metadata of a smart action.
// *permissions.Cache implements it.
type ActionPermissionSource interface {
	EnsureActionPermission(ctx context.Context, renderingID, collection, action string) (*permissions.ActionPermission, error)
}

// Caller identifies the acting user for one authorization decision.
type Caller struct {
	UserID      int
	RoleID      int
	RenderingID string
}

// Request describes a trigger or approval attempt on a smart action.
type Request struct {
	Caller     Caller
	Collection string
	Action     string
	Filters    filters.Tree
	Timezone   string
}

// AuthorizationService implements the trigger/approval state machine.
//
// Subset reasoning is count based: equal counts of count(filter) and
// count(filter AND condition) are treated as "every targeted record matches
// the condition". This is only correct for monotone AND-narrowing
// conditions over the same base predicate; it is a deliberate approximation,
// not a structural guarantee.
type AuthorizationService struct {
	checker PermissionChecker
	source  ActionPermissionSource
	counter records.Counter
	logger  *slog.Logger
}

// NewAuthorizationService wires the service.
func NewAuthorizationService(checker PermissionChecker, source ActionPermissionSource, counter records.Counter, logger *slog.Logger) *AuthorizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationService{checker: checker, source: source, counter: counter, logger: logger}
}

// AssertCanTrigger resolves silently when the caller may run the action now.
// It returns *TriggerForbiddenError on denial, *RequiresApprovalError (with
// the roles allowed to approve) when an approval must be requested first,
// and *InvalidConditionError when a condition could not be evaluated.
func (s *AuthorizationService) AssertCanTrigger(ctx context.Context, req Request) error {
	if err := s.checker.CheckPermissions(ctx, req.Caller.RenderingID, req.Collection, permissions.KindActions, permissions.CheckInfo{
		UserID:     req.Caller.UserID,
		ActionName: req.Action,
		Filters:    req.Filters,
	}); err != nil {
		var forbidden *permissions.AccessForbiddenError
		if errors.As(err, &forbidden) {
			return &TriggerForbiddenError{Action: req.Action, Collection: req.Collection}
		}
		return err
	}

	perm, err := s.source.EnsureActionPermission(ctx, req.Caller.RenderingID, req.Collection, req.Action)
	if err != nil {
		return err
	}
	if perm == nil {
		return &TriggerForbiddenError{Action: req.Action, Collection: req.Collection}
	}

	if condition := perm.TriggerConditions[req.Caller.RoleID]; condition != nil {
		allMatch, err := s.allRecordsMatch(ctx, req, condition, false)
		if err != nil {
			return &InvalidConditionError{Action: req.Action, Err: err}
		}
		if !allMatch {
			// Some target records fall outside the permitted condition.
			return &TriggerForbiddenError{Action: req.Action, Collection: req.Collection}
		}
	}

	if !perm.RequiresApproval.Allows(req.Caller.RoleID) {
		return nil
	}

	if condition := perm.RequiresApprovalConditions[req.Caller.RoleID]; condition != nil {
		matching, err := s.count(ctx, req, filters.And(req.Filters, condition), false)
		if err != nil {
			return &InvalidConditionError{Action: req.Action, Err: err}
		}
		if matching == 0 {
			// No target record triggers the approval requirement.
			return nil
		}
	}

	roleIDs, err := s.resolveApproverRoles(ctx, req, perm)
	if err != nil {
		return &InvalidConditionError{Action: req.Action, Err: err}
	}
	return &RequiresApprovalError{Action: req.Action, RoleIDsAllowedToApprove: roleIDs}
}

// AssertCanApprove resolves silently when the caller may approve a pending
// action. On denial it returns *ApprovalNotAllowedError carrying the roles
// that can approve, so the caller can be told who to ask instead.
func (s *AuthorizationService) AssertCanApprove(ctx context.Context, req Request) error {
	perm, err := s.source.EnsureActionPermission(ctx, req.Caller.RenderingID, req.Collection, req.Action)
	if err != nil {
		return err
	}
	if perm == nil {
		return &ApprovalNotAllowedError{Action: req.Action}
	}

	denied := func() error {
		roleIDs, err := s.resolveApproverRoles(ctx, req, perm)
		if err != nil {
			return &InvalidConditionError{Action: req.Action, Err: err}
		}
		return &ApprovalNotAllowedError{Action: req.Action, RoleIDsAllowedToApprove: roleIDs}
	}

	if !perm.ApprovalEnabled.Allows(req.Caller.RoleID) {
		return denied()
	}
	if condition := perm.ApprovalConditions[req.Caller.RoleID]; condition != nil {
		allMatch, err := s.allRecordsMatch(ctx, req, condition, true)
		if err != nil {
			return &InvalidConditionError{Action: req.Action, Err: err}
		}
		if !allMatch {
			return denied()
		}
	}
	return nil
}

// allRecordsMatch compares count(filter) against count(filter AND condition).
func (s *AuthorizationService) allRecordsMatch(ctx context.Context, req Request, condition filters.Tree, excludesScope bool) (bool, error) {
	total, err := s.count(ctx, req, req.Filters, excludesScope)
	if err != nil {
		return false, err
	}
	matching, err := s.count(ctx, req, filters.And(req.Filters, condition), excludesScope)
	if err != nil {
		return false, err
	}
	return total == matching, nil
}

// resolveApproverRoles computes the set of roles eligible to approve this
// request. Roles sharing a content-equal condition are grouped so each
// distinct condition costs one count; the baseline and all group counts are
// dispatched together, bounding latency to one round-trip depth. Counts
// bypass the acting user's own scope: role eligibility reasons over the full
// target set.
func (s *AuthorizationService) resolveApproverRoles(ctx context.Context, req Request, perm *permissions.ActionPermission) ([]int, error) {
	conditions := make(map[int]filters.Tree, len(perm.ApprovalConditions))
	for _, roleID := range perm.ApprovalEnabled.IDs {
		conditions[roleID] = perm.ApprovalConditions[roleID]
	}
	groups, eligible := GroupRolesByCondition(conditions)
	if len(groups) == 0 {
		return eligible, nil
	}

	var (
		mu       sync.Mutex
		baseline int64
	)
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		count, err := s.count(grpCtx, req, req.Filters, true)
		if err != nil {
			return err
		}
		mu.Lock()
		baseline = count
		mu.Unlock()
		return nil
	})
	groupCounts := make([]int64, len(groups))
	for i, group := range groups {
		i, group := i, group
		grp.Go(func() error {
			count, err := s.count(grpCtx, req, filters.And(req.Filters, group.Condition), true)
			if err != nil {
				return err
			}
			mu.Lock()
			groupCounts[i] = count
			mu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	for i, group := range groups {
		if groupCounts[i] == baseline {
			eligible = append(eligible, group.RoleIDs...)
		}
	}
	sort.Ints(eligible)
	return eligible, nil
}

func (s *AuthorizationService) count(ctx context.Context, req Request, tree filters.Tree, excludesScope bool) (int64, error) {
	return s.counter.Count(ctx, req.Collection, req.Caller.UserID, records.CountQuery{
		Filters:       tree,
		Timezone:      req.Timezone,
		RenderingID:   req.Caller.RenderingID,
		ExcludesScope: excludesScope,
	})
}
