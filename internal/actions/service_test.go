package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liana-admin/liana/internal/filters"
	"github.com/liana-admin/liana/internal/permissions"
	"github.com/liana-admin/liana/internal/records"
)

type fakeChecker struct {
	err error
}

func (c *fakeChecker) CheckPermissions(ctx context.Context, renderingID, collection string, kind permissions.Kind, info permissions.CheckInfo) error {
	return c.err
}

type fakeSource struct {
	perm *permissions.ActionPermission
	err  error
}

func (s *fakeSource) EnsureActionPermission(ctx context.Context, renderingID, collection, action string) (*permissions.ActionPermission, error) {
	return s.perm, s.err
}

type fakeCounter struct {
	calls int
	count func(query records.CountQuery) (int64, error)
}

func (c *fakeCounter) Count(ctx context.Context, collection string, userID int, query records.CountQuery) (int64, error) {
	c.calls++
	return c.count(query)
}

// countBySide returns base for the bare request filter and narrowed for any
// AND-combined tree, mimicking a condition that excludes part of the target.
func countBySide(base, narrowed int64) func(records.CountQuery) (int64, error) {
	return func(query records.CountQuery) (int64, error) {
		if _, ok := query.Filters.(*filters.Branch); ok {
			return narrowed, nil
		}
		return base, nil
	}
}

func triggerRequestFor(roleID int) Request {
	return Request{
		Caller:     Caller{UserID: 10, RoleID: roleID, RenderingID: "42"},
		Collection: "books",
		Action:     "publish",
		Filters:    &filters.Leaf{Field: "status", Operator: "equal", Value: "draft"},
	}
}

func TestAssertCanTriggerUnconditional(t *testing.T) {
	counter := &fakeCounter{count: countBySide(10, 10)}
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: &permissions.ActionPermission{}}, counter, nil)

	require.NoError(t, svc.AssertCanTrigger(context.Background(), triggerRequestFor(1)))
	require.Zero(t, counter.calls)
}

func TestAssertCanTriggerPermissionDenied(t *testing.T) {
	checker := &fakeChecker{err: &permissions.AccessForbiddenError{Kind: permissions.KindActions, Collection: "books"}}
	svc := NewAuthorizationService(checker, &fakeSource{}, &fakeCounter{}, nil)

	err := svc.AssertCanTrigger(context.Background(), triggerRequestFor(1))
	var forbidden *TriggerForbiddenError
	require.ErrorAs(t, err, &forbidden)
	require.Equal(t, "publish", forbidden.Action)
}

func TestAssertCanTriggerFetchFailurePassesThrough(t *testing.T) {
	cause := errors.New("control plane down")
	svc := NewAuthorizationService(&fakeChecker{err: cause}, &fakeSource{}, &fakeCounter{}, nil)

	err := svc.AssertCanTrigger(context.Background(), triggerRequestFor(1))
	require.ErrorIs(t, err, cause)
	var forbidden *TriggerForbiddenError
	require.False(t, errors.As(err, &forbidden))
}

func TestAssertCanTriggerConditionalSubset(t *testing.T) {
	condition := &filters.Leaf{Field: "price", Operator: "greater_than", Value: 0}
	perm := &permissions.ActionPermission{
		TriggerConditions: map[int]filters.Tree{1: condition},
	}

	// 7 of 10 target records satisfy the condition: deny.
	counter := &fakeCounter{count: countBySide(10, 7)}
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)
	err := svc.AssertCanTrigger(context.Background(), triggerRequestFor(1))
	var forbidden *TriggerForbiddenError
	require.ErrorAs(t, err, &forbidden)
	require.Equal(t, 2, counter.calls)

	// All 10 satisfy it: allowed.
	counter = &fakeCounter{count: countBySide(10, 10)}
	svc = NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)
	require.NoError(t, svc.AssertCanTrigger(context.Background(), triggerRequestFor(1)))

	// Another role has no condition and skips the counts entirely.
	counter = &fakeCounter{count: countBySide(10, 7)}
	svc = NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)
	require.NoError(t, svc.AssertCanTrigger(context.Background(), triggerRequestFor(2)))
	require.Zero(t, counter.calls)
}

func TestAssertCanTriggerRequiresApproval(t *testing.T) {
	sameCondition := &filters.Leaf{Field: "price", Operator: "greater_than", Value: 100}
	perm := &permissions.ActionPermission{
		RequiresApproval: permissions.Value{Everyone: true},
		ApprovalEnabled:  permissions.Value{IDs: []int{1, 2, 3}},
		ApprovalConditions: map[int]filters.Tree{
			1: &filters.Leaf{Field: "price", Operator: "greater_than", Value: 100},
			2: sameCondition,
		},
	}

	counter := &fakeCounter{count: countBySide(10, 10)}
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)

	err := svc.AssertCanTrigger(context.Background(), triggerRequestFor(9))
	var requires *RequiresApprovalError
	require.ErrorAs(t, err, &requires)
	require.Equal(t, []int{1, 2, 3}, requires.RoleIDsAllowedToApprove)
	// Content-equal conditions share one count: baseline plus one group.
	require.Equal(t, 2, counter.calls)
}

func TestAssertCanTriggerApprovalGroupExcluded(t *testing.T) {
	perm := &permissions.ActionPermission{
		RequiresApproval: permissions.Value{Everyone: true},
		ApprovalEnabled:  permissions.Value{IDs: []int{1, 3}},
		ApprovalConditions: map[int]filters.Tree{
			1: &filters.Leaf{Field: "price", Operator: "greater_than", Value: 100},
		},
	}

	// The group's narrowed count differs from the baseline: role 1 is out.
	counter := &fakeCounter{count: countBySide(10, 4)}
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)

	err := svc.AssertCanTrigger(context.Background(), triggerRequestFor(9))
	var requires *RequiresApprovalError
	require.ErrorAs(t, err, &requires)
	require.Equal(t, []int{3}, requires.RoleIDsAllowedToApprove)
}

func TestAssertCanTriggerApprovalShortCircuit(t *testing.T) {
	perm := &permissions.ActionPermission{
		RequiresApproval: permissions.Value{Everyone: true},
		RequiresApprovalConditions: map[int]filters.Tree{
			1: &filters.Leaf{Field: "price", Operator: "greater_than", Value: 1000000},
		},
		ApprovalEnabled: permissions.Value{IDs: []int{2}},
	}

	// No target record triggers the approval requirement.
	counter := &fakeCounter{count: countBySide(10, 0)}
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)

	require.NoError(t, svc.AssertCanTrigger(context.Background(), triggerRequestFor(1)))
	require.Equal(t, 1, counter.calls)
}

func TestAssertCanTriggerInvalidCondition(t *testing.T) {
	perm := &permissions.ActionPermission{
		TriggerConditions: map[int]filters.Tree{1: &filters.Leaf{Field: "x", Operator: "equal", Value: 1}},
	}
	counter := &fakeCounter{count: func(records.CountQuery) (int64, error) {
		return 0, records.ErrInvalidFilter
	}}
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)

	err := svc.AssertCanTrigger(context.Background(), triggerRequestFor(1))
	var invalid *InvalidConditionError
	require.ErrorAs(t, err, &invalid)
	require.ErrorIs(t, err, records.ErrInvalidFilter)
	var forbidden *TriggerForbiddenError
	require.False(t, errors.As(err, &forbidden))
}

func TestAssertCanTriggerUnknownAction(t *testing.T) {
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: nil}, &fakeCounter{}, nil)

	err := svc.AssertCanTrigger(context.Background(), triggerRequestFor(1))
	var forbidden *TriggerForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func TestAssertCanApprove(t *testing.T) {
	perm := &permissions.ActionPermission{
		ApprovalEnabled: permissions.Value{IDs: []int{6}},
		ApprovalConditions: map[int]filters.Tree{
			6: &filters.Leaf{Field: "price", Operator: "greater_than", Value: 100},
		},
	}

	counter := &fakeCounter{count: countBySide(10, 10)}
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)
	require.NoError(t, svc.AssertCanApprove(context.Background(), triggerRequestFor(6)))

	// Role outside the approval set is told who can approve instead.
	counter = &fakeCounter{count: countBySide(10, 10)}
	svc = NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)
	err := svc.AssertCanApprove(context.Background(), triggerRequestFor(7))
	var notAllowed *ApprovalNotAllowedError
	require.ErrorAs(t, err, &notAllowed)
	require.Equal(t, []int{6}, notAllowed.RoleIDsAllowedToApprove)
}

func TestAssertCanApproveConditionFails(t *testing.T) {
	perm := &permissions.ActionPermission{
		ApprovalEnabled: permissions.Value{IDs: []int{6}},
		ApprovalConditions: map[int]filters.Tree{
			6: &filters.Leaf{Field: "price", Operator: "greater_than", Value: 100},
		},
	}

	// Some target records fall outside role 6's approval condition.
	counter := &fakeCounter{count: countBySide(10, 3)}
	svc := NewAuthorizationService(&fakeChecker{}, &fakeSource{perm: perm}, counter, nil)

	err := svc.AssertCanApprove(context.Background(), triggerRequestFor(6))
	var notAllowed *ApprovalNotAllowedError
	require.ErrorAs(t, err, &notAllowed)
	// The same count rule excludes role 6 from the eligible list too.
	require.Empty(t, notAllowed.RoleIDsAllowedToApprove)
}
