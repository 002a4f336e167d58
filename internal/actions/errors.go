package actions

import "fmt"

// TriggerForbiddenError denies a smart action trigger outright. Terminal.
type TriggerForbiddenError struct {
	Action     string
	Collection string
}

func (e *TriggerForbiddenError) Error() string {
	return fmt.Sprintf("trigger forbidden for action '%s' on %s", e.Action, e.Collection)
}

// RequiresApprovalError reports that triggering succeeded but the action must
// be approved first. It carries the roles allowed to approve: actionable
// metadata for the caller, not a bare denial.
type RequiresApprovalError struct {
	Action                  string
	RoleIDsAllowedToApprove []int
}

func (e *RequiresApprovalError) Error() string {
	return fmt.Sprintf("action '%s' requires approval", e.Action)
}

// ApprovalNotAllowedError denies an approval attempt, carrying the roles
// that could approve instead.
type ApprovalNotAllowedError struct {
	Action                  string
	RoleIDsAllowedToApprove []int
}

func (e *ApprovalNotAllowedError) Error() string {
	return fmt.Sprintf("approval not allowed for action '%s'", e.Action)
}

// InvalidConditionError wraps a count computation failure (malformed filter,
// backend query error). It is a system fault, retryable after an admin fix,
// and must never be reported as an authorization denial.
type InvalidConditionError struct {
	Action string
	Err    error
}

func (e *InvalidConditionError) Error() string {
	return fmt.Sprintf("invalid condition on action '%s': %v", e.Action, e.Err)
}

func (e *InvalidConditionError) Unwrap() error {
	return e.Err
}
