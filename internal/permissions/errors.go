package permissions

import "fmt"

// AccessForbiddenError is the policy decision "no". It is never retried and
// never wraps a system fault.
type AccessForbiddenError struct {
	Kind       Kind
	Collection string
}

func (e *AccessForbiddenError) Error() string {
	return fmt.Sprintf("'%s' access forbidden on %s", e.Kind, e.Collection)
}

// FetchError wraps a control-plane fetch failure. It is a collaborator
// fault, distinct from a denial, and must never be rendered as "forbidden".
type FetchError struct {
	cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("permissions: fetch failed: %v", e.cause)
}

func (e *FetchError) Unwrap() error {
	return e.cause
}
