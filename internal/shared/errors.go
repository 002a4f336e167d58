package shared

import "errors"

var (
	// ErrMissingSecret occurs when a request carries no environment secret.
	ErrMissingSecret = errors.New("environment secret missing")
	// ErrInvalidSecret occurs when the environment secret does not match.
	ErrInvalidSecret = errors.New("environment secret mismatch")
)
