package generate

import (
	"fmt"
	"time"
)

// ErrorKind enumerates generation failure classes. The kind decides the
// retry policy; callers never parse error strings.
type ErrorKind int

const (
	// KindServiceUnavailable covers network failures, 5xx responses and
	// timeouts. Retryable with exponential backoff.
	KindServiceUnavailable ErrorKind = iota + 1

	// KindRateLimited means the service asked us to slow down. Retried
	// after honoring the cooldown.
	KindRateLimited

	// KindSchemaInvalid means the service returned a draft that fails the
	// entry schema even after one corrective follow-up. The candidate is
	// dropped for this run and stays eligible for a later run.
	KindSchemaInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindSchemaInvalid:
		return "schema_invalid"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is a classified generation failure.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Kind       ErrorKind
	Headword   string
	RetryAfter time.Duration // cooldown hint for KindRateLimited, 0 if none
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("generation %s for %q: %v", e.Kind, e.Headword, e.cause)
	}
	return fmt.Sprintf("generation %s for %q", e.Kind, e.Headword)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether a later run may succeed without human action.
func (e *Error) Retryable() bool {
	return e.Kind == KindServiceUnavailable || e.Kind == KindRateLimited
}
