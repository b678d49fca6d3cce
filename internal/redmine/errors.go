package redmine

import (
	"fmt"
	"time"
)

// Kind classifies a tracker call failure. The values double as the
// machine-readable error kinds surfaced in tool results.
type Kind string

const (
	KindUnreachable  Kind = "tracker_unreachable"
	KindUnauthorized Kind = "tracker_unauthorized"
	KindForbidden    Kind = "tracker_forbidden"
	KindNotFound     Kind = "tracker_not_found"
	KindRateLimited  Kind = "tracker_rate_limited"
	KindMalformed    Kind = "tracker_malformed"
)

// Error is a typed tracker failure.
type Error struct {
	Kind       Kind
	Status     int           // HTTP status when one was received
	RetryAfter time.Duration // only set for rate_limited
	Endpoint   string
	Err        error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tracker %s: %s: %v", e.Endpoint, e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("tracker %s: %s (HTTP %d)", e.Endpoint, e.Kind, e.Status)
	}
	return fmt.Sprintf("tracker %s: %s", e.Endpoint, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether an idempotent GET may be retried.
func (e *Error) Transient() bool {
	return e.Kind == KindUnreachable || e.Kind == KindRateLimited
}
