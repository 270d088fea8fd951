package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transport sends a single event to the chat backend.
//
// Return nil when the message was delivered, a *ThrottledError (see Throttled)
// when the backend asked to slow down, and any other error for failures that
// should not be retried.
type Transport interface {
	Send(ctx context.Context, ev Event) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, ev Event) error

func (f TransportFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// ThrottledError reports a rate-limit rejection from the backend.
type ThrottledError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("throttled (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("throttled (retry after %s)", e.RetryAfter)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

// Throttled builds a ThrottledError. A non-positive retryAfter means the
// backend gave no hint; the retry policy then uses its default.
func Throttled(retryAfter time.Duration, cause error) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &ThrottledError{RetryAfter: retryAfter, Err: cause}
}

// RetryAfter reports whether err is a throttling error and the delay it
// carries.
func RetryAfter(err error) (time.Duration, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}
	return 0, false
}
