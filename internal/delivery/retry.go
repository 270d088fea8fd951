package delivery

import (
	"context"
	"time"
)

// Outcome is the terminal state of one event.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeFailed
	OutcomeExhausted
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds retries of throttled sends.
type RetryPolicy struct {
	// MaxAttempts is the total number of sends allowed for one event.
	MaxAttempts int
	// DefaultRetryAfter is used when the backend throttles without a hint.
	DefaultRetryAfter time.Duration
	// MinBackoff is the lower bound of every throttle wait.
	MinBackoff time.Duration
	// OnThrottle, if set, is called before each backoff sleep.
	OnThrottle func(attempt int, wait time.Duration, err error)
}

// Attempt summarises one run of the policy.
type Attempt struct {
	Attempts int
	Outcome  Outcome
	Err      error
}

func (p RetryPolicy) Run(ctx context.Context, send func(ctx context.Context) error) Attempt {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var res Attempt
	for res.Attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			res.Outcome, res.Err = OutcomeCancelled, err
			return res
		}

		res.Attempts++
		err := send(ctx)
		if err == nil {
			res.Outcome, res.Err = OutcomeDelivered, nil
			return res
		}
		res.Err = err
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			return res
		}

		retryAfter, throttled := RetryAfter(err)
		if !throttled {
			res.Outcome = OutcomeFailed
			return res
		}
		if res.Attempts >= maxAttempts {
			break
		}

		wait := p.backoff(retryAfter)
		if p.OnThrottle != nil {
			p.OnThrottle(res.Attempts, wait, err)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			res.Outcome, res.Err = OutcomeCancelled, err
			return res
		}
	}
	res.Outcome = OutcomeExhausted
	return res
}

func (p RetryPolicy) backoff(retryAfter time.Duration) time.Duration {
	wait := retryAfter
	if wait <= 0 {
		wait = p.DefaultRetryAfter
	}
	if wait < p.MinBackoff {
		wait = p.MinBackoff
	}
	return wait
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
