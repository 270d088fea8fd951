// Package delivery is the outbound delivery queue.
//
// Callers hand Events to a Dispatcher with Enqueue. The call never blocks and
// never fails; events are appended to an unbounded FIFO and drained by at most
// one worker goroutine at a time. The worker is started lazily by Enqueue and
// exits once the queue is empty (Idle <-> Draining, switched with a CAS).
//
// Because a single worker performs every send, delivery order equals
// submission order and no two Transport.Send calls ever overlap.
//
// # Rate limits
//
// Two ceilings apply to every send:
//   - a per-destination minimum spacing, checked before the send by the
//     Limiter (lastSentAt per chat);
//   - a global minimum spacing, enforced by the worker sleeping for the
//     global interval after every processed event.
//
// # Retries
//
// Transports report throttling with a ThrottledError carrying the provider's
// retry-after hint. Such sends are retried up to RetryPolicy.MaxAttempts;
// every other error drops the event after a single attempt. Failures never
// reach the caller; they surface as log lines and event bus notifications.
//
// # Cancellation
//
// The context passed to Enqueue is the event's cancellation signal. It is
// honoured before the send, during the per-destination wait and during
// throttle backoff. Cancelling one event never affects the ones behind it.
package delivery
