package delivery

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"loggerbot/internal/eventbus"
	logx "loggerbot/pkg/logx"
)

var ErrNoTransport = errors.New("delivery transport not configured")

// Dispatcher owns the delivery queue, the per-destination limiter state and
// the transport handle. It is safe for concurrent use; create one per
// backend account.
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	transport Transport
	bus       eventbus.Bus

	queue Queue
	// active is the Idle/Draining flag. Only the goroutine that flips it
	// false->true may run the drain loop.
	active atomic.Bool
	// limiter is touched only by the draining goroutine.
	limiter *Limiter

	idleMu sync.Mutex
	idleCh chan struct{} // closed while idle
	idle   bool

	queued    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	exhausted atomic.Uint64
	cancelled atomic.Uint64
	throttled atomic.Uint64
	lastOK    atomic.Int64 // unix nano of last delivery
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Pending         int       `json:"pending"`
	Active          bool      `json:"active"`
	Queued          uint64    `json:"queued"`
	Delivered       uint64    `json:"delivered"`
	Failed          uint64    `json:"failed"`
	Exhausted       uint64    `json:"exhausted"`
	Cancelled       uint64    `json:"cancelled"`
	ThrottleRetries uint64    `json:"throttle_retries"`
	LastDeliveredAt time.Time `json:"last_delivered_at,omitempty"`
}

func New(cfg Config, t Transport, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Dispatcher{
		cfg:       cfg.WithDefaults(),
		log:       log.With(logx.String("comp", "delivery"), logx.Local()),
		transport: t,
		bus:       bus,
		limiter:   NewLimiter(),
		idleCh:    idle,
		idle:      true,
	}
}

// Apply swaps limits and retry settings. Takes effect from the next event.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg.WithDefaults()
	d.mu.Unlock()
}

func (d *Dispatcher) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Enqueue appends ev to the queue and makes sure a worker is draining it.
// It never blocks. ctx is the event's cancellation signal: once it is done
// the event is dropped without being sent (or retried).
func (d *Dispatcher) Enqueue(ctx context.Context, ev Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ev.Validate(); err != nil {
		d.failed.Add(1)
		d.log.Warn("rejected invalid event", logx.String("id", ev.ID), logx.Int64("chat_id", ev.Target.ChatID), logx.Err(err))
		d.publish(TypeFailed, ev, Notice{Error: err.Error()})
		return
	}

	d.queue.Push(job{ev: ev, ctx: ctx, enqueuedAt: time.Now()})
	d.queued.Add(1)
	d.publish(TypeQueued, ev, Notice{})
	d.kick()
}

// kick performs the Idle -> Draining transition if no worker is running.
func (d *Dispatcher) kick() {
	if !d.active.CompareAndSwap(false, true) {
		return
	}
	d.markBusy()
	go d.run()
}

func (d *Dispatcher) run() {
	for {
		d.drain()

		// Draining -> Idle. An Enqueue may have slipped in between the last
		// TryDequeue and the flag reset, so look again before leaving.
		d.active.Store(false)
		if d.queue.Len() == 0 {
			d.markIdle()
			return
		}
		if !d.active.CompareAndSwap(false, true) {
			// A producer already started a new worker.
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		j, ok := d.queue.TryDequeue()
		if !ok {
			return
		}
		d.process(j)
	}
}

func (d *Dispatcher) process(j job) {
	cfg := d.Config()
	ev := j.ev
	start := time.Now()

	if err := j.ctx.Err(); err != nil {
		d.finish(j, Attempt{Outcome: OutcomeCancelled, Err: err}, 0, start)
		return
	}

	wait := d.limiter.Remaining(ev.Target.ChatID, cfg.DestinationInterval, start)
	if wait > 0 {
		d.log.Trace("waiting for destination window", logx.String("id", ev.ID), logx.Int64("chat_id", ev.Target.ChatID), logx.Duration("wait", wait))
		if err := sleepCtx(j.ctx, wait); err != nil {
			d.finish(j, Attempt{Outcome: OutcomeCancelled, Err: err}, wait, start)
			return
		}
	}

	policy := RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		DefaultRetryAfter: cfg.DefaultRetryAfter,
		// Retries are sends too; keep them on the global spacing.
		MinBackoff: cfg.GlobalInterval,
		OnThrottle: func(attempt int, backoff time.Duration, err error) {
			d.throttled.Add(1)
			d.log.Debug("send throttled; backing off",
				logx.String("id", ev.ID),
				logx.Int64("chat_id", ev.Target.ChatID),
				logx.Int("attempt", attempt),
				logx.Int("max", cfg.MaxAttempts),
				logx.Duration("backoff", backoff),
				logx.Err(err),
			)
			d.publish(TypeThrottled, ev, Notice{Attempts: attempt, Waited: backoff, Error: err.Error()})
		},
	}
	res := policy.Run(j.ctx, func(ctx context.Context) error {
		return d.send(ctx, cfg.SendTimeout, ev)
	})

	if res.Attempts > 0 {
		d.limiter.Record(ev.Target.ChatID, time.Now(), cfg.DestinationInterval)
	}
	d.finish(j, res, wait, start)

	if res.Attempts > 0 {
		// Global ceiling: hold the worker regardless of the next destination.
		// Not tied to the event's context; it protects the account quota.
		time.Sleep(cfg.GlobalInterval)
	}
}

func (d *Dispatcher) send(ctx context.Context, timeout time.Duration, ev Event) (err error) {
	if d.transport == nil {
		return ErrNoTransport
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in transport", logx.String("id", ev.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.transport.Send(cctx, ev)
}

func (d *Dispatcher) finish(j job, res Attempt, waited time.Duration, start time.Time) {
	ev := j.ev
	n := Notice{
		Outcome:  res.Outcome.String(),
		Attempts: res.Attempts,
		Waited:   waited,
		Latency:  time.Since(j.enqueuedAt),
	}
	if res.Err != nil {
		n.Error = res.Err.Error()
	}
	fields := []logx.Field{
		logx.String("id", ev.ID),
		logx.Int64("chat_id", ev.Target.ChatID),
		logx.String("kind", ev.Kind().String()),
		logx.Int("attempts", res.Attempts),
		logx.Duration("took", time.Since(start)),
	}

	switch res.Outcome {
	case OutcomeDelivered:
		d.delivered.Add(1)
		d.lastOK.Store(time.Now().UnixNano())
		d.log.Debug("event delivered", fields...)
	case OutcomeExhausted:
		d.exhausted.Add(1)
		d.log.Warn("retries exhausted; dropping event", append(fields, logx.Err(res.Err))...)
	case OutcomeCancelled:
		d.cancelled.Add(1)
		d.log.Debug("event cancelled before delivery", append(fields, logx.Err(res.Err))...)
	default:
		d.failed.Add(1)
		d.log.Warn("delivery failed; dropping event", append(fields, logx.Err(res.Err))...)
	}
	d.publish(typeForOutcome(res.Outcome), ev, n)
}

func (d *Dispatcher) publish(typ string, ev Event, n Notice) {
	if d.bus == nil {
		return
	}
	n.ID = ev.ID
	n.ChatID = ev.Target.ChatID
	n.ThreadID = ev.Target.ThreadID
	n.Kind = ev.Kind().String()
	n.At = time.Now()
	d.bus.Publish(eventbus.Event{Type: typ, Time: n.At, Data: n})
}

func (d *Dispatcher) markBusy() {
	d.idleMu.Lock()
	if d.idle {
		d.idleCh = make(chan struct{})
		d.idle = false
	}
	d.idleMu.Unlock()
}

func (d *Dispatcher) markIdle() {
	d.idleMu.Lock()
	if !d.idle && !d.active.Load() && d.queue.Len() == 0 {
		close(d.idleCh)
		d.idle = true
	}
	d.idleMu.Unlock()
}

// WaitIdle blocks until the queue is empty and no worker is running, or ctx
// is done. It is a convenience for one-shot callers and tests, not a
// shutdown mechanism: events enqueued afterwards are still accepted.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	for {
		d.idleMu.Lock()
		ch := d.idleCh
		d.idleMu.Unlock()

		select {
		case <-ch:
			// Re-check: a new event may have re-armed the worker meanwhile.
			if !d.active.Load() && d.queue.Len() == 0 {
				return nil
			}
			time.Sleep(time.Millisecond)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) Stats() Stats {
	st := Stats{
		Pending:         d.queue.Len(),
		Active:          d.active.Load(),
		Queued:          d.queued.Load(),
		Delivered:       d.delivered.Load(),
		Failed:          d.failed.Load(),
		Exhausted:       d.exhausted.Load(),
		Cancelled:       d.cancelled.Load(),
		ThrottleRetries: d.throttled.Load(),
	}
	if ns := d.lastOK.Load(); ns > 0 {
		st.LastDeliveredAt = time.Unix(0, ns)
	}
	return st
}
