package storage

import (
	"context"
	"time"

	"loggerbot/internal/delivery"
	"loggerbot/internal/eventbus"
	logx "loggerbot/pkg/logx"
)

// Recorder writes the final outcome of every event published on the bus to
// a Store. Intermediate notices (queued, throttled) are ignored.
type Recorder struct {
	store     Store
	bus       eventbus.Bus
	log       logx.Logger
	retention time.Duration
}

func NewRecorder(store Store, bus eventbus.Bus, retention time.Duration, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, retention: retention, log: log.With(logx.String("comp", "audit"), logx.Local())}
}

// Run consumes the bus until ctx is done. With a retention set, old records
// are pruned at start and then hourly.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(1024)
	defer unsub()

	var prune <-chan time.Time
	if r.retention > 0 {
		r.prune(ctx)
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		prune = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-prune:
			r.prune(ctx)
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			rec, final := FromEvent(e)
			if !final {
				continue
			}
			if err := r.store.AppendDelivery(ctx, rec); err != nil {
				r.log.Warn("audit append failed", logx.String("id", rec.ID), logx.Err(err))
			}
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.store.Prune(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Info("audit records pruned", logx.Int("count", n), logx.Duration("retention", r.retention))
	}
}

// FromEvent converts a final delivery notice to a Record.
func FromEvent(e eventbus.Event) (Record, bool) {
	switch e.Type {
	case delivery.TypeSent, delivery.TypeFailed, delivery.TypeDropped, delivery.TypeCancelled:
	default:
		return Record{}, false
	}
	n, ok := e.Data.(delivery.Notice)
	if !ok {
		return Record{}, false
	}
	outcome := n.Outcome
	if outcome == "" {
		// Rejected by validation before it was queued.
		outcome = "rejected"
	}
	at := n.At
	if at.IsZero() {
		at = e.Time
	}
	return Record{
		ID:        n.ID,
		At:        at,
		ChatID:    n.ChatID,
		ThreadID:  n.ThreadID,
		Kind:      n.Kind,
		Outcome:   outcome,
		Attempts:  n.Attempts,
		WaitedMS:  n.Waited.Milliseconds(),
		LatencyMS: n.Latency.Milliseconds(),
		Error:     n.Error,
	}, true
}
