package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the delivery audit log.
//
// Driver values:
//   - "file": JSON Lines file plus an in-memory window for Recent
//   - "sqlite": SQLite database file (build tag "sqlite")
//
// If Driver is empty or "none", auditing is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the final outcome of one event. It is an audit trail, not a
// replay log: queued events are never restored from it.
type Record struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	Kind      string    `json:"kind"`
	Outcome   string    `json:"outcome"`
	Attempts  int       `json:"attempts"`
	WaitedMS  int64     `json:"waited_ms,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type Store interface {
	AppendDelivery(ctx context.Context, r Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	// Prune deletes records older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}
