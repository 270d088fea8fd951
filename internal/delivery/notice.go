package delivery

import "time"

// Event bus types published by the dispatcher.
const (
	TypeQueued    = "delivery.queued"
	TypeSent      = "delivery.sent"
	TypeThrottled = "delivery.throttled"
	TypeFailed    = "delivery.failed"
	TypeDropped   = "delivery.dropped"
	TypeCancelled = "delivery.cancelled"
)

// Notice is the event bus payload for delivery lifecycle events.
// Keep it small; subscribers may log or persist it.
type Notice struct {
	ID       string        `json:"id"`
	ChatID   int64         `json:"chat_id"`
	ThreadID int           `json:"thread_id,omitempty"`
	Kind     string        `json:"kind"`
	Outcome  string        `json:"outcome,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Waited   time.Duration `json:"waited,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

func typeForOutcome(o Outcome) string {
	switch o {
	case OutcomeDelivered:
		return TypeSent
	case OutcomeExhausted:
		return TypeDropped
	case OutcomeCancelled:
		return TypeCancelled
	default:
		return TypeFailed
	}
}
