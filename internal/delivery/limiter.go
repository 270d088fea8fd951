package delivery

import "time"

// limiterPruneAt bounds the lastSentAt map; stale entries are dropped once it
// grows past this size.
const limiterPruneAt = 1024

// Limiter tracks the last send per chat and answers how long the next send to
// that chat has to wait. It is owned by the dispatcher worker and is not safe
// for concurrent use.
type Limiter struct {
	lastSentAt map[int64]time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{lastSentAt: map[int64]time.Time{}}
}

// Remaining returns max(0, interval - (now - lastSentAt[chatID])), or zero if
// the chat has never been sent to.
func (l *Limiter) Remaining(chatID int64, interval time.Duration, now time.Time) time.Duration {
	if interval <= 0 {
		return 0
	}
	last, ok := l.lastSentAt[chatID]
	if !ok {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= interval {
		return 0
	}
	if elapsed < 0 {
		// Clock went backwards; wait the full interval.
		return interval
	}
	return interval - elapsed
}

func (l *Limiter) Record(chatID int64, at time.Time, interval time.Duration) {
	l.lastSentAt[chatID] = at
	if len(l.lastSentAt) > limiterPruneAt {
		l.prune(at, interval)
	}
}

func (l *Limiter) prune(now time.Time, interval time.Duration) {
	for id, at := range l.lastSentAt {
		if now.Sub(at) >= interval {
			delete(l.lastSentAt, id)
		}
	}
}

func (l *Limiter) Len() int { return len(l.lastSentAt) }
