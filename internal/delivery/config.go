package delivery

import "time"

// Defaults match Telegram's documented limits: ~30 messages per second per
// bot and ~20 messages per minute per group.
const (
	DefaultGlobalInterval      = 35 * time.Millisecond
	DefaultDestinationInterval = 3 * time.Second
	DefaultMaxAttempts         = 5
	DefaultRetryAfter          = 5 * time.Second
	DefaultSendTimeout         = 30 * time.Second
)

// Config controls the dispatcher's rate limits and retry policy.
// Zero values fall back to the defaults above.
type Config struct {
	GlobalInterval      time.Duration
	DestinationInterval time.Duration
	MaxAttempts         int
	DefaultRetryAfter   time.Duration
	SendTimeout         time.Duration
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.GlobalInterval <= 0 {
		c.GlobalInterval = DefaultGlobalInterval
	}
	if c.DestinationInterval <= 0 {
		c.DestinationInterval = DefaultDestinationInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = DefaultRetryAfter
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}
