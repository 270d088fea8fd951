package config

// Config is the on-disk service configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "35ms", "3s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`

	// Projects maps a project name to its destination ("chat" or
	// "chat:thread"). Names are matched case-insensitively.
	Projects map[string]string `json:"projects,omitempty"`
	// Environment is shown in error reports (e.g. "production").
	Environment string `json:"environment,omitempty"`

	Logging   LoggingConfig    `json:"logging"`
	HTTP      HTTPConfig       `json:"http,omitempty"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Heartbeat *HeartbeatConfig `json:"heartbeat,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API server).
	APIURL string `json:"api_url,omitempty"`
	// DefaultChatID receives messages submitted without a project.
	DefaultChatID string `json:"default_chat_id"`
	// ParseMode defaults to "Markdown".
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	// Silent defaults to true.
	Silent *bool `json:"silent,omitempty"`
	// Timeout bounds a single Bot API request. Default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// DeliveryConfig controls the outbound queue. Omitted fields use the Bot API
// limits: 35ms between any two sends, 3s between sends to the same chat,
// 5 attempts for throttled sends, 5s backoff when no retry hint is given.
type DeliveryConfig struct {
	GlobalInterval      string `json:"global_interval,omitempty"`
	DestinationInterval string `json:"destination_interval,omitempty"`
	MaxAttempts         int    `json:"max_attempts,omitempty"`
	DefaultRetryAfter   string `json:"default_retry_after,omitempty"`
	SendTimeout         string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards the service's own log records to a chat.
type LoggingTelegram struct {
	Enabled bool `json:"enabled"`
	// Chat is "chat[:thread]"; empty means telegram.default_chat_id.
	Chat       string `json:"chat,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HTTPConfig controls the optional ingestion and ops HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`

	// MaxBodyBytes caps POST /v1/logs bodies. Default 8 MiB.
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the delivery audit log.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./loggerbot_audit" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	// Retention drops audit records older than this. Empty keeps everything.
	Retention string `json:"retention,omitempty"`
}

// HeartbeatConfig posts dispatcher statistics on a cron schedule.
type HeartbeatConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec; seconds are optional, descriptors such as
	// "@hourly" and "@every 30m" are accepted.
	Schedule string `json:"schedule"`
	// Project receives the message; empty means the default destination.
	Project  string `json:"project,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
