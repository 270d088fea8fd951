package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"loggerbot/internal/config"
	"loggerbot/internal/delivery"
	"loggerbot/internal/heartbeat"
	"loggerbot/internal/httpapi"
	"loggerbot/internal/reporter"
	"loggerbot/internal/storage"
	kit "loggerbot/internal/transport"
	"loggerbot/internal/transport/telegram"
	logx "loggerbot/pkg/logx"
)

// Settings is the runtime form of config.Config: durations parsed, chat
// targets resolved, defaults applied.
type Settings struct {
	Telegram  telegram.Config
	Delivery  delivery.Config
	Reporter  reporter.Config
	Logging   logx.Config
	HTTP      httpapi.Config
	Storage   storage.Config
	Retention time.Duration
	Heartbeat heartbeat.Config
}

// MapSettings converts cfg. It fails on anything config.Validate would
// reject and on heartbeat schedules cron cannot parse.
func MapSettings(cfg *config.Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config is nil")
	}
	var s Settings
	var err error

	tg := cfg.Telegram
	s.Telegram = telegram.Config{
		Token:          strings.TrimSpace(tg.Token),
		APIURL:         strings.TrimSpace(tg.APIURL),
		ParseMode:      tg.ParseMode,
		DisablePreview: tg.DisablePreview,
		Silent:         tg.Silent == nil || *tg.Silent,
	}
	if s.Telegram.ParseMode == "" {
		s.Telegram.ParseMode = kit.ParseModeMarkdown
	}
	if s.Telegram.Timeout, err = config.ParseDurationOrDefault("telegram.timeout", tg.Timeout, 30*time.Second); err != nil {
		return Settings{}, err
	}

	var def kit.ChatTarget
	if strings.TrimSpace(tg.DefaultChatID) != "" {
		if def, err = kit.ParseChatTarget(tg.DefaultChatID); err != nil {
			return Settings{}, fmt.Errorf("telegram.default_chat_id: %w", err)
		}
	}

	d := cfg.Delivery
	s.Delivery.MaxAttempts = d.MaxAttempts
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"delivery.global_interval", d.GlobalInterval, &s.Delivery.GlobalInterval},
		{"delivery.destination_interval", d.DestinationInterval, &s.Delivery.DestinationInterval},
		{"delivery.default_retry_after", d.DefaultRetryAfter, &s.Delivery.DefaultRetryAfter},
		{"delivery.send_timeout", d.SendTimeout, &s.Delivery.SendTimeout},
	} {
		if *f.dst, err = config.ParseDurationField(f.path, f.raw); err != nil {
			return Settings{}, err
		}
	}

	projects := make(map[string]kit.ChatTarget, len(cfg.Projects))
	for name, raw := range cfg.Projects {
		to, err := kit.ParseChatTarget(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("projects.%s: %w", name, err)
		}
		projects[name] = to
	}
	s.Reporter = reporter.Config{Default: def, Projects: projects, Environment: strings.TrimSpace(cfg.Environment)}

	lg := cfg.Logging
	logChat := def
	if strings.TrimSpace(lg.Telegram.Chat) != "" {
		if logChat, err = kit.ParseChatTarget(lg.Telegram.Chat); err != nil {
			return Settings{}, fmt.Errorf("logging.telegram.chat: %w", err)
		}
	}
	s.Logging = logx.Config{
		Level:   lg.Level,
		Console: lg.Console,
		File:    logx.FileConfig{Enabled: lg.File.Enabled, Path: lg.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lg.Telegram.Enabled,
			Target:     logChat,
			MinLevel:   lg.Telegram.MinLevel,
			RatePerSec: lg.Telegram.RatePerSec,
		},
	}

	if s.HTTP, err = mapHTTP(cfg.HTTP); err != nil {
		return Settings{}, err
	}
	if s.Storage, s.Retention, err = mapStorage(cfg.Storage); err != nil {
		return Settings{}, err
	}

	if hb := cfg.Heartbeat; hb != nil {
		s.Heartbeat = heartbeat.Config{
			Enabled:  hb.Enabled,
			Schedule: strings.TrimSpace(hb.Schedule),
			Project:  strings.TrimSpace(hb.Project),
			Timezone: strings.TrimSpace(hb.Timezone),
		}
		if hb.Enabled {
			if _, err := heartbeat.ParseSchedule(hb.Schedule); err != nil {
				return Settings{}, fmt.Errorf("heartbeat.schedule: %w", err)
			}
		}
	}
	return s, nil
}

func mapHTTP(h config.HTTPConfig) (httpapi.Config, error) {
	out := httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		MaxBodyBytes:  h.MaxBodyBytes,
	}
	if out.Addr == "" {
		out.Addr = httpapi.DefaultAddr
	}
	if out.MaxBodyBytes == 0 {
		out.MaxBodyBytes = httpapi.DefaultMaxBodyBytes
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	// Profiles can run for 30s.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 60*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 2*time.Minute); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}

func mapStorage(sc *config.StorageConfig) (storage.Config, time.Duration, error) {
	if sc == nil {
		return storage.Config{}, 0, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, 0, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, 0, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, 0, err
	}
	switch driver {
	case "file":
		return storage.Config{Driver: driver, Path: path}, retention, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, 0, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, retention, nil
	default:
		return storage.Config{}, 0, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
