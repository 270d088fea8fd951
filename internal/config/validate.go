package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	kit "loggerbot/internal/transport"
	logx "loggerbot/pkg/logx"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	duration := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	tg := cfg.Telegram
	if strings.TrimSpace(tg.Token) == "" {
		add(errors.New("telegram.token is required (or set " + EnvPrefix + "TOKEN)"))
	}
	if strings.TrimSpace(tg.DefaultChatID) != "" {
		_, err := kit.ParseChatTarget(tg.DefaultChatID)
		add(wrapPath("telegram.default_chat_id", err))
	}
	switch tg.ParseMode {
	case kit.ParseModeNone, kit.ParseModeMarkdown, kit.ParseModeMarkdownV2, kit.ParseModeHTML:
	default:
		add(fmt.Errorf("telegram.parse_mode: unsupported %q", tg.ParseMode))
	}
	duration("telegram.timeout", tg.Timeout)

	d := cfg.Delivery
	duration("delivery.global_interval", d.GlobalInterval)
	duration("delivery.destination_interval", d.DestinationInterval)
	duration("delivery.default_retry_after", d.DefaultRetryAfter)
	duration("delivery.send_timeout", d.SendTimeout)
	if d.MaxAttempts < 0 {
		add(errors.New("delivery.max_attempts must be >= 0"))
	}

	for name, raw := range cfg.Projects {
		if strings.TrimSpace(name) == "" {
			add(errors.New("projects: empty project name"))
			continue
		}
		_, err := kit.ParseChatTarget(raw)
		add(wrapPath("projects."+name, err))
	}

	lg := cfg.Logging
	if lg.Level != "" && !logx.ValidLevel(lg.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", lg.Level))
	}
	if lg.Telegram.MinLevel != "" && !logx.ValidLevel(lg.Telegram.MinLevel) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", lg.Telegram.MinLevel))
	}
	if lg.Telegram.Chat != "" {
		_, err := kit.ParseChatTarget(lg.Telegram.Chat)
		add(wrapPath("logging.telegram.chat", err))
	} else if lg.Telegram.Enabled && strings.TrimSpace(tg.DefaultChatID) == "" {
		add(errors.New("logging.telegram: enabled without chat or telegram.default_chat_id"))
	}
	if lg.File.Enabled && strings.TrimSpace(lg.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	h := cfg.HTTP
	duration("http.read_timeout", h.ReadTimeout)
	duration("http.write_timeout", h.WriteTimeout)
	duration("http.idle_timeout", h.IdleTimeout)
	if h.MaxBodyBytes < 0 {
		add(errors.New("http.max_body_bytes must be >= 0"))
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path is required"))
			}
		default:
			add(fmt.Errorf("storage.driver: unsupported %q", s.Driver))
		}
		duration("storage.busy_timeout", s.BusyTimeout)
		duration("storage.retention", s.Retention)
	}

	if hb := cfg.Heartbeat; hb != nil && hb.Enabled {
		if strings.TrimSpace(hb.Schedule) == "" {
			add(errors.New("heartbeat.schedule is required"))
		}
		if hb.Timezone != "" {
			if _, err := time.LoadLocation(hb.Timezone); err != nil {
				add(fmt.Errorf("heartbeat.timezone: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

func wrapPath(path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", path, err)
}
