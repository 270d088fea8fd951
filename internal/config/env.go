package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOGGERBOT_"

// envOverrides are applied on top of the file. Secrets usually live here
// rather than in the config file.
type envOverrides struct {
	Token         string `env:"TOKEN"`
	DefaultChatID string `env:"DEFAULT_CHAT_ID"`
	Environment   string `env:"ENVIRONMENT"`
	LogLevel      string `env:"LOG_LEVEL"`
	HTTPAddr      string `env:"HTTP_ADDR"`
	HTTPToken     string `env:"HTTP_TOKEN"`
}

// ApplyEnv overlays LOGGERBOT_* variables onto cfg. environ nil means the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, o.Token)
	set(&cfg.Telegram.DefaultChatID, o.DefaultChatID)
	set(&cfg.Environment, o.Environment)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.HTTP.Addr, o.HTTPAddr)
	set(&cfg.HTTP.Token, o.HTTPToken)
	return nil
}
