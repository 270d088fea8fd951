package config

import (
	"reflect"
	"sort"
	"strings"

	logx "loggerbot/pkg/logx"
)

// SummarizeChange returns the sorted list of changed sections and safe
// structured fields for logging. Tokens are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var fields []logx.Field

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.APIURL != nt.APIURL ||
		ot.DefaultChatID != nt.DefaultChatID || ot.ParseMode != nt.ParseMode ||
		ot.DisablePreview != nt.DisablePreview || boolOr(ot.Silent, true) != boolOr(nt.Silent, true) ||
		ot.Timeout != nt.Timeout {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.api_url_changed", ot.APIURL != nt.APIURL),
			logx.String("telegram.default_chat_id", nt.DefaultChatID),
			logx.String("telegram.parse_mode", nt.ParseMode),
			logx.Bool("telegram.silent", boolOr(nt.Silent, true)),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		d := newCfg.Delivery
		changed = append(changed, "delivery")
		fields = append(fields,
			logx.String("delivery.global_interval", d.GlobalInterval),
			logx.String("delivery.destination_interval", d.DestinationInterval),
			logx.Int("delivery.max_attempts", d.MaxAttempts),
			logx.String("delivery.default_retry_after", d.DefaultRetryAfter),
			logx.String("delivery.send_timeout", d.SendTimeout),
		)
	}

	if !reflect.DeepEqual(normalizeProjects(oldCfg.Projects), normalizeProjects(newCfg.Projects)) ||
		oldCfg.Environment != newCfg.Environment {
		changed = append(changed, "projects")
		fields = append(fields,
			logx.Int("projects.count", len(newCfg.Projects)),
			logx.String("environment", newCfg.Environment),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh != nh {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("http.allow_insecure", nh.AllowInsecure),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	oldS, ns := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != ns {
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.String("storage.retention", ns.Retention),
		)
	}

	ob, nb := derefHeartbeat(oldCfg.Heartbeat), derefHeartbeat(newCfg.Heartbeat)
	if ob != nb {
		changed = append(changed, "heartbeat")
		fields = append(fields,
			logx.Bool("heartbeat.enabled", nb.Enabled),
			logx.String("heartbeat.schedule", nb.Schedule),
		)
	}

	sort.Strings(changed)
	return changed, fields
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func normalizeProjects(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefHeartbeat(h *HeartbeatConfig) HeartbeatConfig {
	if h == nil {
		return HeartbeatConfig{}
	}
	return *h
}
