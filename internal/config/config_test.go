package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "file-token"
  default_chat_id: "-1001"
  parse_mode: Markdown
delivery:
  global_interval: 35ms
  destination_interval: 3s
projects:
  Billing: "-1002:7"
logging:
  level: info
  console: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "loggerbot.yaml", sampleYAML))
	m.SetEnviron(map[string]string{})

	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "file-token", cfg.Telegram.Token)
	require.Equal(t, "3s", cfg.Delivery.DestinationInterval)
	require.Equal(t, "-1002:7", cfg.Projects["Billing"])
	require.Same(t, cfg, m.Get())
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeFile(t, "loggerbot.json", `{"telegram":{"token":"x"},"plugins":{}}`))
	m.SetEnviron(map[string]string{})
	_, err := m.Load()
	require.ErrorContains(t, err, "unknown field")
}

func TestLoadRejectsTrailingData(t *testing.T) {
	m := NewManager(writeFile(t, "loggerbot.json", `{"telegram":{"token":"x"}} {}`))
	m.SetEnviron(map[string]string{})
	_, err := m.Load()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	m := NewManager(writeFile(t, "loggerbot.yaml", sampleYAML))
	m.SetEnviron(map[string]string{
		"LOGGERBOT_TOKEN":           "env-token",
		"LOGGERBOT_DEFAULT_CHAT_ID": "-42",
		"LOGGERBOT_HTTP_ADDR":       "127.0.0.1:9999",
		"LOGGERBOT_LOG_LEVEL":       "debug",
		"UNRELATED":                 "x",
	})
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Telegram.Token)
	require.Equal(t, "-42", cfg.Telegram.DefaultChatID)
	require.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestTokenCanComeFromEnvOnly(t *testing.T) {
	m := NewManager(writeFile(t, "loggerbot.json", `{"telegram":{"default_chat_id":"-1"},"logging":{}}`))
	m.SetEnviron(map[string]string{"LOGGERBOT_TOKEN": "secret"})
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.Telegram.Token)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "bad default chat", mutate: func(c *Config) { c.Telegram.DefaultChatID = "abc" }, wantErr: "telegram.default_chat_id"},
		{name: "bad parse mode", mutate: func(c *Config) { c.Telegram.ParseMode = "BBCode" }, wantErr: "parse_mode"},
		{name: "bad duration", mutate: func(c *Config) { c.Delivery.GlobalInterval = "fast" }, wantErr: "delivery.global_interval"},
		{name: "negative attempts", mutate: func(c *Config) { c.Delivery.MaxAttempts = -1 }, wantErr: "max_attempts"},
		{name: "bad project", mutate: func(c *Config) { c.Projects["x"] = "0" }, wantErr: "projects.x"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "storage without path", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "file"} }, wantErr: "storage.path"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "redis", Path: "x"} }, wantErr: "storage.driver"},
		{name: "heartbeat without schedule", mutate: func(c *Config) { c.Heartbeat = &HeartbeatConfig{Enabled: true} }, wantErr: "heartbeat.schedule"},
		{
			name: "chat log without destination",
			mutate: func(c *Config) {
				c.Telegram.DefaultChatID = ""
				c.Logging.Telegram.Enabled = true
			},
			wantErr: "logging.telegram",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Telegram: TelegramConfig{Token: "t", DefaultChatID: "-1"},
				Projects: map[string]string{"billing": "-2"},
			}
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	err := Validate(&Config{Telegram: TelegramConfig{ParseMode: "x"}, Delivery: DeliveryConfig{SendTimeout: "-1s"}})
	require.ErrorContains(t, err, "telegram.token")
	require.ErrorContains(t, err, "parse_mode")
	require.ErrorContains(t, err, "delivery.send_timeout")
}

func TestSummarizeChange(t *testing.T) {
	old := &Config{Telegram: TelegramConfig{Token: "a"}, Projects: map[string]string{"A": "-1"}}
	cur := &Config{
		Telegram: TelegramConfig{Token: "b"},
		Projects: map[string]string{"a": "-1"},
		Delivery: DeliveryConfig{DestinationInterval: "5s"},
	}
	changed, fields := SummarizeChange(old, cur)
	require.Equal(t, []string{"delivery", "telegram"}, changed)
	require.NotEmpty(t, fields)

	changed, _ = SummarizeChange(cur, cur)
	require.Empty(t, changed)
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeFile(t, "loggerbot.yaml", sampleYAML)
	m := NewManager(path)
	m.SetEnviron(map[string]string{})
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	updated := sampleYAML + "environment: production\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-sub:
		require.Equal(t, "production", cfg.Environment)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	cancel()
	<-done
}

func TestWatchKeepsConfigOnInvalidReload(t *testing.T) {
	path := writeFile(t, "loggerbot.yaml", sampleYAML)
	m := NewManager(path)
	m.SetEnviron(map[string]string{})
	first, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"delivery_typo: 1\n"), 0o600))
	m.reload(context.Background())
	require.Same(t, first, m.Get())
}

func TestYAMLUnquotedChatIDs(t *testing.T) {
	m := NewManager(writeFile(t, "loggerbot.yml", `
telegram:
  token: t
  default_chat_id: -1001
projects:
  ops: -1003
logging:
  telegram:
    chat: -1004
`))
	m.SetEnviron(map[string]string{})

	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "-1001", cfg.Telegram.DefaultChatID)
	require.Equal(t, "-1003", cfg.Projects["ops"])
	require.Equal(t, "-1004", cfg.Logging.Telegram.Chat)
}

func TestYAMLNumbersElsewhereStayNumbers(t *testing.T) {
	m := NewManager(writeFile(t, "loggerbot.yaml", `
telegram:
  token: 123
`))
	m.SetEnviron(map[string]string{})
	_, err := m.Parse()
	require.Error(t, err)
}
