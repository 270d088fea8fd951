package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loggerbot/internal/config"
	"loggerbot/internal/delivery"
	"loggerbot/internal/format"
	"loggerbot/internal/reporter"
	kit "loggerbot/internal/transport"
)

type recordingTransport struct {
	mu     sync.Mutex
	events []delivery.Event
}

func (r *recordingTransport) Send(_ context.Context, ev delivery.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingTransport) sent() []delivery.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Event(nil), r.events...)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const testConfig = `{
  "telegram": {"token": "123:abc", "default_chat_id": "-100"},
  "delivery": {"global_interval": "1ms", "destination_interval": "1ms"},
  "projects": {"Shop": "-200:7"},
  "logging": {"level": "error"}
}`

func TestMapSettingsDefaults(t *testing.T) {
	s, err := MapSettings(&config.Config{
		Telegram: config.TelegramConfig{Token: " t ", DefaultChatID: "-100"},
		Projects: map[string]string{"shop": "-200:7"},
		Storage:  &config.StorageConfig{Driver: "SQLite", Path: "/tmp/x", Retention: "72h"},
	})
	require.NoError(t, err)

	assert.Equal(t, "t", s.Telegram.Token)
	assert.Equal(t, kit.ParseModeMarkdown, s.Telegram.ParseMode)
	assert.True(t, s.Telegram.Silent)
	assert.Equal(t, 30*time.Second, s.Telegram.Timeout)

	assert.Equal(t, kit.ChatTarget{ChatID: -100}, s.Reporter.Default)
	assert.Equal(t, kit.ChatTarget{ChatID: -200, ThreadID: 7}, s.Reporter.Projects["shop"])
	assert.Equal(t, kit.ChatTarget{ChatID: -100}, s.Logging.Chat.Target)

	assert.Equal(t, "sqlite", s.Storage.Driver)
	assert.Equal(t, time.Second, s.Storage.BusyTimeout)
	assert.Equal(t, 72*time.Hour, s.Retention)

	assert.Equal(t, "127.0.0.1:8080", s.HTTP.Addr)
	assert.EqualValues(t, 8<<20, s.HTTP.MaxBodyBytes)
}

func TestMapSettingsRejectsBadHeartbeat(t *testing.T) {
	_, err := MapSettings(&config.Config{
		Telegram:  config.TelegramConfig{Token: "t"},
		Heartbeat: &config.HeartbeatConfig{Enabled: true, Schedule: "whenever"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat.schedule")
}

func TestNewAndSubmit(t *testing.T) {
	tr := &recordingTransport{}
	a, err := New(writeConfig(t, testConfig), WithTransport(tr), WithEnviron(map[string]string{}))
	require.NoError(t, err)
	defer a.Stop(context.Background())

	require.NoError(t, a.Reporter().Warning(context.Background(), "shop", "disk almost full"))
	_, err = a.Reporter().Log(context.Background(), reporter.Entry{Level: format.LevelInfo, Text: "to default"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Dispatcher().WaitIdle(ctx))

	sent := tr.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, kit.ChatTarget{ChatID: -200, ThreadID: 7}, sent[0].Target)
	assert.True(t, strings.Contains(sent[0].Text, "disk almost full"))
	assert.Equal(t, kit.ChatTarget{ChatID: -100}, sent[1].Target)
}

func TestEnvironmentOverridesToken(t *testing.T) {
	cfg := `{"telegram": {"default_chat_id": "-100"}, "logging": {"level": "error"}}`
	_, err := New(writeConfig(t, cfg), WithTransport(&recordingTransport{}), WithEnviron(map[string]string{}))
	require.Error(t, err)

	a, err := New(writeConfig(t, cfg), WithTransport(&recordingTransport{}),
		WithEnviron(map[string]string{"LOGGERBOT_TOKEN": "1:x"}))
	require.NoError(t, err)
	require.NoError(t, a.Stop(context.Background()))
}

func TestStartRecordsAuditAndStops(t *testing.T) {
	dir := t.TempDir()
	cfg := strings.Replace(testConfig, `"logging"`,
		`"storage": {"driver": "file", "path": "`+filepath.ToSlash(filepath.Join(dir, "audit"))+`"}, "logging"`, 1)

	tr := &recordingTransport{}
	a, err := New(writeConfig(t, cfg), WithTransport(tr), WithEnviron(map[string]string{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	// Give the recorder a moment to subscribe before publishing.
	require.Eventually(t, func() bool {
		for _, l := range a.loops() {
			if l.Name == "audit.recorder" && l.Active > 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, a.Reporter().Success(context.Background(), "SHOP", "deployed"))
	require.Eventually(t, func() bool {
		recs, err := a.store.Recent(context.Background(), 10)
		return err == nil && len(recs) == 1 && recs[0].Outcome == "delivered"
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
	assert.Len(t, tr.sent(), 1)
}
