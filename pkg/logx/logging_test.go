package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	kit "loggerbot/internal/transport"
)

type recordingSink struct {
	mu   sync.Mutex
	to   []kit.ChatTarget
	text []string
}

func (r *recordingSink) Submit(to kit.ChatTarget, text string) {
	r.mu.Lock()
	r.to = append(r.to, to)
	r.text = append(r.text, text)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.text...)
}

func TestChatSinkForwardsAboveMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level: "debug",
		Chat: ChatConfig{
			Enabled:    true,
			Target:     kit.ChatTarget{ChatID: -100, ThreadID: 7},
			MinLevel:   "warn",
			RatePerSec: 100,
		},
	})
	sink := &recordingSink{}
	svc.SetSink(sink)

	log.Info("quiet")
	log.Warn("disk almost full", String("mount", "/var"))

	got := sink.snapshot()
	require.Len(t, got, 1)
	require.True(t, strings.HasPrefix(got[0], "[WARN] disk almost full"), got[0])
	require.Contains(t, got[0], "- mount=/var")
	require.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 7}, sink.to[0])
}

func TestChatSinkSkipsLocalRecords(t *testing.T) {
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, Target: kit.ChatTarget{ChatID: 1}, MinLevel: "warn", RatePerSec: 100},
	})
	sink := &recordingSink{}
	svc.SetSink(sink)

	log.With(Local()).Error("delivery dropped")
	require.Empty(t, sink.snapshot())
}

func TestChatSinkRateLimited(t *testing.T) {
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, Target: kit.ChatTarget{ChatID: 1}, MinLevel: "warn", RatePerSec: 1},
	})
	sink := &recordingSink{}
	svc.SetSink(sink)

	for i := 0; i < 5; i++ {
		log.Error("boom")
	}
	require.Len(t, sink.snapshot(), 1)
}

func TestNewWriterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Debug("hello", Int("n", 3))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Equal(t, "hello", m["message"])
	require.Equal(t, "test", m["comp"])
	require.EqualValues(t, 3, m["n"])
}

func TestFormatChatJSONSortsFields(t *testing.T) {
	msg, local := formatChatJSON([]byte(`{"level":"error","message":"x","b":"2","a":"1","time":"t"}`))
	require.False(t, local)
	require.Equal(t, "[ERROR] x\n- a=1\n- b=2", msg)
}

func TestNopAndZeroLoggerAreSafe(t *testing.T) {
	var zero Logger
	require.True(t, zero.IsZero())
	zero.Error("ignored")
	Nop().Error("ignored")
}
