package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loggerbot/internal/delivery"
	"loggerbot/internal/eventbus"
	logx "loggerbot/pkg/logx"
)

func TestFromEventKeepsFinalOutcomesOnly(t *testing.T) {
	n := delivery.Notice{ID: "x", ChatID: 5, Kind: "text", Outcome: "delivered", Attempts: 2, Latency: 1500 * time.Millisecond}
	rec, ok := FromEvent(eventbus.Event{Type: delivery.TypeSent, Data: n})
	require.True(t, ok)
	require.Equal(t, "delivered", rec.Outcome)
	require.EqualValues(t, 1500, rec.LatencyMS)

	_, ok = FromEvent(eventbus.Event{Type: delivery.TypeQueued, Data: n})
	require.False(t, ok)
	_, ok = FromEvent(eventbus.Event{Type: delivery.TypeThrottled, Data: n})
	require.False(t, ok)

	rec, ok = FromEvent(eventbus.Event{Type: delivery.TypeFailed, Data: delivery.Notice{ID: "bad"}})
	require.True(t, ok)
	require.Equal(t, "rejected", rec.Outcome)
}

func TestRecorderPersistsBusEvents(t *testing.T) {
	st := openTestFile(t, filepath.Join(t.TempDir(), "audit"))
	bus := eventbus.New()
	r := NewRecorder(st, bus, 0, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: delivery.TypeSent, Data: delivery.Notice{ID: "probe", Outcome: "delivered"}})
		got, _ := st.Recent(context.Background(), 1)
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	bus.Publish(eventbus.Event{Type: delivery.TypeDropped, Data: delivery.Notice{ID: "e1", Outcome: "exhausted", Attempts: 5}})
	require.Eventually(t, func() bool {
		got, _ := st.Recent(context.Background(), 1)
		return len(got) == 1 && got[0].ID == "e1"
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
