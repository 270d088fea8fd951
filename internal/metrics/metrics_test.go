package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"loggerbot/internal/delivery"
	"loggerbot/internal/eventbus"
)

func gather(t *testing.T, m *Metrics, name string) []*dto.Metric {
	t.Helper()
	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()
		}
	}
	return nil
}

func labels(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestObserveCountsOutcomes(t *testing.T) {
	m := New(nil, nil)
	m.Observe(eventbus.Event{Type: delivery.TypeSent, Data: delivery.Notice{Outcome: "delivered", Attempts: 1, Latency: time.Second}})
	m.Observe(eventbus.Event{Type: delivery.TypeSent, Data: delivery.Notice{Outcome: "delivered", Attempts: 3}})
	m.Observe(eventbus.Event{Type: delivery.TypeDropped, Data: delivery.Notice{Outcome: "exhausted", Attempts: 5}})
	m.Observe(eventbus.Event{Type: delivery.TypeThrottled, Data: delivery.Notice{Attempts: 1}})
	m.Observe(eventbus.Event{Type: delivery.TypeQueued, Data: delivery.Notice{}})

	got := map[string]float64{}
	for _, mt := range gather(t, m, "loggerbot_delivery_events_total") {
		got[labels(mt)["outcome"]] = mt.GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{"delivered": 2, "exhausted": 1}, got)

	thr := gather(t, m, "loggerbot_delivery_throttled_total")
	require.Len(t, thr, 1)
	require.Equal(t, float64(1), thr[0].GetCounter().GetValue())

	att := gather(t, m, "loggerbot_delivery_attempts")
	require.Len(t, att, 1)
	require.EqualValues(t, 3, att[0].GetHistogram().GetSampleCount())
	require.Equal(t, float64(9), att[0].GetHistogram().GetSampleSum())
}

func TestPendingGauge(t *testing.T) {
	pending := 7
	m := New(func() int { return pending }, eventbus.New())
	g := gather(t, m, "loggerbot_delivery_queue_pending")
	require.Len(t, g, 1)
	require.Equal(t, float64(7), g[0].GetGauge().GetValue())
	require.NotNil(t, gather(t, m, "loggerbot_eventbus_dropped_total"))
}

func TestObserveHTTPUsesStatusClass(t *testing.T) {
	m := New(nil, nil)
	m.ObserveHTTP("/v1/logs", http.StatusAccepted, 10*time.Millisecond)
	m.ObserveHTTP("/v1/logs", http.StatusNotFound, time.Millisecond)

	got := map[string]float64{}
	for _, mt := range gather(t, m, "loggerbot_http_requests_total") {
		l := labels(mt)
		require.Equal(t, "/v1/logs", l["route"])
		got[l["result"]] = mt.GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{"2xx": 1, "4xx": 1}, got)
}

func TestHandlerServesText(t *testing.T) {
	m := New(nil, nil)
	m.Observe(eventbus.Event{Type: delivery.TypeSent, Data: delivery.Notice{Outcome: "delivered", Attempts: 1}})

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	require.Contains(t, string(body), `loggerbot_delivery_events_total{outcome="delivered"} 1`)
}
