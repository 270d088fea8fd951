// Package metrics exposes delivery and HTTP metrics in the Prometheus
// format. Collectors live on a private registry fed from the event bus, so
// the delivery core has no Prometheus dependency.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loggerbot/internal/delivery"
	"loggerbot/internal/eventbus"
)

const namespace = "loggerbot"

type Metrics struct {
	reg *prometheus.Registry

	events    *prometheus.CounterVec
	throttled prometheus.Counter
	attempts  prometheus.Histogram
	latency   prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers the collectors. pending reports the current queue length
// and may be nil.
func New(pending func() int, bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "events_total",
			Help:      "Events that reached a final state, by outcome.",
		}, []string{"outcome"}),
		throttled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "throttled_total",
			Help:      "Sends rejected by the backend rate limiter and retried.",
		}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts",
			Help:      "Send attempts per finished event.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "latency_seconds",
			Help:      "Time from enqueue to the final outcome.",
			Buckets: []float64{
				0.05, 0.1, 0.25, 0.5,
				1, 3, 6, 10, 30,
				60, 120, 300, 600,
			},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by route and status class.",
		}, []string{"route", "result"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "latency_seconds",
			Help:      "HTTP API latency by route and status class.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"route", "result"}),
	}

	if pending != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "queue_pending",
			Help:      "Events waiting in the delivery queue.",
		}, func() float64 { return float64(pending()) })
	}
	if bus != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Bus events skipped because a subscriber was slow.",
		}, func() float64 { return float64(eventbus.Dropped(bus)) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run feeds the collectors from bus until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(1024)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe records one delivery notice.
func (m *Metrics) Observe(e eventbus.Event) {
	n, ok := e.Data.(delivery.Notice)
	if !ok {
		return
	}
	switch e.Type {
	case delivery.TypeThrottled:
		m.throttled.Inc()
	case delivery.TypeSent, delivery.TypeFailed, delivery.TypeDropped, delivery.TypeCancelled:
		outcome := n.Outcome
		if outcome == "" {
			outcome = "rejected"
		}
		m.events.WithLabelValues(outcome).Inc()
		if n.Attempts > 0 {
			m.attempts.Observe(float64(n.Attempts))
		}
		if n.Latency > 0 {
			m.latency.Observe(n.Latency.Seconds())
		}
	}
}

// ObserveHTTP records one API request. route must be a template, never a
// raw path.
func (m *Metrics) ObserveHTTP(route string, status int, took time.Duration) {
	result := strconv.Itoa(status/100) + "xx"
	m.httpRequests.WithLabelValues(route, result).Inc()
	m.httpLatency.WithLabelValues(route, result).Observe(took.Seconds())
}
