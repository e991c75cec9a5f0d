// Package metrics exports dispatch outcomes as Prometheus metrics by
// subscribing to the dispatcher's events.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zen-systems/routegate/pkg/events"
)

// Collector holds the routegate metric vectors.
type Collector struct {
	Requests        *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	Fallbacks       *prometheus.CounterVec
	Cost            *prometheus.CounterVec
	Savings         *prometheus.CounterVec
	Tokens          *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routegate_requests_total",
				Help: "Completed requests by serving backend, category and cache outcome",
			},
			[]string{"backend", "category", "cache_hit"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routegate_request_failures_total",
				Help: "Failed requests by routed backend and reason",
			},
			[]string{"backend", "reason"},
		),
		Fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routegate_fallbacks_total",
				Help: "Requests answered by a fallback backend",
			},
			[]string{"routed", "backend"},
		),
		Cost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routegate_cost_usd_total",
				Help: "Actual spend in USD",
			},
			[]string{"backend"},
		),
		Savings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routegate_savings_usd_total",
				Help: "Savings against the baseline backend in USD",
			},
			[]string{"backend"},
		),
		Tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "routegate_tokens_total",
				Help: "Tokens processed by direction",
			},
			[]string{"backend", "direction"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "routegate_request_duration_seconds",
				Help:    "End-to-end dispatch duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"backend", "cache_hit"},
		),
	}
}

// Subscribe attaches the collector to n.
func (c *Collector) Subscribe(n *events.Notifier) []events.SubscriptionID {
	return []events.SubscriptionID{
		n.Subscribe(events.RequestCompleted, c.onCompleted),
		n.Subscribe(events.RequestFailed, c.onFailed),
	}
}

func (c *Collector) onCompleted(ev events.Event) error {
	p := ev.Payload
	backend := str(p["backend"])
	hit := strconv.FormatBool(p["cache_hit"] == true)

	c.Requests.WithLabelValues(backend, str(p["category"]), hit).Inc()
	if d, ok := p["duration"].(time.Duration); ok {
		c.RequestDuration.WithLabelValues(backend, hit).Observe(d.Seconds())
	}
	if p["fallback_used"] == true {
		c.Fallbacks.WithLabelValues(str(p["routed"]), backend).Inc()
	}
	if cost, ok := p["cost"].(float64); ok {
		c.Cost.WithLabelValues(backend).Add(cost)
	}
	// Counters cannot go down, so negative savings are not exported.
	if savings, ok := p["savings"].(float64); ok && savings > 0 {
		c.Savings.WithLabelValues(backend).Add(savings)
	}
	if n, ok := p["tokens_in"].(int); ok {
		c.Tokens.WithLabelValues(backend, "in").Add(float64(n))
	}
	if n, ok := p["tokens_out"].(int); ok {
		c.Tokens.WithLabelValues(backend, "out").Add(float64(n))
	}
	return nil
}

func (c *Collector) onFailed(ev events.Event) error {
	reason := "exhausted"
	switch {
	case ev.Payload["cancelled"] == true:
		reason = "cancelled"
	case ev.Payload["backend"] == nil:
		reason = "invalid_request"
	}
	c.Failures.WithLabelValues(str(ev.Payload["backend"]), reason).Inc()
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
