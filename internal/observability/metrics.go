// Package observability exposes the platform's prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the platform emits.
type Collector struct {
	// HTTP surface
	RequestDuration *prometheus.HistogramVec
	RequestCount    *prometheus.CounterVec

	// Streaming engine
	MessagesProduced *prometheus.CounterVec
	MessagesConsumed *prometheus.CounterVec
	ConsumerLag      *prometheus.GaugeVec

	// Feature store
	FeatureReads  *prometheus.CounterVec
	FeatureWrites *prometheus.CounterVec

	// Risk engine
	RiskRecomputes  prometheus.Counter
	TierTransitions *prometheus.CounterVec

	// Agents
	AgentCycles     *prometheus.CounterVec
	AgentDetections *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates and registers the metric set on a private registry
// so tests can build collectors without global collisions.
func NewCollector() *Collector {
	c := &Collector{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		MessagesProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streaming_messages_produced_total",
				Help: "Messages produced per topic",
			},
			[]string{"topic"},
		),
		MessagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streaming_messages_consumed_total",
				Help: "Messages consumed per consumer group",
			},
			[]string{"group"},
		),
		ConsumerLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streaming_consumer_lag",
				Help: "Consumer group lag per topic",
			},
			[]string{"group", "topic"},
		),
		FeatureReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feature_store_reads_total",
				Help: "Feature store reads per group and result",
			},
			[]string{"group", "result"},
		),
		FeatureWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feature_store_writes_total",
				Help: "Feature store writes per group",
			},
			[]string{"group"},
		),
		RiskRecomputes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "risk_profile_recomputes_total",
				Help: "Seller risk profile recomputations",
			},
		),
		TierTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_tier_transitions_total",
				Help: "Risk tier transitions per target tier",
			},
			[]string{"tier"},
		),
		AgentCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_scan_cycles_total",
				Help: "Agent scan cycles per agent",
			},
			[]string{"agent"},
		),
		AgentDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_detections_total",
				Help: "Agent detections per agent and type",
			},
			[]string{"agent", "type"},
		),
		registry: prometheus.NewRegistry(),
	}

	c.registry.MustRegister(
		c.RequestDuration,
		c.RequestCount,
		c.MessagesProduced,
		c.MessagesConsumed,
		c.ConsumerLag,
		c.FeatureReads,
		c.FeatureWrites,
		c.RiskRecomputes,
		c.TierTransitions,
		c.AgentCycles,
		c.AgentDetections,
	)
	return c
}

// Handler serves the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
