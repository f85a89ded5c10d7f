package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across all handlers.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tellerdesk",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// CacheEventsTotal counts cache hits, misses, and populate outcomes (§8 I1-I3).
var CacheEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tellerdesk",
		Subsystem: "cache",
		Name:      "events_total",
		Help:      "Cache store events by kind (hit, miss, populate_ok, populate_fail, invalidate).",
	},
	[]string{"kind"},
)

// RoutingDecisionsTotal counts supervisor routing outcomes by reason (§4.5).
var RoutingDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tellerdesk",
		Subsystem: "router",
		Name:      "decisions_total",
		Help:      "Routing decisions by reason: cache, keyword, llm_<label>, llm_default, continuation_bypass, escalation_pin.",
	},
	[]string{"reason"},
)

// DispatchDuration tracks agent invocation latency by agent name and outcome (§4.6).
var DispatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tellerdesk",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Agent dispatch latency in seconds.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"agent", "outcome"},
)

// ThinkingEventsDroppedTotal counts thinking events dropped under the stream
// multiplexer's backpressure policy (§4.7).
var ThinkingEventsDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tellerdesk",
		Subsystem: "stream",
		Name:      "thinking_events_dropped_total",
		Help:      "Thinking events dropped due to the per-response buffer cap.",
	},
)

// All returns every tellerdesk-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CacheEventsTotal,
		RoutingDecisionsTotal,
		DispatchDuration,
		ThinkingEventsDroppedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
