// Package metrics provides the Prometheus metrics for the node fabric:
// breaker state transitions, connection accounting, cache effectiveness,
// search latency, and ping health — the observability surface every
// component that emits an observable event registers against.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BreakerState reports the admission mode of each node's circuit
// breaker (0=closed, 1=half_open, 2=open). Set by internal/breaker on
// every transition.
var BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "fabric",
	Name:      "breaker_state",
	Help:      "Circuit breaker state per node (0=closed, 1=half_open, 2=open).",
}, []string{"node"})

// ActiveConnections reports in-flight requests per node. Set by
// internal/forwarder around each dispatch (federated search dispatches
// through the forwarder).
var ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "fabric",
	Name:      "active_connections",
	Help:      "In-flight requests per node.",
}, []string{"node"})

// CacheHits and CacheMisses count federated search cache lookups.
var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fabric",
		Name:      "cache_hits_total",
		Help:      "Federated search cache hits.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fabric",
		Name:      "cache_misses_total",
		Help:      "Federated search cache misses.",
	})
)

// SearchDuration observes the wall-clock time of a federated search
// call, from dispatch to merge.
var SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "fabric",
	Name:      "search_duration_seconds",
	Help:      "Federated search duration in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// NodePingFailures counts every ping failure per node, incremented by
// the registry. It is a monotonic counter: a successful ping does not
// reset it.
var NodePingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fabric",
	Name:      "node_ping_failures_total",
	Help:      "Ping failures observed per node.",
}, []string{"node"})

// BreakerPhaseValue maps a BreakerPhase to the numeric value BreakerState
// expects.
func BreakerPhaseValue(phase string) float64 {
	switch phase {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
