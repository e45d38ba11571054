package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistered(t *testing.T) {
	BreakerState.WithLabelValues("edge-1").Set(BreakerPhaseValue("open"))
	ActiveConnections.WithLabelValues("edge-1").Set(3)
	CacheHits.Inc()
	CacheMisses.Inc()
	SearchDuration.Observe(0.2)
	NodePingFailures.WithLabelValues("edge-1").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	want := map[string]bool{
		"fabric_breaker_state":            false,
		"fabric_active_connections":       false,
		"fabric_cache_hits_total":         false,
		"fabric_cache_misses_total":       false,
		"fabric_search_duration_seconds":  false,
		"fabric_node_ping_failures_total": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s not found in gathered metrics", name)
		}
	}
}

func TestBreakerPhaseValue(t *testing.T) {
	cases := map[string]float64{"closed": 0, "half_open": 1, "open": 2, "": 0}
	for phase, want := range cases {
		if got := BreakerPhaseValue(phase); got != want {
			t.Errorf("BreakerPhaseValue(%q) = %v, want %v", phase, got, want)
		}
	}
}
