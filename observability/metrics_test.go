package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposesIncrementedCounters(t *testing.T) {
	m := New()
	m.Hit("memory")
	m.Miss()
	m.OriginLoss()
	m.LocalDecision(true)
	m.DeltaDropped("owner-a")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`ratelimit_cache_hits_total{tier="memory"} 1`,
		`ratelimit_cache_misses_total 1`,
		`ratelimit_origin_unreachable_total 1`,
		`ratelimit_local_decisions_total{allowed="true"} 1`,
		`ratelimit_batch_deltas_dropped_total{owner="owner-a"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected exposition to contain %q\ngot:\n%s", want, body)
		}
	}
}

func TestMetricsTwoInstancesDoNotCollide(t *testing.T) {
	// Each Metrics owns its own registry rather than the global
	// DefaultRegisterer, so two nodes in one test binary must coexist.
	m1 := New()
	m2 := New()
	m1.Hit("memory")
	m2.Hit("memory")
}

func TestMetricsGaugesSettable(t *testing.T) {
	m := New()
	m.SetRingSize(128)
	m.SetAliveMembers(3)
	m.SetCounterWindows(42)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{"ratelimit_ring_size 128", "ratelimit_alive_members 3", "ratelimit_counter_windows 42"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected exposition to contain %q\ngot:\n%s", want, body)
		}
	}
}
