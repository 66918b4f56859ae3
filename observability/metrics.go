// Package observability wires cache.Metrics, limiter.Metrics, and
// limiter.BatchMetrics onto a Prometheus registry.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide Prometheus adapter. A single instance
// satisfies cache.Metrics, limiter.Metrics, and limiter.BatchMetrics
// simultaneously; each subsystem is handed the same *Metrics value cast
// to the interface it expects.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits     *prometheus.CounterVec
	cacheMisses   prometheus.Counter
	cacheTierErrs *prometheus.CounterVec

	originLoss       prometheus.Counter
	exceededBcast    prometheus.Counter
	localDecisions   *prometheus.CounterVec
	batchDropped     *prometheus.CounterVec
	batchFlushFailed *prometheus.CounterVec

	ringSize    prometheus.Gauge
	aliveMembers prometheus.Gauge
	counterWindows prometheus.Gauge
}

// New constructs a Metrics adapter registered against its own registry
// (never the global DefaultRegisterer, so multiple ratelimitd instances
// in one test binary don't collide on re-registration).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	const ns = "ratelimit"

	m := &Metrics{
		registry: reg,
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_misses_total",
			Help:      "Cache misses across every tier.",
		}),
		cacheTierErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_tier_errors_total",
			Help:      "Tier errors encountered while probing a cache tier.",
		}, []string{"tier"}),
		originLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "origin_unreachable_total",
			Help:      "Synchronous PushCounter calls that failed to reach the owning node.",
		}),
		exceededBcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "exceeded_broadcasts_total",
			Help:      "BroadcastExceeded fan-outs sent by an owning node.",
		}),
		localDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "local_decisions_total",
			Help:      "Local Take() decisions by outcome.",
		}, []string{"allowed"}),
		batchDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batch_deltas_dropped_total",
			Help:      "Deltas dropped from a per-owner batch queue on overflow, by owner.",
		}, []string{"owner"}),
		batchFlushFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "batch_flush_failures_total",
			Help:      "PushCounter calls that failed during a batch flush, by owner.",
		}, []string{"owner"}),
		ringSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "ring_size",
			Help:      "Number of virtual-node positions in the published hash ring.",
		}),
		aliveMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "alive_members",
			Help:      "Number of cluster members currently considered alive.",
		}),
		counterWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "counter_windows",
			Help:      "Number of live in-memory counter.Window instances.",
		}),
	}

	reg.MustRegister(
		m.cacheHits, m.cacheMisses, m.cacheTierErrs,
		m.originLoss, m.exceededBcast, m.localDecisions,
		m.batchDropped, m.batchFlushFailed,
		m.ringSize, m.aliveMembers, m.counterWindows,
	)
	return m
}

// Hit implements cache.Metrics.
func (m *Metrics) Hit(tier string) { m.cacheHits.WithLabelValues(tier).Inc() }

// Miss implements cache.Metrics.
func (m *Metrics) Miss() { m.cacheMisses.Inc() }

// TierError implements cache.Metrics.
func (m *Metrics) TierError(tier string) { m.cacheTierErrs.WithLabelValues(tier).Inc() }

// OriginLoss implements limiter.Metrics.
func (m *Metrics) OriginLoss() { m.originLoss.Inc() }

// ExceededBroadcastSent implements limiter.Metrics.
func (m *Metrics) ExceededBroadcastSent() { m.exceededBcast.Inc() }

// LocalDecision implements limiter.Metrics.
func (m *Metrics) LocalDecision(allowed bool) {
	m.localDecisions.WithLabelValues(boolLabel(allowed)).Inc()
}

// DeltaDropped implements limiter.BatchMetrics.
func (m *Metrics) DeltaDropped(ownerAddr string) { m.batchDropped.WithLabelValues(ownerAddr).Inc() }

// FlushFailed implements limiter.BatchMetrics.
func (m *Metrics) FlushFailed(ownerAddr string) {
	m.batchFlushFailed.WithLabelValues(ownerAddr).Inc()
}

// SetRingSize reports the current published ring's virtual-node count.
func (m *Metrics) SetRingSize(n int) { m.ringSize.Set(float64(n)) }

// SetAliveMembers reports the current alive member count.
func (m *Metrics) SetAliveMembers(n int) { m.aliveMembers.Set(float64(n)) }

// SetCounterWindows reports the number of live counter.Window instances.
func (m *Metrics) SetCounterWindows(n int) { m.counterWindows.Set(float64(n)) }

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
