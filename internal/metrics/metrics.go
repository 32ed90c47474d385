package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's prometheus collectors. A fresh instance is
// registered per process; tests construct their own with NewRegistry.
type Metrics struct {
	Registry *prometheus.Registry

	TextGenCalls   *prometheus.CounterVec
	TextGenLatency *prometheus.HistogramVec
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	TrendsCreated  prometheus.Counter
	TrendsDegraded prometheus.Counter
	PostsExcluded  prometheus.Counter
	BreakerState   *prometheus.GaugeVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		TextGenCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendpulse_textgen_calls_total",
			Help: "External text-service call outcomes by operation and result.",
		}, []string{"operation", "result"}),
		TextGenLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendpulse_textgen_latency_seconds",
			Help:    "External text-service call latency by operation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"operation"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendpulse_cache_hits_total",
			Help: "Response cache hits by kind.",
		}, []string{"kind"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendpulse_cache_misses_total",
			Help: "Response cache misses by kind.",
		}, []string{"kind"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendpulse_pipeline_runs_total",
			Help: "Pipeline runs by final state.",
		}, []string{"state"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendpulse_pipeline_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		TrendsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendpulse_trends_created_total",
			Help: "Trends committed across all runs.",
		}),
		TrendsDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendpulse_trends_degraded_total",
			Help: "Trends committed with a fallback description.",
		}),
		PostsExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendpulse_posts_excluded_total",
			Help: "Posts excluded from clustering after embedding failure.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendpulse_breaker_state",
			Help: "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		}, []string{"operation"}),
	}

	registry.MustRegister(
		m.TextGenCalls,
		m.TextGenLatency,
		m.CacheHits,
		m.CacheMisses,
		m.RunsTotal,
		m.RunDuration,
		m.TrendsCreated,
		m.TrendsDegraded,
		m.PostsExcluded,
		m.BreakerState,
	)

	return m
}
