package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics are the Prometheus collectors of the recommendation engine and its jobs.
type EngineMetrics struct {
	recommendations *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	cacheRequests   *prometheus.CounterVec
	jobItems        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
}

// NewEngineMetrics registers the engine collectors on reg. Collectors that are
// already registered are reused, so several engines may share one registry.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinerank_recommendations_total",
			Help: "Recommendation results served, by algorithm and source (cache or computed)",
		}, []string{"algorithm", "source"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinerank_recommendation_fallbacks_total",
			Help: "Strategies that fell back to popularity, by reason",
		}, []string{"algorithm", "reason"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinerank_recommendation_cache_requests_total",
			Help: "Recommendation cache lookups by result",
		}, []string{"result"}),
		jobItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinerank_job_items_total",
			Help: "Items processed by background jobs",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cinerank_recommendation_duration_seconds",
			Help:    "Time spent generating recommendations",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"algorithm"}),
	}

	if reg == nil {
		return m
	}

	m.recommendations = register(reg, m.recommendations)
	m.fallbacks = register(reg, m.fallbacks)
	m.cacheRequests = register(reg, m.cacheRequests)
	m.jobItems = register(reg, m.jobItems)
	m.duration = register(reg, m.duration)

	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *EngineMetrics) observeResult(algorithm string, cacheHit bool, started time.Time) {
	if m == nil {
		return
	}
	source := "computed"
	if cacheHit {
		source = "cache"
	}
	m.recommendations.WithLabelValues(algorithm, source).Inc()
	if !cacheHit {
		m.duration.WithLabelValues(algorithm).Observe(time.Since(started).Seconds())
	}
}

func (m *EngineMetrics) observeFallback(algorithm, reason string) {
	if m == nil || reason == "" {
		return
	}
	m.fallbacks.WithLabelValues(algorithm, reason).Inc()
}

func (m *EngineMetrics) observeCache(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) observeJobItems(job, status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.jobItems.WithLabelValues(job, status).Add(float64(n))
}
