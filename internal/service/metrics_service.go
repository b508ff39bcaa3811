package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-records-api/internal/models"
)

// MetricsService owns the Prometheus registry: HTTP and cache instrumentation plus
// counters for the academic record lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	gradesRecorded  *prometheus.CounterVec
	finalizations   *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	batchStudents   *prometheus.CounterVec
	batchDuration   prometheus.Observer

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	gradeCount           uint64
	finalizedCount       uint64
	decisionCount        uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	gradesRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "records_grades_recorded_total",
		Help: "Grades recorded against evaluation plans",
	}, []string{"kind"})

	finalizations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "records_calculations_finalized_total",
		Help: "Average calculations finalized",
	}, []string{"scope"})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "records_promotion_decisions_total",
		Help: "Promotion decisions recorded",
	}, []string{"decision"})

	batchStudents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "records_batch_students_total",
		Help: "Students processed by class batches",
	}, []string{"outcome"})

	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "records_batch_duration_seconds",
		Help:    "Duration of class batch computations",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		gradesRecorded, finalizations, decisions, batchStudents, batchDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		gradesRecorded:  gradesRecorded,
		finalizations:   finalizations,
		decisions:       decisions,
		batchStudents:   batchStudents,
		batchDuration:   batchDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordGrade counts a grade accepted by an evaluation plan.
func (m *MetricsService) RecordGrade(kind models.GradeKind) {
	if m == nil {
		return
	}
	m.gradesRecorded.WithLabelValues(string(kind)).Inc()
	atomic.AddUint64(&m.gradeCount, 1)
}

// RecordFinalization counts a calculation moving to finalized.
func (m *MetricsService) RecordFinalization(scope models.CalculationScope) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(string(scope)).Inc()
	atomic.AddUint64(&m.finalizedCount, 1)
}

// RecordDecision counts a persisted promotion decision.
func (m *MetricsService) RecordDecision(decision models.PromotionDecision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(decision)).Inc()
	atomic.AddUint64(&m.decisionCount, 1)
}

// ObserveBatch records a finished class batch.
func (m *MetricsService) ObserveBatch(succeeded, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchStudents.WithLabelValues("succeeded").Add(float64(succeeded))
	m.batchStudents.WithLabelValues("failed").Add(float64(failed))
	m.batchDuration.Observe(duration.Seconds())
}

// Snapshot returns aggregated counters for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if lookups := hits + misses; lookups > 0 {
		cacheRatio = float64(hits) / float64(lookups)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		GradesRecorded:           atomic.LoadUint64(&m.gradeCount),
		CalculationsFinalized:    atomic.LoadUint64(&m.finalizedCount),
		PromotionsDecided:        atomic.LoadUint64(&m.decisionCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
