// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Upstream metrics
	UpstreamCalls       *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	UpstreamRetries     *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	RateLimitRejections *prometheus.CounterVec

	// Cache metrics
	CacheRequests      *prometheus.CounterVec
	CacheInvalidations prometheus.Counter
	CacheEntries       prometheus.Gauge

	// Compute metrics
	ComputeDuration *prometheus.HistogramVec
	ComputeErrors   *prometheus.CounterVec
	StaleServed     *prometheus.CounterVec

	// Live channel metrics
	ActiveSessions     prometheus.Gauge
	ActiveWatches      prometheus.Gauge
	FramesSent         *prometheus.CounterVec
	SlowConsumers      prometheus.Counter
	HeartbeatEvictions prometheus.Counter

	// Scheduler metrics
	RefreshRuns     *prometheus.CounterVec
	RefreshSkipped  prometheus.Counter
	RefreshDuration prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_analytics"
	}

	return &Metrics{
		UpstreamCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Total upstream calls by host, operation and outcome",
		}, []string{"host", "op", "outcome"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_latency_seconds",
			Help:      "Upstream call latency in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host", "op"}),
		UpstreamRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Total retried upstream attempts",
		}, []string{"host", "op"}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per host (0 closed, 1 half-open, 2 open)",
		}, []string{"host"}),
		RateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "rate_limit_rejections_total",
			Help:      "Calls that timed out waiting for the rate limiter",
		}, []string{"host"}),

		CacheRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by kind and result (hit, miss, shared)",
		}, []string{"kind", "result"}),
		CacheInvalidations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total token invalidations",
		}),
		CacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cache entries",
		}),

		ComputeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compute",
			Name:      "duration_seconds",
			Help:      "Fetch and compute duration per kind",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
		ComputeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compute",
			Name:      "errors_total",
			Help:      "Failed computations per kind",
		}, []string{"kind"}),
		StaleServed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compute",
			Name:      "stale_served_total",
			Help:      "Responses served from the last good value after a failure",
		}, []string{"kind"}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "sessions",
			Help:      "Current number of active live sessions",
		}),
		ActiveWatches: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "upstream_watches",
			Help:      "Current number of upstream account watches",
		}),
		FramesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "frames_total",
			Help:      "Frames enqueued to sessions by type",
		}, []string{"type"}),
		SlowConsumers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "slow_consumers_total",
			Help:      "Sessions closed because their queue was full",
		}),
		HeartbeatEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "heartbeat_evictions_total",
			Help:      "Sessions purged after missed heartbeats",
		}),

		RefreshRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "refresh_total",
			Help:      "Token refreshes by status",
		}, []string{"status"}),
		RefreshSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "refresh_skipped_total",
			Help:      "Token refreshes skipped because a computation was in flight",
		}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Scheduler tick duration in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordUpstreamCall records one logical upstream call including its retries.
func RecordUpstreamCall(host, op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DefaultMetrics.UpstreamCalls.WithLabelValues(host, op, outcome).Inc()
	DefaultMetrics.UpstreamLatency.WithLabelValues(host, op).Observe(d.Seconds())
}

// RecordUpstreamRetry increments the retry counter.
func RecordUpstreamRetry(host, op string) {
	DefaultMetrics.UpstreamRetries.WithLabelValues(host, op).Inc()
}

// RecordBreakerState sets the breaker state gauge (0 closed, 1 half-open, 2 open).
func RecordBreakerState(host string, state int) {
	DefaultMetrics.BreakerState.WithLabelValues(host).Set(float64(state))
}

// RecordRateLimited increments the rate limiter rejection counter.
func RecordRateLimited(host string) {
	DefaultMetrics.RateLimitRejections.WithLabelValues(host).Inc()
}

// RecordCacheRequest records a cache lookup result.
func RecordCacheRequest(kind, result string) {
	DefaultMetrics.CacheRequests.WithLabelValues(kind, result).Inc()
}

// RecordCacheInvalidation increments the invalidation counter.
func RecordCacheInvalidation() {
	DefaultMetrics.CacheInvalidations.Inc()
}

// UpdateCacheEntries sets the cache size gauge.
func UpdateCacheEntries(n int) {
	DefaultMetrics.CacheEntries.Set(float64(n))
}

// RecordCompute records a computation and its outcome.
func RecordCompute(kind string, d time.Duration, err error) {
	DefaultMetrics.ComputeDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.ComputeErrors.WithLabelValues(kind).Inc()
	}
}

// RecordStaleServed increments the stale fallback counter.
func RecordStaleServed(kind string) {
	DefaultMetrics.StaleServed.WithLabelValues(kind).Inc()
}

// UpdateLiveGauges sets the session and watch gauges.
func UpdateLiveGauges(sessions, watches int) {
	DefaultMetrics.ActiveSessions.Set(float64(sessions))
	DefaultMetrics.ActiveWatches.Set(float64(watches))
}

// RecordFrame increments the frames counter for a frame type.
func RecordFrame(frameType string) {
	DefaultMetrics.FramesSent.WithLabelValues(frameType).Inc()
}

// RecordSlowConsumer increments the slow consumer counter.
func RecordSlowConsumer() {
	DefaultMetrics.SlowConsumers.Inc()
}

// RecordHeartbeatEviction increments the heartbeat eviction counter.
func RecordHeartbeatEviction() {
	DefaultMetrics.HeartbeatEvictions.Inc()
}

// RecordRefresh records one token refresh.
func RecordRefresh(status string) {
	DefaultMetrics.RefreshRuns.WithLabelValues(status).Inc()
}

// RecordRefreshSkipped increments the skipped refresh counter.
func RecordRefreshSkipped() {
	DefaultMetrics.RefreshSkipped.Inc()
}

// RecordRefreshTick records a scheduler tick duration.
func RecordRefreshTick(d time.Duration) {
	DefaultMetrics.RefreshDuration.Observe(d.Seconds())
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
