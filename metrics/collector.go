// Package metrics exposes Prometheus instruments for the HTTP surface, the
// simplifier jobs and the workspace reaper.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Job outcomes used as the "outcome" label.
const (
	OutcomeSuccess      = "success"
	OutcomeToolFailure  = "tool_failure"
	OutcomeSpawnFailure = "spawn_failure"
	OutcomeTimeout      = "timeout"
	OutcomeCanceled     = "canceled"
)

// Collector holds every instrument the service records. A nil *Collector is
// valid and records nothing.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
	uploadSize   prometheus.Histogram

	reapedFiles prometheus.Counter
	reapErrors  prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers all instruments on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simplify_jobs_total",
			Help:      "Total number of simplifier invocations by outcome",
		},
		[]string{"outcome"},
	)

	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simplify_job_duration_seconds",
			Help:      "Wall time of simplifier invocations in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	c.jobsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simplify_jobs_in_flight",
			Help:      "Number of simplifier processes currently running",
		},
	)

	c.uploadSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of uploaded meshes in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	c.reapedFiles = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_reaped_files_total",
			Help:      "Total number of expired workspace files removed",
		},
	)

	c.reapErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_reap_errors_total",
			Help:      "Total number of workspace files the reaper failed to remove",
		},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

func (c *Collector) RecordJob(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(outcome).Inc()
	c.jobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// JobStarted bumps the in-flight gauge; call the returned func when the job ends.
func (c *Collector) JobStarted() func() {
	if c == nil {
		return func() {}
	}
	c.jobsInFlight.Inc()
	return c.jobsInFlight.Dec
}

func (c *Collector) RecordUpload(size int64) {
	if c == nil {
		return
	}
	c.uploadSize.Observe(float64(size))
}

func (c *Collector) RecordReap(removed, failed int) {
	if c == nil {
		return
	}
	c.reapedFiles.Add(float64(removed))
	c.reapErrors.Add(float64(failed))
}
