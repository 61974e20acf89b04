package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bulk_engine"

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	rowsProcessedTotal    *prometheus.CounterVec
	rowProcessingDuration *prometheus.HistogramVec
	rowInfraErrorsTotal   *prometheus.CounterVec
	jobsCompletedTotal    *prometheus.CounterVec
	relayEventsTotal      *prometheus.CounterVec
	workerInflight        *prometheus.GaugeVec
	deadLetteredTotal     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		rowsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_processed_total",
				Help:      "Rows recorded against their job, by job type and outcome.",
			},
			[]string{"job_type", "outcome"},
		),
		rowProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "row_processing_duration_seconds",
				Help:      "Time spent processing and recording one row.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"job_type"},
		),
		rowInfraErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "row_infra_errors_total",
				Help:      "Rows handed back to the queue because of an infrastructure error.",
			},
			[]string{"job_type"},
		),
		jobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Jobs that reached a terminal status.",
			},
			[]string{"job_type", "status"},
		),
		relayEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_events_total",
				Help:      "Progress and completion events sent to live clients, by result.",
			},
			[]string{"kind", "result"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Rows currently being processed, by job type.",
			},
			[]string{"job_type"},
		),
		deadLetteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "work_items_dead_lettered_total",
				Help:      "Work items moved to a dead-letter queue after their final attempt.",
			},
			[]string{"job_type"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rowsProcessedTotal,
		m.rowProcessingDuration,
		m.rowInfraErrorsTotal,
		m.jobsCompletedTotal,
		m.relayEventsTotal,
		m.workerInflight,
		m.deadLetteredTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

// IncRowProcessed counts a recorded row. Duplicates are counted separately
// so redelivery is visible.
func (m *Metrics) IncRowProcessed(jobType string, success, duplicate bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	switch {
	case duplicate:
		outcome = "duplicate"
	case success:
		outcome = "success"
	}
	m.rowsProcessedTotal.WithLabelValues(normalizeLabel(jobType), outcome).Inc()
}

func (m *Metrics) ObserveRowDuration(jobType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.rowProcessingDuration.WithLabelValues(normalizeLabel(jobType)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncRowInfraError(jobType string) {
	if m == nil {
		return
	}
	m.rowInfraErrorsTotal.WithLabelValues(normalizeLabel(jobType)).Inc()
}

func (m *Metrics) IncJobCompleted(jobType string, status string) {
	if m == nil {
		return
	}
	m.jobsCompletedTotal.WithLabelValues(normalizeLabel(jobType), normalizeLabel(status)).Inc()
}

func (m *Metrics) IncRelayEvent(kind string, result string) {
	if m == nil {
		return
	}
	m.relayEventsTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncWorkerInFlight(jobType string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(jobType)).Inc()
}

func (m *Metrics) DecWorkerInFlight(jobType string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(jobType)).Dec()
}

func (m *Metrics) IncDeadLettered(jobType string) {
	if m == nil {
		return
	}
	m.deadLetteredTotal.WithLabelValues(normalizeLabel(jobType)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
