package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchRequestsTotal      *prometheus.CounterVec
	searchDegradedTotal      *prometheus.CounterVec
	searchResults            *prometheus.HistogramVec
	searchDuration           *prometheus.HistogramVec
	consistencyExcludedTotal *prometheus.CounterVec
	answerRequestsTotal      *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pmqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmqa",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total successful search requests by retrieval mode.",
		},
		[]string{"service", "mode"},
	)
	searchDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmqa",
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Total hybrid searches served from a single side.",
		},
		[]string{"service", "failed_side"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmqa",
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of results per successful search request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 50},
		},
		[]string{"service", "mode"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmqa",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
	consistencyExcludedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmqa",
			Subsystem: "search",
			Name:      "consistency_excluded_total",
			Help:      "Total results dropped because their document record was missing.",
		},
		[]string{"service"},
	)
	answerRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmqa",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total answer generations by outcome.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchRequestsTotal,
		searchDegradedTotal,
		searchResults,
		searchDuration,
		consistencyExcludedTotal,
		answerRequestsTotal,
	)

	return &HTTPServerMetrics{
		registry:                 registry,
		requestTotal:             requestTotal,
		requestDuration:          requestDuration,
		requestInFlight:          requestInFlight,
		searchRequestsTotal:      searchRequestsTotal,
		searchDegradedTotal:      searchDegradedTotal,
		searchResults:            searchResults,
		searchDuration:           searchDuration,
		consistencyExcludedTotal: consistencyExcludedTotal,
		answerRequestsTotal:      answerRequestsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/") && strings.HasSuffix(path, "/related"):
		return "/v1/documents/{document_id}/related"
	case strings.HasPrefix(path, "/v1/documents/") && strings.HasSuffix(path, "/keywords"):
		return "/v1/documents/{document_id}/keywords"
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	case strings.HasPrefix(path, "/v1/criteria/"):
		return "/v1/criteria/{number}/evidence"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordSearch(service, mode string, resultCount int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.searchRequestsTotal.WithLabelValues(service, mode).Inc()
	m.searchResults.WithLabelValues(service, mode).Observe(float64(resultCount))
	m.searchDuration.WithLabelValues(service, mode).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordSearchDegraded(service, failedSide string) {
	if failedSide == "" {
		failedSide = "unknown"
	}
	m.searchDegradedTotal.WithLabelValues(service, failedSide).Inc()
}

func (m *HTTPServerMetrics) RecordConsistencyExcluded(service string, count int) {
	if count <= 0 {
		return
	}
	m.consistencyExcludedTotal.WithLabelValues(service).Add(float64(count))
}

// SearchObserver bridges the retrieval engine's health hooks onto the
// registered search counters.
type SearchObserver struct {
	metrics *HTTPServerMetrics
	service string
}

func (m *HTTPServerMetrics) SearchObserver(service string) *SearchObserver {
	return &SearchObserver{metrics: m, service: service}
}

func (o *SearchObserver) HybridDegraded(failedSide string) {
	o.metrics.RecordSearchDegraded(o.service, failedSide)
}

func (o *SearchObserver) ResultsExcluded(count int) {
	o.metrics.RecordConsistencyExcluded(o.service, count)
}

func (m *HTTPServerMetrics) RecordAnswer(service string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.answerRequestsTotal.WithLabelValues(service, status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
