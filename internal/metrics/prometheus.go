package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the proxy
type Metrics struct {
	registry *prometheus.Registry

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Chat metrics
	ChatRequests     *prometheus.CounterVec
	ActiveStreams    prometheus.Gauge
	StreamDuration   *prometheus.HistogramVec
	UpstreamStatuses *prometheus.CounterVec
	StreamEvents     *prometheus.CounterVec

	// Supporting services
	WebSearches *prometheus.CounterVec
	Uploads     *prometheus.CounterVec
}

// NewMetrics creates a private registry and registers all metrics on it
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eztalk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eztalk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"method", "endpoint"}),

		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eztalk_chat_requests_total",
			Help: "Total number of chat requests by upstream path",
		}, []string{"path"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eztalk_active_streams",
			Help: "Current number of open response streams",
		}),
		StreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eztalk_stream_duration_seconds",
			Help:    "Duration of response streams by finish reason",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}, []string{"path", "reason"}),
		UpstreamStatuses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eztalk_upstream_responses_total",
			Help: "Upstream responses by path and status class",
		}, []string{"path", "class"}),
		StreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eztalk_stream_events_total",
			Help: "Events written to clients by type",
		}, []string{"type"}),

		WebSearches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eztalk_web_searches_total",
			Help: "Web searches by outcome",
		}, []string{"outcome"}),
		Uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eztalk_uploads_total",
			Help: "Uploaded files by how they were forwarded",
		}, []string{"disposition"}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordChatStarted counts a chat request and marks its stream open
func (m *Metrics) RecordChatStarted(path string) {
	m.ChatRequests.WithLabelValues(path).Inc()
	m.ActiveStreams.Inc()
}

// RecordChatFinished closes a stream opened by RecordChatStarted
func (m *Metrics) RecordChatFinished(path, reason string, durationSeconds float64) {
	m.ActiveStreams.Dec()
	m.StreamDuration.WithLabelValues(path, reason).Observe(durationSeconds)
}

func (m *Metrics) RecordUpstreamStatus(path string, status int) {
	m.UpstreamStatuses.WithLabelValues(path, StatusClass(status)).Inc()
}

func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordWebSearch(outcome string) {
	m.WebSearches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordUpload(disposition string) {
	m.Uploads.WithLabelValues(disposition).Inc()
}

// StatusClass maps 404 to "4xx"; anything outside 100-599 is "other".
func StatusClass(status int) string {
	switch {
	case status >= 100 && status < 600:
		return strconv.Itoa(status/100) + "xx"
	default:
		return "other"
	}
}
