package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "overlay"

// Metrics holds all Prometheus metrics. Each instance owns its registry, so
// several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Bridge metrics
	EvalsTotal      *prometheus.CounterVec
	EvalDuration    prometheus.Histogram
	EvalsPending    prometheus.Gauge
	StaleDeliveries prometheus.Counter
	Invalidations   prometheus.Counter
	BridgeReady     prometheus.Counter

	// Page metrics
	PageLoads        *prometheus.CounterVec
	PageLoadDuration *prometheus.HistogramVec
	PageMessages     prometheus.Counter
	PageEvents       *prometheus.CounterVec
	DroppedNotices   *prometheus.CounterVec

	// Service metrics (loader, breaker)
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec
	ServiceErrors   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON stats endpoint.
type Snapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	Evaluations     int64   `json:"evaluations"`
	EvalFailures    int64   `json:"eval_failures"`
	PendingEvals    int64   `json:"pending_evals"`
	StaleDeliveries int64   `json:"stale_deliveries"`
	PageLoads       int64   `json:"page_loads"`
	WSConnections   int64   `json:"ws_connections"`
	AvgEvalSeconds  float64 `json:"avg_eval_seconds"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	evalSeconds     float64
}

// NewMetrics creates a metrics collector with a fresh registry that also
// carries the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		EvalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_evaluations_total",
				Help:      "Script evaluations by outcome",
			},
			[]string{"status"},
		),
		EvalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bridge_evaluation_duration_seconds",
				Help:      "Time from submission to result",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		EvalsPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bridge_evaluations_pending",
				Help:      "Evaluations waiting for a result",
			},
		),
		StaleDeliveries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_stale_deliveries_total",
				Help:      "Results dropped because their request was no longer pending",
			},
		),
		Invalidations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_invalidated_requests_total",
				Help:      "Pending requests failed by navigation",
			},
		),
		BridgeReady: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_ready_total",
				Help:      "Pages that reached the ready state",
			},
		),

		PageLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_loads_total",
				Help:      "Page loads by source and outcome",
			},
			[]string{"source", "status"},
		),
		PageLoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "page_load_duration_seconds",
				Help:      "Time to fetch and decode a page",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"source"},
		),
		PageMessages: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_messages_total",
				Help:      "Messages sent from page scripts to the engine",
			},
		),
		PageEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_events_total",
				Help:      "Input events dispatched from the page",
			},
			[]string{"type"},
		),
		DroppedNotices: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_notifications_total",
				Help:      "Page notifications discarded because the engine queue was full",
			},
			[]string{"kind"},
		),

		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_calls_total",
				Help:      "Total number of service calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_duration_seconds",
				Help:      "Service call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),
		ServiceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_errors_total",
				Help:      "Total number of service errors",
			},
			[]string{"service", "method", "error_type"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Snapshot returns a copy of the current JSON-facing values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	if snap.Evaluations > 0 {
		snap.AvgEvalSeconds = snap.evalSeconds / float64(snap.Evaluations)
	}
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}

// The recorders below accept a nil receiver so components can run without
// metrics wired in.

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordEval records one finished evaluation.
func (m *Metrics) RecordEval(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EvalsTotal.WithLabelValues(status).Inc()
	m.EvalDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Evaluations++
	m.snapshot.evalSeconds += duration.Seconds()
	if status != "ok" {
		m.snapshot.EvalFailures++
	}
	m.mu.Unlock()
}

// IncPendingEvals marks an evaluation as in flight.
func (m *Metrics) IncPendingEvals() {
	if m == nil {
		return
	}
	m.EvalsPending.Inc()
	m.mu.Lock()
	m.snapshot.PendingEvals++
	m.mu.Unlock()
}

// DecPendingEvals marks an in-flight evaluation as finished.
func (m *Metrics) DecPendingEvals() {
	if m == nil {
		return
	}
	m.EvalsPending.Dec()
	m.mu.Lock()
	m.snapshot.PendingEvals--
	m.mu.Unlock()
}

// RecordStaleDelivery counts a dropped late result.
func (m *Metrics) RecordStaleDelivery() {
	if m == nil {
		return
	}
	m.StaleDeliveries.Inc()
	m.mu.Lock()
	m.snapshot.StaleDeliveries++
	m.mu.Unlock()
}

// RecordInvalidation counts requests failed by a navigation.
func (m *Metrics) RecordInvalidation(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.Invalidations.Add(float64(count))
}

// RecordBridgeReady counts a page reaching the ready state.
func (m *Metrics) RecordBridgeReady() {
	if m == nil {
		return
	}
	m.BridgeReady.Inc()
}

// RecordPageLoad records a page fetch.
func (m *Metrics) RecordPageLoad(source, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PageLoads.WithLabelValues(source, status).Inc()
	m.PageLoadDuration.WithLabelValues(source).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.PageLoads++
	m.mu.Unlock()
}

// RecordPageMessage counts a message pushed by a page script.
func (m *Metrics) RecordPageMessage() {
	if m == nil {
		return
	}
	m.PageMessages.Inc()
}

// RecordPageEvent counts a DOM input event by type.
func (m *Metrics) RecordPageEvent(eventType string) {
	if m == nil {
		return
	}
	m.PageEvents.WithLabelValues(eventType).Inc()
}

// RecordDroppedNotification counts a message or event the engine discarded.
func (m *Metrics) RecordDroppedNotification(kind string) {
	if m == nil {
		return
	}
	m.DroppedNotices.WithLabelValues(kind).Inc()
}

// RecordServiceCall records a service call.
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordServiceError records a service error.
func (m *Metrics) RecordServiceError(service, method, errorType string) {
	if m == nil {
		return
	}
	m.ServiceErrors.WithLabelValues(service, method, errorType).Inc()
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections.
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections.
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}
