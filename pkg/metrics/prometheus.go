package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Matchmaking Metrics
	matchesTotal        *prometheus.CounterVec
	matchConflictsTotal prometheus.Counter
	noMatchTotal        prometheus.Counter

	// Call Metrics
	callsActive   prometheus.Gauge
	callsTotal    *prometheus.CounterVec
	callsDuration prometheus.Histogram

	// Chat Metrics
	messagesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being served",
				ConstLabels: labels,
			},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of live WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of relayed WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		websocketErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of relay protocol errors",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		matchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "matches_total",
				Help:        "Total number of successful matches by tier",
				ConstLabels: labels,
			},
			[]string{"tier"},
		),
		matchConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "match_conflicts_total",
				Help:        "Total number of match attempts lost to a concurrent binding",
				ConstLabels: labels,
			},
		),
		noMatchTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "no_match_total",
				Help:        "Total number of find-match requests that found nobody",
				ConstLabels: labels,
			},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of currently active calls",
				ConstLabels: labels,
			},
		),
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of terminated calls by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		callsDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of ended calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		messagesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "chat_messages_total",
				Help:        "Total number of persisted chat messages",
				ConstLabels: labels,
			},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Inc() }

// DecrementHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Dec() }

// WebSocketConnected records a new relay connection
func (m *Metrics) WebSocketConnected() { m.websocketConnections.Inc() }

// WebSocketDisconnected records a closed relay connection
func (m *Metrics) WebSocketDisconnected() { m.websocketConnections.Dec() }

// RecordWebSocketMessage records a relayed message by type
func (m *Metrics) RecordWebSocketMessage(msgType string) {
	m.websocketMessagesTotal.WithLabelValues(msgType).Inc()
}

// RecordWebSocketError records a relay protocol error by reason
func (m *Metrics) RecordWebSocketError(reason string) {
	m.websocketErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordMatch records a successful match by tier and bumps the active calls gauge
func (m *Metrics) RecordMatch(tier string) {
	m.matchesTotal.WithLabelValues(tier).Inc()
	m.callsActive.Inc()
}

// RecordMatchConflict records a match attempt lost to a concurrent binding
func (m *Metrics) RecordMatchConflict() { m.matchConflictsTotal.Inc() }

// RecordNoMatch records a find-match request with no candidates
func (m *Metrics) RecordNoMatch() { m.noMatchTotal.Inc() }

// RecordCallEnded records a terminated call with its outcome and duration
func (m *Metrics) RecordCallEnded(outcome string, duration time.Duration) {
	m.callsTotal.WithLabelValues(outcome).Inc()
	m.callsActive.Dec()
	if duration > 0 {
		m.callsDuration.Observe(duration.Seconds())
	}
}

// RecordChatMessage records a persisted chat message
func (m *Metrics) RecordChatMessage() { m.messagesTotal.Inc() }
