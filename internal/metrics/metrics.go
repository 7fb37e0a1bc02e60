package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsActive  prometheus.Gauge
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec

	// Message metrics
	MessagesTotal      *prometheus.CounterVec
	DecodeErrorsTotal  *prometheus.CounterVec
	InterruptionsTotal prometheus.Counter

	// Function metrics
	FunctionCallsTotal *prometheus.CounterVec

	// Token metrics
	TokenRedemptionsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callbot"
	}

	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently bridged",
		},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of finished calls by outcome severity",
		},
		[]string{"backend", "severity"},
	)

	callDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"backend"},
	)

	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of websocket messages handled",
		},
		[]string{"peer", "direction"},
	)

	decodeErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of dropped undecodable messages",
		},
		[]string{"peer"},
	)

	interruptionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total number of AI responses interrupted by the caller",
		},
	)

	functionCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_calls_total",
			Help:      "Total number of function calls by result",
		},
		[]string{"function", "result"},
	)

	tokenRedemptionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_redemptions_total",
			Help:      "Total number of call token redemptions by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		callsActive,
		callsTotal,
		callDuration,
		messagesTotal,
		decodeErrorsTotal,
		interruptionsTotal,
		functionCallsTotal,
		tokenRedemptionsTotal,
	)

	return &Metrics{
		registry:              registry,
		CallsActive:           callsActive,
		CallsTotal:            callsTotal,
		CallDuration:          callDuration,
		MessagesTotal:         messagesTotal,
		DecodeErrorsTotal:     decodeErrorsTotal,
		InterruptionsTotal:    interruptionsTotal,
		FunctionCallsTotal:    functionCallsTotal,
		TokenRedemptionsTotal: tokenRedemptionsTotal,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCallStart records a call entering the active state.
func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

// RecordCallEnd records a finished call.
func (m *Metrics) RecordCallEnd(backend, severity string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(backend, severity).Inc()
	m.CallDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordMessage counts one websocket message.
func (m *Metrics) RecordMessage(peer, direction string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(peer, direction).Inc()
}

// RecordDecodeError counts one dropped message.
func (m *Metrics) RecordDecodeError(peer string) {
	if m == nil {
		return
	}
	m.DecodeErrorsTotal.WithLabelValues(peer).Inc()
}

// RecordInterruption counts one barge-in.
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.InterruptionsTotal.Inc()
}

// RecordFunctionCall counts one function invocation.
func (m *Metrics) RecordFunctionCall(function, result string) {
	if m == nil {
		return
	}
	m.FunctionCallsTotal.WithLabelValues(function, result).Inc()
}

// RecordTokenRedemption counts one token redemption attempt.
func (m *Metrics) RecordTokenRedemption(result string) {
	if m == nil {
		return
	}
	m.TokenRedemptionsTotal.WithLabelValues(result).Inc()
}
