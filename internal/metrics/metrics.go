// Package metrics exposes Prometheus instrumentation for chat turns.
//
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// TurnsTotal counts completed turns.
	// Labels: mode (sync|stream), status (ok|error|fallback|cancelled)
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures wall time per turn in seconds.
	// Labels: mode
	TurnDuration *prometheus.HistogramVec

	// LLMRequestsTotal counts backend completion calls.
	// Labels: status (ok|error)
	LLMRequestsTotal *prometheus.CounterVec

	// ToolCallsTotal counts tool executions.
	// Labels: tool, status (ok|error)
	ToolCallsTotal *prometheus.CounterVec

	// StreamedTokens counts tokens emitted as stream deltas.
	StreamedTokens prometheus.Counter
}

// New creates the collectors. sessions, when non-nil, backs a gauge of the
// number of live sessions.
func New(sessions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatagent_turns_total",
				Help: "Total number of chat turns by mode and status",
			},
			[]string{"mode", "status"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatagent_turn_duration_seconds",
				Help:    "Duration of chat turns in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		LLMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatagent_llm_requests_total",
				Help: "Total number of backend completion requests by status",
			},
			[]string{"status"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatagent_tool_calls_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		StreamedTokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatagent_streamed_tokens_total",
				Help: "Total number of tokens delivered as stream deltas",
			},
		),
	}

	m.registry.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.LLMRequestsTotal,
		m.ToolCallsTotal,
		m.StreamedTokens,
		collectors.NewGoCollector(),
	)
	if sessions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "chatagent_sessions",
				Help: "Number of sessions held in memory",
			},
			func() float64 { return float64(sessions()) },
		))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(mode, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(mode, status).Inc()
	m.TurnDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveLLMRequest records one backend completion call.
func (m *Metrics) ObserveLLMRequest(err error) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(status(err)).Inc()
}

// ObserveToolCall records one tool execution.
func (m *Metrics) ObserveToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status(err)).Inc()
}

// AddStreamedTokens adds n to the streamed token counter.
func (m *Metrics) AddStreamedTokens(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StreamedTokens.Add(float64(n))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
