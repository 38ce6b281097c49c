package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects orchestrator metrics: model call latency, loop
// iteration counts, tool execution outcomes, and stream event volume.
// All metrics register with the default Prometheus registry and are served
// from the /metrics endpoint.
type Metrics struct {
	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider (anthropic|openai), mode (stream|generate)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls.
	// Labels: provider, mode, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// RunIterations observes how many model round trips each request
	// used before terminating.
	RunIterations prometheus.Histogram

	// RunTerminations counts finished runs by termination reason.
	// Labels: reason (no_tool_calls|client_handoff|max_iterations|error)
	RunTerminations *prometheus.CounterVec

	// ToolExecutionCounter counts server tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures server tool latency in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// StreamEvents counts SSE events written to clients.
	// Labels: type
	StreamEvents *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors with reg. Tests pass a fresh
// registry so they never collide in the default one.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailpilot_llm_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "mode"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailpilot_llm_requests_total",
				Help: "Total model calls by provider, mode, and status",
			},
			[]string{"provider", "mode", "status"},
		),

		RunIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailpilot_run_iterations",
				Help:    "Model round trips used per agent run",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		),

		RunTerminations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailpilot_run_terminations_total",
				Help: "Finished agent runs by termination reason",
			},
			[]string{"reason"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailpilot_tool_executions_total",
				Help: "Server tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailpilot_tool_execution_duration_seconds",
				Help:    "Server tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		StreamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailpilot_stream_events_total",
				Help: "SSE events written to clients by type",
			},
			[]string{"type"},
		),
	}
}
