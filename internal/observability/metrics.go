package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_http_requests_total",
			Help: "Total number of HTTP requests by route pattern.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern. Streamed asks run for the whole agent run.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_auth_failures_total",
			Help: "Rejected requests by credential source.",
		},
		[]string{"source"},
	)
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_agent_runs_total",
			Help: "Total number of agent runs by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	agentRunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_agent_run_duration_seconds",
			Help:    "End-to-end agent run latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"strategy"},
	)
	refinerAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_refiner_attempts",
			Help:    "Execution attempts spent per refined sub-query.",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"outcome"},
	)
	sanitizerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_sanitizer_rejections_total",
			Help: "Total number of generated statements rejected by the SQL safety gate.",
		},
		[]string{"stage"},
	)
	toolLoopIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_toolloop_iterations",
			Help:    "Model round trips per tool-calling run.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)
	llmRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_llm_request_duration_seconds",
			Help:    "Text-generation request latency by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
	historyWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_history_write_failures_total",
			Help: "Total number of query history records that could not be stored.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		authFailuresTotal,
		agentRunsTotal,
		agentRunDurationSeconds,
		refinerAttempts,
		sanitizerRejectionsTotal,
		toolLoopIterations,
		llmRequestDurationSeconds,
		historyWriteFailuresTotal,
	)
}

func ObserveAgentRun(strategy, outcome string, elapsed time.Duration) {
	agentRunsTotal.WithLabelValues(strategy, outcome).Inc()
	agentRunDurationSeconds.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func ObserveRefinerAttempts(attempts int, succeeded bool) {
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	refinerAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}

func IncrementSanitizerRejection(stage string) {
	if stage == "" {
		stage = "generic"
	}
	sanitizerRejectionsTotal.WithLabelValues(stage).Inc()
}

func ObserveToolLoopIterations(iterations int) {
	toolLoopIterations.Observe(float64(iterations))
}

func ObserveLLMRequest(operation string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmRequestDurationSeconds.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

func IncrementHistoryWriteFailure() {
	historyWriteFailuresTotal.Inc()
}

func IncrementAuthFailure(source string) {
	if source == "" {
		source = "unknown"
	}
	authFailuresTotal.WithLabelValues(source).Inc()
}
