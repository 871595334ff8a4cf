// Package observability provides the Prometheus metrics shared by the
// workflow engine, collaboration orchestrator and provider manager.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram emitted across the three
// components. A single instance is constructed at process start and
// threaded into each component's constructor.
type Metrics struct {
	// Workflow engine.
	WorkflowRunsStarted   *prometheus.CounterVec
	WorkflowRunsCompleted *prometheus.CounterVec
	WorkflowStepsExecuted *prometheus.CounterVec
	WorkflowRunDuration   *prometheus.HistogramVec
	WorkflowActiveRuns    prometheus.Gauge

	// Collaboration orchestrator.
	CollabMessagesSent      *prometheus.CounterVec
	CollabTurnsAdvanced     *prometheus.CounterVec
	CollabSessionsCompleted *prometheus.CounterVec
	CollabActiveSessions    prometheus.Gauge

	// Provider manager.
	ProviderRequestsTotal *prometheus.CounterVec
	ProviderRequestErrors *prometheus.CounterVec
	ProviderLatency       *prometheus.HistogramVec
	ProviderHealthy       *prometheus.GaugeVec
	RateLimiterThrottles  *prometheus.CounterVec
}

// NewMetrics registers all series against reg and returns the bundle.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registerer across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WorkflowRunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "runs_started_total",
			Help:      "Number of workflow runs started, by workflow name.",
		}, []string{"workflow"}),

		WorkflowRunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "runs_completed_total",
			Help:      "Number of workflow runs that reached a terminal status, by workflow name and final status.",
		}, []string{"workflow", "status"}),

		WorkflowStepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "steps_executed_total",
			Help:      "Number of workflow steps executed, by workflow name and action.",
		}, []string{"workflow", "action"}),

		WorkflowRunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a workflow run from start to terminal status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow"}),

		WorkflowActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "active_runs",
			Help:      "Number of workflow runs currently not in a terminal status.",
		}),

		CollabMessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "collab",
			Name:      "messages_sent_total",
			Help:      "Number of messages exchanged in collaboration sessions, by protocol.",
		}, []string{"protocol"}),

		CollabTurnsAdvanced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "collab",
			Name:      "turns_advanced_total",
			Help:      "Number of turns taken across collaboration sessions, by protocol.",
		}, []string{"protocol"}),

		CollabSessionsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "collab",
			Name:      "sessions_completed_total",
			Help:      "Number of collaboration sessions that reached a terminal status, by protocol and final status.",
		}, []string{"protocol", "status"}),

		CollabActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "collab",
			Name:      "active_sessions",
			Help:      "Number of collaboration sessions currently not in a terminal status.",
		}),

		ProviderRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Number of requests dispatched to a provider, by provider name and operation.",
		}, []string{"provider", "operation"}),

		ProviderRequestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "provider",
			Name:      "request_errors_total",
			Help:      "Number of requests to a provider that returned an error, by provider name and operation.",
		}, []string{"provider", "operation"}),

		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Latency of provider requests, by provider name and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),

		ProviderHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "provider",
			Name:      "healthy",
			Help:      "1 if the last health check for a provider succeeded, 0 otherwise.",
		}, []string{"provider"}),

		RateLimiterThrottles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "provider",
			Name:      "rate_limiter_throttles_total",
			Help:      "Number of times a provider's rate limiter delayed a request, by provider name.",
		}, []string{"provider"}),
	}
}
