// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the plotwise service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference and remote
// rendering latencies, ranging from 100ms to 180s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 180}

// SandboxBuckets covers local script runs up to the default 30s timeout.
var SandboxBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route pattern.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotwise_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "path"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plotwise_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "path"},
	)

	// RouteDecisionsTotal counts routing decisions, forced routes included.
	RouteDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotwise_route_decisions_total",
			Help: "Routing decisions",
		},
		[]string{"route", "forced"},
	)

	// ExecutionsTotal counts finished executions by route and outcome
	// ("success", "no_artifacts" or an error code).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotwise_executions_total",
			Help: "Executions",
		},
		[]string{"route", "outcome"},
	)

	// SandboxDuration records local script run time in seconds.
	SandboxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plotwise_sandbox_duration_seconds",
			Help:    "Local sandbox run time",
			Buckets: SandboxBuckets,
		},
	)

	// SandboxActive tracks sandbox runs currently holding a slot.
	SandboxActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plotwise_sandbox_active",
			Help: "Active sandbox runs",
		},
	)

	// RemoteLatency records remote visualization latency in seconds.
	RemoteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plotwise_remote_latency_seconds",
			Help:    "Remote service latency",
			Buckets: LLMBuckets,
		},
	)

	// ProviderRequestsTotal counts requests sent to LLM providers.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotwise_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records LLM provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plotwise_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotwise_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// RatingsTotal counts ratings by score ("good" or "bad").
	RatingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotwise_ratings_total",
			Help: "Ratings",
		},
		[]string{"score"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plotwise_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RouteDecisionsTotal,
		ExecutionsTotal,
		SandboxDuration,
		SandboxActive,
		RemoteLatency,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		RatingsTotal,
		RateLimitRejectedTotal,
	)
}

// ScoreLabel maps a 1/0 rating to its metric label.
func ScoreLabel(score int) string {
	if score == 1 {
		return "good"
	}
	return "bad"
}
