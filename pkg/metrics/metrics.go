// Package metrics registers the agent's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentup",
		Name:      "requests_total",
		Help:      "JSON-RPC requests by method and status.",
	}, []string{"method", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentup",
		Name:      "request_duration_seconds",
		Help:      "JSON-RPC request latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentup",
		Name:      "tasks_total",
		Help:      "Tasks by terminal state.",
	}, []string{"state"})

	FunctionCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentup",
		Name:      "function_calls_total",
		Help:      "AI function calls by name and outcome.",
	}, []string{"function", "outcome"})

	FunctionCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentup",
		Name:      "function_call_duration_seconds",
		Help:      "AI function call latency by name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"function"})
)

// ObserveRequest records one JSON-RPC request.
func ObserveRequest(method, status string, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(method, status).Inc()
	RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveTask records a terminal task transition.
func ObserveTask(state string) {
	TasksTotal.WithLabelValues(state).Inc()
}

// ObserveFunctionCall records one AI function invocation.
func ObserveFunctionCall(function, outcome string, elapsed time.Duration) {
	FunctionCallsTotal.WithLabelValues(function, outcome).Inc()
	FunctionCallDuration.WithLabelValues(function).Observe(elapsed.Seconds())
}

// Handler serves the prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
