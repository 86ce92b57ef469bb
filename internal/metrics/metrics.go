// Package metrics exposes Prometheus collectors for the gateway's
// signature and transaction flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPDuration observes request latency per route and status
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// SignaturesIssued counts consent events by disposition
	SignaturesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_signatures_issued_total",
		Help: "Signature requests recorded, by disposition.",
	}, []string{"disposition"})

	// ScopeResolutions counts third-party attribute resolutions
	ScopeResolutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_scope_resolutions_total",
		Help: "Successful signature-to-attribute resolutions.",
	})

	// Transactions counts lifecycle operations by outcome
	Transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_transactions_total",
		Help: "Custodial transaction operations, by operation and outcome.",
	}, []string{"operation", "outcome"})

	// ChainErrors counts chain interaction failures by error kind
	ChainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_chain_errors_total",
		Help: "Chain interaction failures, by error code.",
	}, []string{"code"})
)

// Handler returns the /metrics endpoint handler
func Handler() http.Handler {
	return promhttp.Handler()
}
