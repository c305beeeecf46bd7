// Package metrics exposes the service's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "insight_request_duration_seconds",
		Help:    "End-to-end latency of insight requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "status"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_cache_hits_total",
		Help: "Responses served from the fingerprint cache",
	}, []string{"endpoint"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_cache_misses_total",
		Help: "Requests that had to call the model",
	}, []string{"endpoint"})

	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_model_calls_total",
		Help: "Outbound model pipeline executions by outcome",
	}, []string{"endpoint", "outcome"})

	Throttled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_throttled_total",
		Help: "Requests rejected after the bounded admission wait",
	}, []string{"endpoint"})
)
