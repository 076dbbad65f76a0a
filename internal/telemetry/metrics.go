// Package telemetry provides observability primitives for the Bifrost gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	GenerateDuration  *prometheus.HistogramVec
	RouteErrors       *prometheus.CounterVec
	AdmissionRejects  *prometheus.CounterVec
	TokensProcessed   *prometheus.CounterVec
	ToolCallsSynth    prometheus.Counter
	StreamFrames      prometheus.Counter
	BreakerOpens      *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "bifrost",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bifrost",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		GenerateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "bifrost",
			Name:                            "generate_duration_seconds",
			Help:                            "Provider route generation duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"route", "model"}),

		RouteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "route_errors_total",
			Help:      "Total provider route failures.",
		}, []string{"route"}),

		AdmissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "admission_rejects_total",
			Help:      "Total admission denials by error code.",
		}, []string{"code"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		ToolCallsSynth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "tool_calls_synthesized_total",
			Help:      "Total synthetic tool calls emitted.",
		}),

		StreamFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "stream_frames_total",
			Help:      "Total stream frames written.",
		}),

		BreakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      "breaker_opens_total",
			Help:      "Total circuit breaker open transitions observed.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.GenerateDuration,
		m.RouteErrors,
		m.AdmissionRejects,
		m.TokensProcessed,
		m.ToolCallsSynth,
		m.StreamFrames,
		m.BreakerOpens,
	)

	return m
}
