// Package metrics provides Prometheus metrics for Origami.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "origami"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Registry metrics
var (
	// DomainsRegistered tracks registered domains.
	DomainsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "domains_registered",
			Help:      "Number of registered domains",
		},
	)

	// PacketsDispatched counts packets dispatched by domain and data type.
	PacketsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "packets_dispatched_total",
			Help:      "Total packets dispatched to domain engines",
		},
		[]string{"domain", "data_type"},
	)

	// DispatchErrors counts routing failures.
	DispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "dispatch_errors_total",
			Help:      "Total dispatch routing errors",
		},
		[]string{"reason"}, // unknown_domain, unsupported_data_type
	)

	// AlertsGenerated counts alerts by domain and severity.
	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "alerts_total",
			Help:      "Total alerts generated",
		},
		[]string{"domain", "severity"},
	)

	// EnginePanics counts recovered engine panics.
	EnginePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "engine_panics_total",
			Help:      "Total recovered alert engine panics",
		},
		[]string{"domain"},
	)
)

// Router metrics
var (
	// ChainsActive tracks escalation chains that are not terminal.
	ChainsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "chains_active",
			Help:      "Escalation chains currently in progress",
		},
	)

	// ChainsFinished counts chains by terminal state.
	ChainsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "chains_finished_total",
			Help:      "Total escalation chains reaching a terminal state",
		},
		[]string{"state"},
	)

	// Escalations counts successor notifications created after a failure.
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "escalations_total",
			Help:      "Total escalations to a lower ranked contact",
		},
		[]string{"domain"},
	)
)

// Delivery metrics
var (
	// DeliveryAttempts counts delivery attempts by channel and outcome.
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Total notification delivery attempts",
		},
		[]string{"channel", "outcome"},
	)

	// DeliveryDuration tracks delivery attempt latency.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempt_duration_seconds",
			Help:      "Delivery attempt latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)
)

// Pipeline metrics
var (
	// PacketsReceived counts packets read from ingest sources.
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "packets_total",
			Help:      "Total packets received from ingest sources",
		},
		[]string{"source"},
	)

	// DecodeErrors counts envelopes that could not be decoded.
	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Total packet envelopes that failed to decode",
		},
		[]string{"source"},
	)

	// PipelinePending tracks packets waiting for a worker.
	PipelinePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pending_packets",
			Help:      "Packets waiting to be processed",
		},
	)

	// PipelineErrors counts processing errors by stage.
	PipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Total pipeline processing errors",
		},
		[]string{"stage"}, // dispatch, route
	)
)

// Storage metrics
var (
	// StorageQueryDuration tracks query latency.
	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_duration_seconds",
			Help:      "Storage query latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "backend"},
	)

	// StorageErrors counts storage operation errors.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage operation errors",
		},
		[]string{"operation", "backend"},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
