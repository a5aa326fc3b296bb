// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Provisioning metrics
	ProvisionRequests *prometheus.CounterVec
	ProvisionDuration *prometheus.HistogramVec

	// Pool metrics
	PoolCredentials *prometheus.GaugeVec

	// Dependency latency metrics
	ValidatorCallLatency *prometheus.HistogramVec
	ContainerOpLatency   *prometheus.HistogramVec
	ContainerOpErrors    *prometheus.CounterVec

	// Notification metrics
	Notifications *prometheus.CounterVec

	// Reconcile metrics
	ReconcileRuns     *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	ReconcileActions  *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulReconcile prometheus.Gauge
	UptimeSeconds           prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "ticker_provisioner"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ProvisionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "requests_total",
			Help:      "Total number of provision requests by asset class and outcome",
		}, []string{"asset_class", "outcome"}),
		ProvisionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "duration_seconds",
			Help:      "Provision request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"asset_class"}),

		PoolCredentials: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "credentials",
			Help:      "Number of pooled credentials by state",
		}, []string{"state"}),

		ValidatorCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "call_latency_seconds",
			Help:      "Price provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "result"}),
		ContainerOpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "container",
			Name:      "operation_latency_seconds",
			Help:      "Container runtime operation latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
		ContainerOpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "container",
			Name:      "operation_errors_total",
			Help:      "Total number of failed container runtime operations",
		}, []string{"operation"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Total number of notifications by channel and result",
		}, []string{"channel", "result"}),

		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconcile sweeps by status",
		}, []string{"status"}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Reconcile sweep duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ReconcileActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "actions_total",
			Help:      "Total number of reconcile actions by type",
		}, []string{"action"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		LastSuccessfulReconcile: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last successful reconcile sweep",
		}),
		UptimeSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordProvision records a terminal provision outcome.
func RecordProvision(assetClass, outcome string, seconds float64) {
	DefaultMetrics.ProvisionRequests.WithLabelValues(assetClass, outcome).Inc()
	DefaultMetrics.ProvisionDuration.WithLabelValues(assetClass).Observe(seconds)
}

// UpdatePoolStats sets the pool gauges.
func UpdatePoolStats(claimed, available int) {
	DefaultMetrics.PoolCredentials.WithLabelValues("claimed").Set(float64(claimed))
	DefaultMetrics.PoolCredentials.WithLabelValues("available").Set(float64(available))
}

// RecordValidatorCall records one price provider lookup.
func RecordValidatorCall(provider, result string, seconds float64) {
	DefaultMetrics.ValidatorCallLatency.WithLabelValues(provider, result).Observe(seconds)
}

// RecordContainerOp records container runtime call metrics.
func RecordContainerOp(operation string, seconds float64, err error) {
	DefaultMetrics.ContainerOpLatency.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.ContainerOpErrors.WithLabelValues(operation).Inc()
	}
}

// RecordNotification records a notification result (delivered, failed, dropped).
func RecordNotification(channel, result string) {
	DefaultMetrics.Notifications.WithLabelValues(channel, result).Inc()
}

// RecordReconcileRun records a reconcile sweep.
func RecordReconcileRun(status string, durationSeconds float64, finishedUnix int64) {
	DefaultMetrics.ReconcileRuns.WithLabelValues(status).Inc()
	DefaultMetrics.ReconcileDuration.Observe(durationSeconds)
	if status == "success" {
		DefaultMetrics.LastSuccessfulReconcile.Set(float64(finishedUnix))
	}
}

// RecordReconcileAction increments the counter for one reconcile action.
func RecordReconcileAction(action string, n int) {
	if n <= 0 {
		return
	}
	DefaultMetrics.ReconcileActions.WithLabelValues(action).Add(float64(n))
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route string, code int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	DefaultMetrics.HTTPDuration.WithLabelValues(route).Observe(seconds)
}

// AddUptime adds elapsed seconds to the uptime counter.
func AddUptime(seconds float64) {
	DefaultMetrics.UptimeSeconds.Add(seconds)
}
