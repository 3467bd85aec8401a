// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsIngested *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec

	// Feature metrics
	FeatureCacheSize prometheus.Gauge

	// Training metrics
	TrainingRuns         *prometheus.CounterVec
	TrainingDuration     *prometheus.HistogramVec
	CandidateFitFailures *prometheus.CounterVec
	StaleModels          prometheus.Gauge

	// Serving metrics
	ForecastRequests *prometheus.CounterVec
	ModelStoreOps    *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulTraining  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "stockwise_ml"
	}

	return &Metrics{
		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_ingested_total",
			Help:      "Total number of inventory events recorded by topic",
		}, []string{"topic"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_dropped_total",
			Help:      "Total number of messages dropped by topic and reason",
		}, []string{"topic", "reason"}),

		FeatureCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "cached_products",
			Help:      "Number of products with a cached feature series",
		}),

		TrainingRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "runs_total",
			Help:      "Total number of training runs by model kind and status",
		}, []string{"kind", "status"}),
		TrainingDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "duration_seconds",
			Help:      "Training duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind"}),
		CandidateFitFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "candidate_fit_failures_total",
			Help:      "Autoregressive order candidates excluded from selection by reason",
		}, []string{"reason"}),
		StaleModels: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "stale_models",
			Help:      "Number of products whose model is stale",
		}),

		ForecastRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "requests_total",
			Help:      "Total number of forecast requests by outcome",
		}, []string{"outcome"}),
		ModelStoreOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model_store",
			Name:      "operations_total",
			Help:      "Model store operations by type and status",
		}, []string{"op", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last recorded event",
		}),
		LastSuccessfulTraining: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_training_timestamp",
			Help:      "Unix timestamp of last successful training run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventIngested increments the ingested counter for a topic.
func RecordEventIngested(topic string, unixSeconds float64) {
	DefaultMetrics.EventsIngested.WithLabelValues(topic).Inc()
	DefaultMetrics.LastSuccessfulIngestion.Set(unixSeconds)
}

// RecordEventDropped records a message dropped before reaching the feature store.
func RecordEventDropped(topic, reason string) {
	DefaultMetrics.EventsDropped.WithLabelValues(topic, reason).Inc()
}

// SetFeatureCacheSize updates the cached products gauge.
func SetFeatureCacheSize(n int) {
	DefaultMetrics.FeatureCacheSize.Set(float64(n))
}

// RecordTraining records one training run.
func RecordTraining(kind, status string, durationSeconds float64) {
	DefaultMetrics.TrainingRuns.WithLabelValues(kind, status).Inc()
	DefaultMetrics.TrainingDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// MarkTrainingSuccess sets the last successful training timestamp.
func MarkTrainingSuccess(unixSeconds float64) {
	DefaultMetrics.LastSuccessfulTraining.Set(unixSeconds)
}

// RecordCandidateFailure counts an excluded autoregressive candidate.
func RecordCandidateFailure(reason string) {
	DefaultMetrics.CandidateFitFailures.WithLabelValues(reason).Inc()
}

// SetStaleModels updates the stale models gauge.
func SetStaleModels(n int) {
	DefaultMetrics.StaleModels.Set(float64(n))
}

// RecordForecast counts a forecast request outcome.
func RecordForecast(outcome string) {
	DefaultMetrics.ForecastRequests.WithLabelValues(outcome).Inc()
}

// RecordModelStore counts a model store operation.
func RecordModelStore(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.ModelStoreOps.WithLabelValues(op, status).Inc()
}

// RecordHTTP observes one HTTP request.
func RecordHTTP(method, route, status string, seconds float64) {
	DefaultMetrics.HTTPDuration.WithLabelValues(method, route, status).Observe(seconds)
}
