package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hml_producer"

// Metrics holds the Prometheus counters, histograms, and gauges for the producer pipeline.
type Metrics struct {
	ProductsFetched   prometheus.Counter
	ValidationErrors  prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	ProductsPublished prometheus.Counter
	PublishFailures   *prometheus.CounterVec // labels: reason={unroutable,rejected,connection_lost,reservation_lost,other}
	PipelineRunning   prometheus.Gauge

	// Run-level metrics.
	Runs              *prometheus.CounterVec // labels: status={success,partial,fatal}
	RunDuration       prometheus.Histogram
	LastSuccessfulRun prometheus.Gauge

	// Dependency metrics.
	StoreOperationDuration *prometheus.HistogramVec // labels: op={reserve,commit,release}
	FeedBreakerState       prometheus.Gauge         // 0 closed, 1 half-open, 2 open
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ProductsFetched,
		m.ValidationErrors,
		m.DuplicatesSkipped,
		m.ProductsPublished,
		m.PublishFailures,
		m.PipelineRunning,
		m.Runs,
		m.RunDuration,
		m.LastSuccessfulRun,
		m.StoreOperationDuration,
		m.FeedBreakerState,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProductsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_fetched_total",
			Help:      "Total product listings read from the catalog.",
		}),
		ValidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Total listings rejected by validation.",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Total products skipped because their id was already reserved or delivered.",
		}),
		ProductsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_published_total",
			Help:      "Total products confirmed by the broker.",
		}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Per-product delivery failures by reason.",
		}, []string{"reason"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-dedup-publish run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastSuccessfulRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_run_timestamp_seconds",
			Help:      "Unix time of the last run that finished without failures.",
		}),
		StoreOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Idempotency store call duration in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		FeedBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_breaker_state",
			Help:      "Feed circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}
}
