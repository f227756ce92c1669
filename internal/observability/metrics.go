package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// monitoring cycle.
type Metrics struct {
	CyclesTotal       prometheus.Counter
	CycleDuration     prometheus.Histogram
	EntitiesProcessed prometheus.Counter
	MonitorRunning    prometheus.Gauge
	StaleEntities     prometheus.Gauge

	FetchErrors        *prometheus.CounterVec // labels: source
	ValidationFailures prometheus.Counter
	StoreErrors        prometheus.Counter
	PublishErrors      prometheus.Counter
	AlertsFired        *prometheus.CounterVec // labels: kind

	// Forecast metrics.
	ForecastRequests *prometheus.CounterVec // labels: outcome={success,error}
	ForecastCache    *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all monitor metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "cycles_total",
			Help:      "Total monitoring cycles completed.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "river_alert",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-classify-alert cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		EntitiesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "entities_processed_total",
			Help:      "Total per-entity evaluations across all cycles.",
		}),
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "river_alert",
			Name:      "monitor_running",
			Help:      "1 when the monitor is active, 0 when shut down.",
		}),
		StaleEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "river_alert",
			Name:      "stale_entities",
			Help:      "Entities whose latest observation exceeds their staleness window.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "fetch_errors_total",
			Help:      "Observation fetch failures by source.",
		}, []string{"source"}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "validation_failures_total",
			Help:      "Readings rejected by plausibility validation.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "store_errors_total",
			Help:      "State store read/write failures.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "publish_errors_total",
			Help:      "Kafka publish failures for alerts and feed snapshots.",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "alerts_fired_total",
			Help:      "Alert events emitted by kind.",
		}, []string{"kind"}),
		ForecastRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "forecast_requests_total",
			Help:      "NWS gridpoint requests by outcome.",
		}, []string{"outcome"}),
		ForecastCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "river_alert",
			Name:      "forecast_cache_total",
			Help:      "Forecast cache lookups by result.",
		}, []string{"result"}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.EntitiesProcessed,
		m.MonitorRunning,
		m.StaleEntities,
		m.FetchErrors,
		m.ValidationFailures,
		m.StoreErrors,
		m.PublishErrors,
		m.AlertsFired,
		m.ForecastRequests,
		m.ForecastCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CyclesTotal:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_alert", Name: "cycles_total"}),
		CycleDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "river_alert", Name: "cycle_duration_seconds"}),
		EntitiesProcessed:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_alert", Name: "entities_processed_total"}),
		MonitorRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "river_alert", Name: "monitor_running"}),
		StaleEntities:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "river_alert", Name: "stale_entities"}),
		FetchErrors:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "river_alert", Name: "fetch_errors_total"}, []string{"source"}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_alert", Name: "validation_failures_total"}),
		StoreErrors:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_alert", Name: "store_errors_total"}),
		PublishErrors:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "river_alert", Name: "publish_errors_total"}),
		AlertsFired:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "river_alert", Name: "alerts_fired_total"}, []string{"kind"}),
		ForecastRequests:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "river_alert", Name: "forecast_requests_total"}, []string{"outcome"}),
		ForecastCache:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "river_alert", Name: "forecast_cache_total"}, []string{"result"}),
	}
}
