package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for rainfalld.
type Metrics struct {
	// Resolution metrics.
	Resolutions          *prometheus.CounterVec // labels: method={code,name,coordinates,nearest,none}
	AutocompleteRequests prometheus.Counter

	// Dataset metrics.
	DatasetCities       prometheus.Gauge
	DatasetSourceErrors prometheus.Counter
	DatasetReloads      *prometheus.CounterVec // labels: outcome={success,error}

	// Unresolved-query log metrics.
	UnresolvedNotifications *prometheus.CounterVec // labels: outcome={logged,duplicate,error,skipped}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them with reg. One-shot
// CLI commands pass a private registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainfalld",
			Name:      "resolutions_total",
			Help:      "City resolutions by the phase that matched.",
		}, []string{"method"}),
		AutocompleteRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rainfalld",
			Name:      "autocomplete_requests_total",
			Help:      "Total autocomplete requests served.",
		}),
		DatasetCities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rainfalld",
			Name:      "dataset_cities",
			Help:      "Number of cities in the active dataset.",
		}),
		DatasetSourceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rainfalld",
			Name:      "dataset_source_errors_total",
			Help:      "Source units skipped because they failed to parse.",
		}),
		DatasetReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainfalld",
			Name:      "dataset_reloads_total",
			Help:      "Dataset loads by outcome.",
		}, []string{"outcome"}),
		UnresolvedNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainfalld",
			Name:      "unresolved_notifications_total",
			Help:      "Unresolved-query notifications by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.Resolutions,
		m.AutocompleteRequests,
		m.DatasetCities,
		m.DatasetSourceErrors,
		m.DatasetReloads,
		m.UnresolvedNotifications,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		Resolutions:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rainfalld", Name: "resolutions_total"}, []string{"method"}),
		AutocompleteRequests:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rainfalld", Name: "autocomplete_requests_total"}),
		DatasetCities:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "rainfalld", Name: "dataset_cities"}),
		DatasetSourceErrors:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "rainfalld", Name: "dataset_source_errors_total"}),
		DatasetReloads:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rainfalld", Name: "dataset_reloads_total"}, []string{"outcome"}),
		UnresolvedNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "rainfalld", Name: "unresolved_notifications_total"}, []string{"outcome"}),
	}
}
