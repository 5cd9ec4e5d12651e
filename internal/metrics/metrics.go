// Package metrics exposes Prometheus collectors for the harvest pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors, registered on their
// own registry so tests can read them in isolation.
type Metrics struct {
	Registry *prometheus.Registry

	PagesCrawled prometheus.Counter
	PagesFailed  prometheus.Counter

	RecordsScored    prometheus.Counter
	RecordsValidated prometheus.Counter
	RecordsSaved     prometheus.Counter
	RecordErrors     prometheus.Counter
	ScoringRetries   prometheus.Counter
}

// New registers and returns the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		PagesCrawled: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_pages_crawled_total",
			Help: "Total number of pages successfully crawled and persisted.",
		}),
		PagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_pages_failed_total",
			Help: "Total number of pages skipped due to per-page failures.",
		}),
		RecordsScored: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_records_scored_total",
			Help: "Total number of manifest records scored by the agent.",
		}),
		RecordsValidated: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_records_validated_total",
			Help: "Total number of records passing both score thresholds.",
		}),
		RecordsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_records_saved_total",
			Help: "Total number of records upserted into the store.",
		}),
		RecordErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_record_errors_total",
			Help: "Total number of records whose scoring definitively failed.",
		}),
		ScoringRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_scoring_retries_total",
			Help: "Total number of scoring request retries.",
		}),
	}
}
