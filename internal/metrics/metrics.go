package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ncbi_etl"

// Metrics holds the counters for one pipeline run. Each run owns its registry.
type Metrics struct {
	Registry *prometheus.Registry

	Fetches        *prometheus.CounterVec
	RetryAttempts  prometheus.Counter
	RetryExhausted prometheus.Counter
	SinkRows       *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
}

// Fetch sources.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
	SourceFailed  = "failed"
)

// New registers every counter on a fresh registry owned by the run.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Records fetched, by payload kind and source.",
		}, []string{"kind", "source"}),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_failed_attempts_total",
			Help:      "Failed attempts seen by the retry executor.",
		}),
		RetryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_exhausted_total",
			Help:      "Operations that failed on every attempt.",
		}),
		SinkRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_rows_total",
			Help:      "Rows handed to each sink.",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed sink loads.",
		}, []string{"sink"}),
	}
	m.Registry.MustRegister(m.Fetches, m.RetryAttempts, m.RetryExhausted, m.SinkRows, m.SinkErrors)
	return m
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
