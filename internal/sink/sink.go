package sink

import (
	"context"
	"time"

	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/metrics"
	"github.com/ncbi-virus-etl/internal/model"
)

// Loadable is implemented by every sink (relational, search index, analytics).
// Load upserts one row per metadata record, keyed by uid, with the matching
// sequence joined in.
type Loadable interface {
	Name() string
	Load(ctx context.Context, metadata []model.Metadata, sequences []model.Sequence) error
}

// Result is the outcome of one sink load.
type Result struct {
	Sink       string
	Rows       int
	LatencySec float64
	Err        error
}

// LoadAll runs every sink in order. A failing sink is logged and does not
// stop the following ones; no sink is retried.
func LoadAll(
	ctx context.Context,
	sinks []Loadable,
	metadata []model.Metadata,
	sequences []model.Sequence,
	lg *logging.Logger,
	m *metrics.Metrics,
) []Result {
	results := make([]Result, 0, len(sinks))
	for _, s := range sinks {
		t0 := time.Now()
		err := s.Load(ctx, metadata, sequences)
		r := Result{Sink: s.Name(), LatencySec: time.Since(t0).Seconds(), Err: err}
		if err != nil {
			lg.Errorf("%s error: %v", s.Name(), err)
			if m != nil {
				m.SinkErrors.WithLabelValues(s.Name()).Inc()
			}
		} else {
			r.Rows = len(metadata)
			if m != nil {
				m.SinkRows.WithLabelValues(s.Name()).Add(float64(r.Rows))
			}
		}
		results = append(results, r)
	}
	return results
}
