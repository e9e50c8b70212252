package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ncbi-virus-etl/internal/cache"
	"github.com/ncbi-virus-etl/internal/clickhouse"
	"github.com/ncbi-virus-etl/internal/config"
	"github.com/ncbi-virus-etl/internal/dedupe"
	"github.com/ncbi-virus-etl/internal/elastic"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/metrics"
	"github.com/ncbi-virus-etl/internal/model"
	"github.com/ncbi-virus-etl/internal/ncbi"
	"github.com/ncbi-virus-etl/internal/relational"
	"github.com/ncbi-virus-etl/internal/retry"
	"github.com/ncbi-virus-etl/internal/sink"
)

// MetadataSource is the search + metadata half of the extract step.
type MetadataSource interface {
	Search(ctx context.Context, query string) ([]model.RecordID, error)
	FetchAll(ctx context.Context, ids []model.RecordID) []model.Metadata
}

// SequenceSource fetches one sequence per id.
type SequenceSource interface {
	FetchAll(ctx context.Context, ids []model.RecordID) []model.Sequence
}

// Pipeline runs search -> metadata -> dedupe -> sequences -> sinks, sequentially.
type Pipeline struct {
	Metadata  MetadataSource
	Sequences SequenceSource
	Sinks     []sink.Loadable
	Log       *logging.Logger
	Metrics   *metrics.Metrics
}

// Summary describes one run.
type Summary struct {
	IDs       int
	Metadata  int
	Unique    int
	Sequences int
	Sinks     []sink.Result
	// Halted is set when the run stopped before loading (no ids or no metadata).
	Halted  bool
	Elapsed time.Duration
}

// SinkFailures counts sinks whose load returned an error.
func (s Summary) SinkFailures() int {
	n := 0
	for _, r := range s.Sinks {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// New wires the Entrez client, cache, retry policy and sinks from cfg.
func New(cfg config.Config, lg *logging.Logger, m *metrics.Metrics) (*Pipeline, error) {
	client := ncbi.NewClient(cfg, lg)
	c := cache.New(cfg.CacheDir, lg)
	r := retry.New(cfg.RetryAttempts, cfg.RetryDelay, lg, m)

	rel, err := relational.New(cfg, lg)
	if err != nil {
		return nil, err
	}
	es, err := elastic.New(cfg, lg)
	if err != nil {
		return nil, err
	}
	sinks := []sink.Loadable{rel, es}
	if cfg.ClickHouseAddr != "" {
		sinks = append(sinks, clickhouse.New(cfg, lg))
	}

	return &Pipeline{
		Metadata: &ncbi.MetadataFetcher{
			Searcher: client, API: client, Cache: c, Retry: r, Log: lg, Metrics: m,
		},
		Sequences: &ncbi.SequenceFetcher{
			API: client, Cache: c, Retry: r, Log: lg, Metrics: m,
		},
		Sinks:   sinks,
		Log:     lg,
		Metrics: m,
	}, nil
}

// Run executes the pipeline once. The only error returned is a failed search
// request or a cancelled context; every other failure is logged and shapes
// the data (dropped metadata, empty FASTA, skipped sink).
func (p *Pipeline) Run(ctx context.Context, query string) (Summary, error) {
	runStart := time.Now()
	var sum Summary
	p.Log.Infof("Starting ETL Pipeline")

	ids, err := p.Metadata.Search(ctx, query)
	if err != nil {
		return sum, fmt.Errorf("search: %w", err)
	}
	sum.IDs = len(ids)
	if len(ids) == 0 {
		sum.Halted = true
		sum.Elapsed = time.Since(runStart)
		return sum, nil
	}

	metadata := p.Metadata.FetchAll(ctx, ids)
	sum.Metadata = len(metadata)
	p.Log.Infof("Fetched %d metadata records", len(metadata))
	if len(metadata) == 0 {
		p.Log.Errorf("No metadata found, exiting...")
		sum.Halted = true
		sum.Elapsed = time.Since(runStart)
		return sum, ctx.Err()
	}

	unique := dedupe.Dedupe(metadata)
	sum.Unique = len(unique)
	p.Log.Infof("Deduplicated to %d unique records", len(unique))

	sequences := p.Sequences.FetchAll(ctx, dedupe.IDs(unique))
	sum.Sequences = len(sequences)
	p.Log.Infof("FASTA data length: %d", len(sequences))

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	sum.Sinks = sink.LoadAll(ctx, p.Sinks, unique, sequences, p.Log, p.Metrics)
	sum.Elapsed = time.Since(runStart)
	if err := ctx.Err(); err != nil {
		p.Log.Errorf("ETL pipeline interrupted while loading sinks: %v", err)
		return sum, err
	}

	for _, r := range sum.Sinks {
		if r.Err == nil {
			p.Log.Infof("Sink %s: %d rows in %.2fs", r.Sink, r.Rows, r.LatencySec)
		}
	}
	if n := sum.SinkFailures(); n > 0 {
		p.Log.Warnf("ETL pipeline completed with %d of %d sinks failed in %.2fs", n, len(sum.Sinks), sum.Elapsed.Seconds())
	} else {
		p.Log.Infof("ETL pipeline completed successfully in %.2fs", sum.Elapsed.Seconds())
	}
	return sum, nil
}
