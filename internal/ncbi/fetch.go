package ncbi

import (
	"context"

	"github.com/ncbi-virus-etl/internal/cache"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/metrics"
	"github.com/ncbi-virus-etl/internal/model"
	"github.com/ncbi-virus-etl/internal/retry"
)

// SearchAPI resolves a query to record ids.
type SearchAPI interface {
	Search(ctx context.Context, term string) ([]model.RecordID, error)
}

// SummaryAPI fetches metadata for one id.
type SummaryAPI interface {
	Summary(ctx context.Context, id model.RecordID) (model.Metadata, error)
}

// SequenceAPI fetches FASTA text for one id.
type SequenceAPI interface {
	FASTA(ctx context.Context, id model.RecordID) (string, error)
}

// MetadataFetcher searches and then fetches metadata cache-first.
// Ids whose fetch fails on every attempt are left out of the result.
type MetadataFetcher struct {
	Searcher SearchAPI
	API      SummaryAPI
	Cache    *cache.Cache
	Retry    *retry.Executor
	Log      *logging.Logger
	Metrics  *metrics.Metrics
}

// Search returns the ids matching query; an empty list is logged as a warning.
func (f *MetadataFetcher) Search(ctx context.Context, query string) ([]model.RecordID, error) {
	ids, err := f.Searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		f.Log.Warnf("No IDs returned from NCBI search.")
		return nil, nil
	}
	return ids, nil
}

// FetchAll returns one record per id that could be read or fetched, in id order.
func (f *MetadataFetcher) FetchAll(ctx context.Context, ids []model.RecordID) []model.Metadata {
	if err := f.Cache.EnsureDir(cache.KindMetadata); err != nil {
		f.Log.Warnf("Failed to create metadata cache directory: %v", err)
	}
	records := make([]model.Metadata, 0, len(ids))
	for _, id := range ids {
		if md, ok := f.Cache.ReadMetadata(id); ok {
			f.count(metrics.SourceCache)
			records = append(records, md)
			continue
		}
		md, ok := retry.Do(ctx, f.Retry, func(ctx context.Context) (model.Metadata, error) {
			return f.API.Summary(ctx, id)
		})
		if !ok {
			f.count(metrics.SourceFailed)
			if err := ctx.Err(); err != nil {
				f.Log.Errorf("Stopped fetching metadata for ID %s: %v", id, err)
			} else {
				f.Log.Errorf("Failed to fetch metadata for ID %s after %d attempts", id, f.Retry.MaxAttempts())
			}
			continue
		}
		f.count(metrics.SourceNetwork)
		f.Log.Infof("Fetched record for ID %s", id)
		f.Cache.WriteMetadata(id, md)
		records = append(records, md)
	}
	return records
}

func (f *MetadataFetcher) count(source string) {
	if f.Metrics != nil {
		f.Metrics.Fetches.WithLabelValues("metadata", source).Inc()
	}
}

// SequenceFetcher fetches FASTA text cache-first. Every requested id is
// returned; a failed fetch yields an empty FASTA which is not cached.
type SequenceFetcher struct {
	API     SequenceAPI
	Cache   *cache.Cache
	Retry   *retry.Executor
	Log     *logging.Logger
	Metrics *metrics.Metrics
}

func (f *SequenceFetcher) FetchAll(ctx context.Context, ids []model.RecordID) []model.Sequence {
	if err := f.Cache.EnsureDir(cache.KindSequence); err != nil {
		f.Log.Warnf("Failed to create FASTA cache directory: %v", err)
	}
	out := make([]model.Sequence, 0, len(ids))
	for _, id := range ids {
		if fasta, ok := f.Cache.ReadSequence(id); ok {
			f.count(metrics.SourceCache)
			out = append(out, model.Sequence{UID: id, FASTA: fasta})
			continue
		}
		fasta, _ := retry.Do(ctx, f.Retry, func(ctx context.Context) (string, error) {
			return f.API.FASTA(ctx, id)
		})
		if fasta != "" {
			f.count(metrics.SourceNetwork)
			f.Log.Infof("Fetched FASTA for ID %s", id)
			f.Cache.WriteSequence(id, fasta)
		} else {
			f.count(metrics.SourceFailed)
			if err := ctx.Err(); err != nil {
				f.Log.Warnf("Stopped fetching FASTA for ID %s: %v; using empty FASTA.", id, err)
			} else {
				f.Log.Warnf("Failed to fetch FASTA for ID %s after %d attempts; using empty FASTA.", id, f.Retry.MaxAttempts())
			}
		}
		out = append(out, model.Sequence{UID: id, FASTA: fasta})
	}
	return out
}

func (f *SequenceFetcher) count(source string) {
	if f.Metrics != nil {
		f.Metrics.Fetches.WithLabelValues("fasta", source).Inc()
	}
}
