// NCBI Virus ETL: search nuccore, fetch metadata and FASTA (cache-first, with
// retries), deduplicate, and load into PostgreSQL/SQLite, Elasticsearch and
// optionally ClickHouse.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/ncbi-virus-etl/internal/config"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/metrics"
	"github.com/ncbi-virus-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "YAML config file (default $"+config.FileEnv+")")
	query := flag.String("query", "", "Entrez search term (overrides config)")
	cacheDir := flag.String("cache-dir", "", "Cache root directory (overrides config)")
	flag.Parse()

	lg := logging.New(os.Stdout, "run="+uuid.NewString()[:8])

	cfg, err := config.Load(*configPath)
	if err != nil {
		lg.Errorf("ETL failed: %v", err)
		return 1
	}
	if *query != "" {
		cfg.Query = *query
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	p, err := pipeline.New(cfg, lg, m)
	if err != nil {
		lg.Errorf("ETL failed: %v", err)
		return 1
	}
	sum, err := p.Run(ctx, cfg.Query)
	if cfg.MetricsTextfile != "" {
		if werr := m.WriteTextfile(cfg.MetricsTextfile); werr != nil {
			lg.Warnf("write metrics %s: %v", cfg.MetricsTextfile, werr)
		}
	}
	if err != nil {
		lg.Errorf("ETL failed: %v", err)
		return 1
	}
	lg.Infof("Run finished: %d ids, %d metadata, %d unique, %d sequences, %d sink failures in %.2fs",
		sum.IDs, sum.Metadata, sum.Unique, sum.Sequences, sum.SinkFailures(), sum.Elapsed.Seconds())
	return 0
}
