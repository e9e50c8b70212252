package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/ncbi-virus-etl/internal/config"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/model"
)

// Sink loads records into a ReplacingMergeTree table ordered by uid, so a
// re-loaded uid replaces the previous row (the newest loaded_at wins on merge).
type Sink struct {
	Database string
	Table    string
	Log      *logging.Logger

	open func(ctx context.Context) (driver.Conn, error)
	now  func() time.Time
}

func New(cfg config.Config, lg *logging.Logger) *Sink {
	opts := &clickhouse.Options{
		Addr: []string{cfg.ClickHouseAddr},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
		DialTimeout: 10 * time.Second,
	}
	return &Sink{
		Database: cfg.ClickHouseDatabase,
		Table:    cfg.Table,
		Log:      lg,
		open: func(ctx context.Context) (driver.Conn, error) {
			return Open(ctx, opts)
		},
		now: time.Now,
	}
}

// Open dials ClickHouse and pings it.
func Open(ctx context.Context, opts *clickhouse.Options) (driver.Conn, error) {
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Sink) Name() string { return "clickhouse" }

func (s *Sink) qualified() string {
	return "`" + s.Database + "`.`" + s.Table + "`"
}

// InitSchema creates the database and table if they do not exist.
func (s *Sink) InitSchema(ctx context.Context, conn driver.Conn) error {
	if err := conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+s.Database+"`"); err != nil {
		return err
	}
	tableSQL := `CREATE TABLE IF NOT EXISTS ` + s.qualified() + ` (
		uid String, metadata String, fasta String, loaded_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(loaded_at)
	ORDER BY uid`
	return conn.Exec(ctx, tableSQL)
}

// Load writes every record with one PrepareBatch/Send.
func (s *Sink) Load(ctx context.Context, metadata []model.Metadata, sequences []model.Sequence) error {
	s.Log.Infof("Loading data to ClickHouse")
	rows, err := model.Join(metadata, sequences)
	if err != nil {
		return err
	}
	conn, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := s.InitSchema(ctx, conn); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	// PrepareBatch expects "INSERT INTO table"; Append() adds rows in table column order.
	batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+s.qualified())
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	loadedAt := s.now().UTC()
	for _, r := range rows {
		if err := batch.Append(r.UID, string(r.Metadata), r.FASTA, loadedAt); err != nil {
			batch.Abort()
			return fmt.Errorf("append %s: %w", r.UID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	s.Log.Infof("Inserted %d rows into ClickHouse %s", len(rows), s.qualified())
	return nil
}
