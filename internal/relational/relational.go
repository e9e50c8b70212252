package relational

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ncbi-virus-etl/internal/config"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/model"
)

// conn is one database session, opened per load and always closed.
type conn interface {
	exec(ctx context.Context, sql string, args ...interface{}) error
	begin(ctx context.Context) (tx, error)
	close()
}

type tx interface {
	exec(ctx context.Context, sql string, args ...interface{}) error
	commit(ctx context.Context) error
	rollback(ctx context.Context)
}

// dialect holds the per-driver SQL and connection opener.
type dialect struct {
	name        string
	metadataCol string
	placeholder func(n int) string
	metadataArg func(b []byte) interface{}
	open        func(ctx context.Context, dsn string) (conn, error)
}

// Sink writes rows into a single table (uid PRIMARY KEY, metadata, fasta)
// with replace-on-conflict semantics.
type Sink struct {
	DSN   string
	Table string
	Log   *logging.Logger
	d     dialect
}

// New returns a sink for the configured driver (postgres or sqlite).
func New(cfg config.Config, lg *logging.Logger) (*Sink, error) {
	var d dialect
	switch cfg.RelationalDriver {
	case config.DriverPostgres:
		d = postgresDialect
	case config.DriverSQLite:
		d = sqliteDialect
	default:
		return nil, fmt.Errorf("relational: unknown driver %q", cfg.RelationalDriver)
	}
	return &Sink{DSN: cfg.RelationalDSN, Table: cfg.Table, Log: lg, d: d}, nil
}

func (s *Sink) Name() string { return s.d.name }

func (s *Sink) createTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + pgx.Identifier{s.Table}.Sanitize() + ` (
    uid TEXT NOT NULL PRIMARY KEY,
    metadata ` + s.d.metadataCol + `,
    fasta TEXT
)`
}

func (s *Sink) upsertSQL() string {
	return `INSERT INTO ` + pgx.Identifier{s.Table}.Sanitize() + ` (uid, metadata, fasta) VALUES (` +
		s.d.placeholder(1) + `, ` + s.d.placeholder(2) + `, ` + s.d.placeholder(3) + `)` +
		` ON CONFLICT (uid) DO UPDATE SET metadata = EXCLUDED.metadata, fasta = EXCLUDED.fasta`
}

// Load creates the table if needed and upserts every record in one transaction.
func (s *Sink) Load(ctx context.Context, metadata []model.Metadata, sequences []model.Sequence) error {
	s.Log.Infof("Loading data to %s", s.d.name)
	rows, err := model.Join(metadata, sequences)
	if err != nil {
		return err
	}
	c, err := s.d.open(ctx, s.DSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.close()

	if err := c.exec(ctx, s.createTableSQL()); err != nil {
		return fmt.Errorf("create table %s: %w", s.Table, err)
	}
	t, err := c.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	upsert := s.upsertSQL()
	for _, r := range rows {
		if err := t.exec(ctx, upsert, r.UID, s.d.metadataArg(r.Metadata), r.FASTA); err != nil {
			t.rollback(ctx)
			return fmt.Errorf("upsert %s: %w", r.UID, err)
		}
	}
	if err := t.commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.Log.Infof("Upserted %d rows into %s (%s)", len(rows), s.Table, s.d.name)
	return nil
}
