package relational

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresDialect = dialect{
	name:        "postgres",
	metadataCol: "JSONB",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	metadataArg: func(b []byte) interface{} { return b },
	open:        openPostgres,
}

// CreatePool creates a pgx connection pool of the given size.
func CreatePool(ctx context.Context, dsn string, size int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = int32(size)
	cfg.MinConns = 0
	return pgxpool.NewWithConfig(ctx, cfg)
}

type pgConn struct {
	pool *pgxpool.Pool
	conn *pgxpool.Conn
}

func openPostgres(ctx context.Context, dsn string) (conn, error) {
	pool, err := CreatePool(ctx, dsn, 1)
	if err != nil {
		return nil, err
	}
	c, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &pgConn{pool: pool, conn: c}, nil
}

func (c *pgConn) exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := c.conn.Exec(ctx, sql, args...)
	return err
}

func (c *pgConn) begin(ctx context.Context) (tx, error) {
	t, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgTx{t}, nil
}

func (c *pgConn) close() {
	c.conn.Release()
	c.pool.Close()
}

type pgTx struct {
	t pgx.Tx
}

func (t pgTx) exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := t.t.Exec(ctx, sql, args...)
	return err
}

func (t pgTx) commit(ctx context.Context) error { return t.t.Commit(ctx) }

func (t pgTx) rollback(ctx context.Context) { _ = t.t.Rollback(ctx) }
