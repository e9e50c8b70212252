package relational

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:        "sqlite",
	metadataCol: "TEXT",
	placeholder: func(int) string { return "?" },
	metadataArg: func(b []byte) interface{} { return string(b) },
	open:        openSQLite,
}

type sqlConn struct {
	db *sql.DB
}

func openSQLite(ctx context.Context, dsn string) (conn, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlConn{db: db}, nil
}

func (c *sqlConn) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

func (c *sqlConn) begin(ctx context.Context) (tx, error) {
	t, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{t}, nil
}

func (c *sqlConn) close() { _ = c.db.Close() }

type sqlTx struct {
	t *sql.Tx
}

func (t sqlTx) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := t.t.ExecContext(ctx, query, args...)
	return err
}

func (t sqlTx) commit(context.Context) error { return t.t.Commit() }

func (t sqlTx) rollback(context.Context) { _ = t.t.Rollback() }
