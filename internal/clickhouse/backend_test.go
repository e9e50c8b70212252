package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/require"

	"github.com/ncbi-virus-etl/internal/config"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/model"
)

type fakeBatch struct {
	driver.Batch
	rows    [][]interface{}
	sent    bool
	sendErr error
}

func (b *fakeBatch) Append(v ...interface{}) error {
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Abort() error { return nil }

func (b *fakeBatch) Send() error {
	b.sent = true
	return b.sendErr
}

type fakeConn struct {
	driver.Conn
	execs    []string
	prepared string
	batch    *fakeBatch
	closed   bool
}

func (c *fakeConn) Exec(_ context.Context, query string, _ ...interface{}) error {
	c.execs = append(c.execs, query)
	return nil
}

func (c *fakeConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	c.prepared = query
	return c.batch, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestSink(conn *fakeConn, openErr error) *Sink {
	cfg := config.Default()
	cfg.ClickHouseAddr = "clickhouse:9000"
	s := New(cfg, logging.Discard())
	s.open = func(context.Context) (driver.Conn, error) {
		if openErr != nil {
			return nil, openErr
		}
		return conn, nil
	}
	s.now = func() time.Time { return time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestLoadBatches(t *testing.T) {
	conn := &fakeConn{batch: &fakeBatch{}}
	s := newTestSink(conn, nil)

	err := s.Load(context.Background(),
		[]model.Metadata{model.MustMetadata(`{"uid":"B"}`), model.MustMetadata(`{"uid":"A"}`)},
		[]model.Sequence{{UID: "A", FASTA: ">A"}, {UID: "B", FASTA: ""}})
	require.NoError(t, err)

	require.Len(t, conn.execs, 2)
	require.Contains(t, conn.execs[1], "ENGINE = ReplacingMergeTree(loaded_at)")
	require.Equal(t, "INSERT INTO `default`.`ncbi_records`", conn.prepared)
	require.True(t, conn.batch.sent)
	require.Len(t, conn.batch.rows, 2)
	require.Equal(t, "B", conn.batch.rows[0][0])
	require.Equal(t, `{"uid":"B"}`, conn.batch.rows[0][1])
	require.Equal(t, ">A", conn.batch.rows[1][2])
	require.True(t, conn.closed)
}

func TestSendFailureClosesConn(t *testing.T) {
	conn := &fakeConn{batch: &fakeBatch{sendErr: errors.New("code: 241, memory limit exceeded")}}
	s := newTestSink(conn, nil)
	err := s.Load(context.Background(), []model.Metadata{model.MustMetadata(`{"uid":"A"}`)}, nil)
	require.Error(t, err)
	require.True(t, conn.closed)
}

func TestConnectFailure(t *testing.T) {
	s := newTestSink(nil, errors.New("dial tcp: connection refused"))
	err := s.Load(context.Background(), []model.Metadata{model.MustMetadata(`{"uid":"A"}`)}, nil)
	require.ErrorContains(t, err, "connect")
}
