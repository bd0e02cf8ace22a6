package gateway

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/lifecycle"
	"github.com/denwal/poolgate/internal/logger"
)

// --- fakes ---

type fakePool struct {
	state     lifecycle.State
	db        database.DB
	dbErr     error
	requests  int
	reports   []error
	dbCalls   int
}

func (p *fakePool) DB() (database.DB, error) {
	p.dbCalls++
	if p.dbErr != nil {
		return nil, p.dbErr
	}
	return p.db, nil
}

func (p *fakePool) State() lifecycle.State { return p.state }
func (p *fakePool) RequestConnect()        { p.requests++ }
func (p *fakePool) ReportFailure(err error) {
	p.reports = append(p.reports, err)
}

type fakeDB struct {
	conn       *fakeConn
	acquireErr error
	acquires   int
}

func (d *fakeDB) Ping(ctx context.Context) error { return nil }

func (d *fakeDB) Acquire(ctx context.Context) (database.Conn, error) {
	d.acquires++
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	return d.conn, nil
}

func (d *fakeDB) Stat() database.PoolStat { return database.PoolStat{} }
func (d *fakeDB) Close()                  {}

type fakeConn struct {
	rows     *fakeRows
	queryErr error
	released bool
	gotSQL   string
	gotArgs  []any
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	c.gotSQL = sql
	c.gotArgs = args
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.rows, nil
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return 0, nil
}

func (c *fakeConn) Release() { c.released = true }

type fakeRows struct {
	fields  []database.Field
	data    [][]any
	idx     int
	iterErr error
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (r *fakeRows) Fields() []database.Field { return r.fields }
func (r *fakeRows) Close()                   {}
func (r *fakeRows) Err() error               { return r.iterErr }

func newTestGateway(pool Pool) *Gateway {
	log := logger.New(&logger.Config{Level: "error", Output: io.Discard})
	return New(pool, Config{AcquireTimeout: time.Second, QueryTimeout: time.Second}, log, nil)
}

func connectedPool(conn *fakeConn) (*fakePool, *fakeDB) {
	db := &fakeDB{conn: conn}
	return &fakePool{state: lifecycle.StateConnected, db: db}, db
}

// --- tests ---

func TestExecute(t *testing.T) {
	conn := &fakeConn{rows: &fakeRows{
		fields: []database.Field{{Name: "id", DataType: "int8"}, {Name: "email", DataType: "text"}},
		data: [][]any{
			{int64(7), "ada@example.com"},
			{int64(8), "grace@example.com"},
		},
	}}
	pool, db := connectedPool(conn)
	g := newTestGateway(pool)

	res, err := g.Execute(context.Background(), "SELECT id, email FROM users WHERE org = $1", []any{"acme"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, "ada@example.com", res.Rows[0]["email"])
	assert.Equal(t, []database.Field{{Name: "id", DataType: "int8"}, {Name: "email", DataType: "text"}}, res.Fields)

	assert.Equal(t, "SELECT id, email FROM users WHERE org = $1", conn.gotSQL)
	assert.Equal(t, []any{"acme"}, conn.gotArgs)
	assert.Equal(t, 1, db.acquires)
	assert.True(t, conn.released, "connection must be released")
}

func TestExecuteEmptyText(t *testing.T) {
	pool, db := connectedPool(&fakeConn{})
	g := newTestGateway(pool)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := g.Execute(context.Background(), text, nil)
		require.Error(t, err)
		assert.True(t, errs.IsInvalidInput(err))
	}

	assert.Zero(t, pool.dbCalls, "invalid input must not touch the pool")
	assert.Zero(t, db.acquires)
}

func TestExecuteNotConnected(t *testing.T) {
	tests := []struct {
		name         string
		state        lifecycle.State
		wantRequests int
	}{
		{"disconnected nudges a reconnect", lifecycle.StateDisconnected, 1},
		{"connecting waits it out", lifecycle.StateConnecting, 0},
		{"degraded waits for recovery", lifecycle.StateDegraded, 0},
		{"shutting down", lifecycle.StateShuttingDown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &fakePool{
				state: tt.state,
				dbErr: errs.New(errs.ErrKindUnavailable, "database not connected"),
			}
			g := newTestGateway(pool)

			_, err := g.Execute(context.Background(), "SELECT 1", nil)
			require.Error(t, err)
			assert.True(t, errs.IsUnavailable(err))
			assert.Equal(t, tt.wantRequests, pool.requests)
		})
	}
}

func TestExecuteResetReportsToLifecycle(t *testing.T) {
	reset := errs.Wrap(errs.ErrKindConnectionReset, "query failed",
		errs.New(errs.ErrKindConnectionReset, "connection reset by peer"))
	conn := &fakeConn{queryErr: reset}
	pool, _ := connectedPool(conn)
	g := newTestGateway(pool)

	_, err := g.Execute(context.Background(), "SELECT 1", nil)
	require.Error(t, err)
	assert.True(t, errs.IsConnectionReset(err))
	require.Len(t, pool.reports, 1, "reset must be reported exactly once")
	assert.True(t, conn.released, "connection must be released on failure")
}

func TestExecuteResetDuringIteration(t *testing.T) {
	conn := &fakeConn{rows: &fakeRows{
		fields:  []database.Field{{Name: "id", DataType: "int8"}},
		iterErr: errs.New(errs.ErrKindConnectionReset, "server closed the connection unexpectedly"),
	}}
	pool, _ := connectedPool(conn)
	g := newTestGateway(pool)

	_, err := g.Execute(context.Background(), "SELECT id FROM users", nil)
	require.Error(t, err)
	assert.True(t, errs.IsConnectionReset(err))
	require.Len(t, pool.reports, 1)
}

func TestExecuteQueryErrorLeavesLifecycleAlone(t *testing.T) {
	conn := &fakeConn{queryErr: errs.New(errs.ErrKindQueryFailed, `syntax error at or near "SELEC"`)}
	pool, _ := connectedPool(conn)
	g := newTestGateway(pool)

	_, err := g.Execute(context.Background(), "SELEC 1", nil)
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.Empty(t, pool.reports, "a bad query is not a dead connection")
	assert.True(t, conn.released)
}

func TestExecuteAcquireTimeout(t *testing.T) {
	db := &fakeDB{acquireErr: errs.New(errs.ErrKindTimeout, "timed out acquiring connection")}
	pool := &fakePool{state: lifecycle.StateConnected, db: db}
	g := newTestGateway(pool)

	_, err := g.Execute(context.Background(), "SELECT 1", nil)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
	assert.Empty(t, pool.reports, "pool exhaustion is not a dead connection")
}
