// Package mysql implements database.DB for MySQL on top of database/sql
// and go-sql-driver. Importing it registers the "mysql" driver.
package mysql

import (
	"context"
	"database/sql"
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
)

func init() {
	database.Register(database.DriverMySQL, Open)
}

// Driver is a MySQL implementation of database.DB backed by database/sql.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	db *sql.DB
}

// Open opens a MySQL connection pool using the provided Config and
// validates it with a ping before returning.
func Open(ctx context.Context, cfg database.Config) (database.DB, error) {
	db, err := sql.Open("mysql", buildDSN(cfg))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid mysql config", err)
	}

	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	d := &Driver{db: db}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := d.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, mapConnectError(err, "connect to mysql")
	}

	return d, nil
}

// buildDSN assembles the DSN through the driver's own config type, which
// handles escaping and parameter encoding.
func buildDSN(cfg database.Config) string {
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.EffectivePort()))
	mc.DBName = cfg.Name
	mc.ParseTime = true // scan DATE/DATETIME into time.Time, not []byte
	mc.Timeout = cfg.ConnectTimeout
	mc.TLSConfig = tlsParam(cfg.SSLMode)
	return mc.FormatDSN()
}

// tlsParam translates the driver-neutral TLS policy into go-sql-driver terms.
func tlsParam(mode string) string {
	switch mode {
	case "disable":
		return "false"
	case "require":
		return "true"
	case "skip-verify":
		return "skip-verify"
	case "":
		return "preferred"
	default:
		return mode
	}
}

// --- database.DB implementation ---

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Acquire checks a dedicated connection out of the pool. The context
// bounds the wait when the pool is exhausted.
func (d *Driver) Acquire(ctx context.Context) (database.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, mapAcquireError(err)
	}
	return &sqlConn{conn: conn}, nil
}

// Stat reports pool occupancy.
func (d *Driver) Stat() database.PoolStat {
	s := d.db.Stats()
	return database.PoolStat{
		MaxConns:      int32(s.MaxOpenConnections),
		TotalConns:    int32(s.OpenConnections),
		IdleConns:     int32(s.Idle),
		AcquiredConns: int32(s.InUse),
	}
}

// Close drains the connection pool.
func (d *Driver) Close() {
	_ = d.db.Close()
}

// --- connection wrapper ---

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return newSQLRows(rows), nil
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err, "rows affected unavailable")
	}
	return affected, nil
}

// Release returns the connection to the pool.
func (c *sqlConn) Release() {
	_ = c.conn.Close()
}

// --- rows wrapper ---

// sqlRows wraps *sql.Rows to satisfy database.Rows. Column metadata is
// captured at wrap time, while the result set is still open.
type sqlRows struct {
	rows   *sql.Rows
	fields []database.Field
}

func newSQLRows(rows *sql.Rows) *sqlRows {
	r := &sqlRows{rows: rows}
	if types, err := rows.ColumnTypes(); err == nil {
		r.fields = make([]database.Field, len(types))
		for i, ct := range types {
			r.fields[i] = database.Field{
				Name:     ct.Name(),
				DataType: ct.DatabaseTypeName(),
			}
		}
	}
	return r
}

func (r *sqlRows) Next() bool               { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error   { return r.rows.Scan(dest...) }
func (r *sqlRows) Fields() []database.Field { return r.fields }
func (r *sqlRows) Close()                   { _ = r.rows.Close() }

func (r *sqlRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return mapError(err, "row iteration failed")
	}
	return nil
}
