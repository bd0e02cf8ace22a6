// Package postgres implements database.DB for PostgreSQL on top of pgxpool.
// Importing it registers the "postgres" driver.
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
)

func init() {
	database.Register(database.DriverPostgres, Open)
}

// Driver is a PostgreSQL implementation of database.DB backed by pgxpool.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL using the provided Config and returns a
// validated pool. It pings before returning so a bad host, bad password
// or unreachable server fails here, not on first use.
func Open(ctx context.Context, cfg database.Config) (database.DB, error) {
	poolCfg, err := pgxpool.ParseConfig(buildDSN(cfg))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid postgres config", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.IdleTimeout
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	// OS-level TCP keepalive so half-dead connections are noticed by the
	// kernel. Pool-level liveness is probed separately by the lifecycle
	// manager.
	if cfg.TCPKeepAlive > 0 {
		dialer := &net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: cfg.TCPKeepAlive,
		}
		poolCfg.ConnConfig.DialFunc = dialer.DialContext
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	d := &Driver{pool: pool}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, mapConnectError(err, "connect to postgres")
	}

	return d, nil
}

// buildDSN assembles a postgres:// URL from the discrete config fields.
// URL form survives passwords with spaces and symbols, which the
// key=value form does not without extra quoting.
func buildDSN(cfg database.Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.EffectivePort())),
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode(cfg.SSLMode))
	u.RawQuery = q.Encode()
	return u.String()
}

// sslMode translates the driver-neutral TLS policy into libpq terms.
func sslMode(mode string) string {
	switch mode {
	case "", "require":
		return "require"
	case "disable":
		return "disable"
	case "skip-verify":
		// require encrypts but does not verify the server certificate
		return "require"
	default:
		return mode
	}
}

// --- database.DB implementation ---

// Ping verifies the database is reachable by acquiring and releasing a connection.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Acquire checks a connection out of the pool. An exhausted pool shows up
// as a timeout once ctx expires, not as a connect failure.
func (d *Driver) Acquire(ctx context.Context) (database.Conn, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, mapAcquireError(err)
	}
	return &pgxConn{conn: conn}, nil
}

// Stat reports pool occupancy.
func (d *Driver) Stat() database.PoolStat {
	s := d.pool.Stat()
	return database.PoolStat{
		MaxConns:      s.MaxConns(),
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
	}
}

// Close drains the connection pool. Blocks until all checked-out
// connections are released.
func (d *Driver) Close() {
	d.pool.Close()
}

// --- connection wrapper ---

type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &pgxRows{rows: rows, typeMap: c.conn.Conn().TypeMap()}, nil
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Release() {
	c.conn.Release()
}

// --- rows wrapper ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows    pgx.Rows
	typeMap *pgtype.Map
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Close()                 { r.rows.Close() }

func (r *pgxRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return mapError(err, "row iteration failed")
	}
	return nil
}

// Fields resolves column names and type names from the wire description.
func (r *pgxRows) Fields() []database.Field {
	descs := r.rows.FieldDescriptions()
	fields := make([]database.Field, len(descs))
	for i, fd := range descs {
		fields[i] = database.Field{
			Name:     fd.Name,
			DataType: r.typeName(fd.DataTypeOID),
		}
	}
	return fields
}

func (r *pgxRows) typeName(oid uint32) string {
	if r.typeMap != nil {
		if t, ok := r.typeMap.TypeForOID(oid); ok {
			return t.Name
		}
	}
	return fmt.Sprintf("oid:%d", oid)
}
