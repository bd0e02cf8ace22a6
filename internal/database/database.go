// Package database defines the driver-neutral contract for a pooled
// database connection. All layers above this package talk only to these
// interfaces — they never import the postgres or mysql packages directly.
//
// Drivers register themselves in init (like database/sql drivers do), so
// binaries select engines with blank imports:
//
//	import (
//	    _ "github.com/denwal/poolgate/internal/database/mysql"
//	    _ "github.com/denwal/poolgate/internal/database/postgres"
//	)
package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/denwal/poolgate/internal/errs"
)

// DB is a live connection pool. At most one DB per Config is kept alive
// at a time; the lifecycle manager owns creation and retirement.
type DB interface {
	// Ping verifies the database is reachable with a trivial round trip.
	Ping(ctx context.Context) error

	// Acquire checks a connection out of the pool. The context bounds the
	// wait; an exhausted pool surfaces as a timeout, distinguishable from
	// a connect failure.
	Acquire(ctx context.Context) (Conn, error)

	// Stat reports pool gauges for metrics and diagnostics.
	Stat() PoolStat

	// Close drains the pool and releases all resources. Blocks until
	// checked-out connections are returned. Idempotent.
	Close()
}

// Conn is a single checked-out connection. Callers must Release it on
// every path, including errors.
type Conn interface {
	// Query executes a statement that returns rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// Exec executes a statement and returns the number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Release returns the connection to the pool.
	Release()
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Fields returns name and type metadata for the result columns.
	Fields() []Field

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// PoolStat is a point-in-time snapshot of pool occupancy.
type PoolStat struct {
	MaxConns      int32
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
}

// Introspector is implemented by drivers that can describe their own
// schema. The batch copier depends on it to discover tables and
// conflict keys.
type Introspector interface {
	// ListTables returns all user-defined base table names, sorted.
	ListTables(ctx context.Context) ([]string, error)

	// InspectTable returns column and primary key metadata for one table.
	InspectTable(ctx context.Context, table string) (*Table, error)
}

// OpenFunc establishes a pool for the given config and validates it with
// a ping before returning.
type OpenFunc func(ctx context.Context, cfg Config) (DB, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[Driver]OpenFunc)
)

// Register makes a driver available to Open. It is called from driver
// package init functions and panics on duplicates, mirroring database/sql.
func Register(d Driver, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[d]; dup {
		panic(fmt.Sprintf("database: Register called twice for driver %q", d))
	}
	drivers[d] = open
}

// Open establishes a validated pool using the registered driver for
// cfg.Driver.
func Open(ctx context.Context, cfg Config) (DB, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, errs.New(errs.ErrKindInvalidInput,
			fmt.Sprintf("unknown database driver %q (forgotten import?)", cfg.Driver))
	}
	return open(ctx, cfg)
}
