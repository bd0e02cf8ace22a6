// Package gateway executes ad-hoc parameterized queries against the
// managed pool on behalf of the HTTP surface.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/lifecycle"
	"github.com/denwal/poolgate/internal/logger"
	"github.com/denwal/poolgate/internal/metrics"
)

// Pool is the slice of the lifecycle manager the gateway uses.
type Pool interface {
	DB() (database.DB, error)
	State() lifecycle.State
	RequestConnect()
	ReportFailure(err error)
}

// Config bounds the two blocking phases of a query.
type Config struct {
	AcquireTimeout time.Duration
	QueryTimeout   time.Duration
}

// DefaultConfig returns the gateway timeouts used in production.
func DefaultConfig() Config {
	return Config{
		AcquireTimeout: 5 * time.Second,
		QueryTimeout:   30 * time.Second,
	}
}

// Gateway runs caller-supplied SQL with bounded acquire and execution
// phases. It never queues work behind a dead pool: anything but a
// Connected pool fails immediately.
type Gateway struct {
	pool    Pool
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Collector
}

// New builds a Gateway. Zero timeouts fall back to defaults.
func New(pool Pool, cfg Config, log *logger.Logger, m *metrics.Collector) *Gateway {
	def := DefaultConfig()
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	return &Gateway{
		pool:    pool,
		cfg:     cfg,
		log:     log.Component("gateway"),
		metrics: m,
	}
}

// Execute runs one query and collects the full result set.
//
// Empty text is invalid input. A pool that is not Connected yields an
// unavailability error without touching the pool; if it is outright
// Disconnected the lifecycle manager is nudged so a later caller may
// find it alive again. Reset-class failures are reported to the
// lifecycle manager before being surfaced.
func (g *Gateway) Execute(ctx context.Context, text string, params []any) (*database.Result, error) {
	start := time.Now()
	res, err := g.execute(ctx, text, params)
	if g.metrics != nil {
		g.metrics.Query(time.Since(start), err)
	}
	return res, err
}

func (g *Gateway) execute(ctx context.Context, text string, params []any) (*database.Result, error) {
	start := time.Now()

	if strings.TrimSpace(text) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "query text is required")
	}

	db, err := g.pool.DB()
	if err != nil {
		if g.pool.State() == lifecycle.StateDisconnected {
			g.pool.RequestConnect()
		}
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, g.cfg.AcquireTimeout)
	conn, err := db.Acquire(acquireCtx)
	cancel()
	if err != nil {
		return nil, g.fail(err)
	}
	defer conn.Release()

	queryCtx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	rows, err := conn.Query(queryCtx, text, params...)
	if err != nil {
		return nil, g.fail(err)
	}

	res, err := database.Collect(rows)
	if err != nil {
		return nil, g.fail(err)
	}

	g.log.With().
		Int("row_count", res.RowCount).
		Dur("took", time.Since(start)).
		Logger().
		Debug("query executed")
	return res, nil
}

// fail reports reset-class errors to the lifecycle manager so the dead
// pool gets demoted and replaced, then hands the error back unchanged.
func (g *Gateway) fail(err error) error {
	if errs.IsConnectionReset(err) {
		g.pool.ReportFailure(err)
	}
	return err
}
