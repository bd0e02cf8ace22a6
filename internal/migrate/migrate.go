// Package migrate copies tables between databases in batches.
//
// The copier streams every row of a source table and upserts it into
// the target keyed on the source primary key, so re-running a partial
// or failed run converges on the same end state instead of duplicating
// rows. Tables without a primary key cannot be upserted and are skipped
// with a warning.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/logger"
)

// Table outcome values in run reports.
const (
	StatusCopied  = "copied"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Endpoint is one side of a copy: a live pool plus the metadata the
// copier needs about it.
type Endpoint struct {
	DB     database.DB
	Driver database.Driver

	// Label identifies the endpoint in reports, e.g. "db.internal/appdb".
	// Never put credentials in it.
	Label string
}

// Options tunes a copy run.
type Options struct {
	// Tables to copy. Empty means every base table on the source.
	Tables []string

	// Workers is how many tables are copied in parallel.
	Workers int

	// BatchSize is the number of rows per upsert statement.
	BatchSize int
}

// Report describes one copy run. It is what the report sink publishes.
type Report struct {
	RunID      string        `json:"runId"`
	Source     string        `json:"source"`
	Target     string        `json:"target"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	DurationMS int64         `json:"durationMs"`
	RowsCopied int64         `json:"rowsCopied"`
	Copied     int           `json:"copiedTables"`
	Skipped    int           `json:"skippedTables"`
	Failed     int           `json:"failedTables"`
	Tables     []TableReport `json:"tables"`
}

// HasFailures reports whether any table failed to copy.
func (r *Report) HasFailures() bool { return r.Failed > 0 }

// TableReport describes the outcome for a single table.
type TableReport struct {
	Table        string `json:"table"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	RowsRead     int64  `json:"rowsRead"`
	RowsUpserted int64  `json:"rowsUpserted"`
	DurationMS   int64  `json:"durationMs"`
}

// Copier copies tables from a source endpoint to a target endpoint.
type Copier struct {
	source Endpoint
	target Endpoint
	opts   Options

	srcDialect database.Dialect
	tgtDialect database.Dialect
	log        *logger.Logger
}

// NewCopier builds a Copier. Zero worker and batch settings fall back
// to 4 and 500.
func NewCopier(source, target Endpoint, opts Options, log *logger.Logger) *Copier {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &Copier{
		source:     source,
		target:     target,
		opts:       opts,
		srcDialect: database.DialectFor(source.Driver),
		tgtDialect: database.DialectFor(target.Driver),
		log:        log.Component("migrate"),
	}
}

// Run executes one copy run and returns its report. A failing table
// does not stop the others; failures are reflected in the report and
// in HasFailures.
func (c *Copier) Run(ctx context.Context) (*Report, error) {
	intro, ok := c.source.DB.(database.Introspector)
	if !ok {
		return nil, errs.New(errs.ErrKindInvalidInput, "source driver cannot introspect schemas")
	}

	tables := c.opts.Tables
	if len(tables) == 0 {
		var err error
		tables, err = intro.ListTables(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to discover source tables", err)
		}
	}

	rep := &Report{
		RunID:     uuid.NewString(),
		Source:    c.source.Label,
		Target:    c.target.Label,
		StartedAt: time.Now().UTC(),
		Tables:    make([]TableReport, len(tables)),
	}

	c.log.With().
		Str("run_id", rep.RunID).
		Int("tables", len(tables)).
		Int("workers", c.opts.Workers).
		Logger().
		Info("starting copy run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			rep.Tables[i] = c.copyTable(gctx, intro, table)
			return nil
		})
	}
	// Workers never return errors; per-table failures live in the report.
	_ = g.Wait()

	rep.FinishedAt = time.Now().UTC()
	rep.DurationMS = rep.FinishedAt.Sub(rep.StartedAt).Milliseconds()
	for _, t := range rep.Tables {
		rep.RowsCopied += t.RowsUpserted
		switch t.Status {
		case StatusCopied:
			rep.Copied++
		case StatusSkipped:
			rep.Skipped++
		case StatusFailed:
			rep.Failed++
		}
	}

	c.log.With().
		Str("run_id", rep.RunID).
		Int64("rows", rep.RowsCopied).
		Int("copied", rep.Copied).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Dur("took", time.Duration(rep.DurationMS)*time.Millisecond).
		Logger().
		Info("copy run finished")

	return rep, nil
}

func (c *Copier) copyTable(ctx context.Context, intro database.Introspector, table string) TableReport {
	start := time.Now()
	rep := TableReport{Table: table, Status: StatusFailed}
	fail := func(msg string, err error) TableReport {
		rep.Message = fmt.Sprintf("%s: %v", msg, err)
		rep.DurationMS = time.Since(start).Milliseconds()
		c.log.ErrorWith("table copy failed", err, map[string]interface{}{
			"table": table,
		})
		return rep
	}

	info, err := intro.InspectTable(ctx, table)
	if err != nil {
		return fail("failed to inspect table", err)
	}
	if !info.HasPrimaryKey() {
		c.log.WarnWith("skipping table without primary key", map[string]interface{}{
			"table": table,
		})
		rep.Status = StatusSkipped
		rep.Message = "table has no primary key to upsert on"
		rep.DurationMS = time.Since(start).Milliseconds()
		return rep
	}

	cols := info.ColumnNames()

	sel := database.Select(table, c.srcDialect).Columns(cols...)
	for _, k := range info.PrimaryKey {
		sel.OrderBy(k, database.Asc)
	}
	selSQL, selArgs, err := sel.Build()
	if err != nil {
		return fail("failed to build select", err)
	}

	srcConn, err := c.source.DB.Acquire(ctx)
	if err != nil {
		return fail("failed to acquire source connection", err)
	}
	defer srcConn.Release()

	tgtConn, err := c.target.DB.Acquire(ctx)
	if err != nil {
		return fail("failed to acquire target connection", err)
	}
	defer tgtConn.Release()

	rows, err := srcConn.Query(ctx, selSQL, selArgs...)
	if err != nil {
		return fail("failed to read source table", err)
	}
	defer rows.Close()

	batch := make([][]any, 0, c.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ub := database.Upsert(table, c.tgtDialect).
			Columns(cols...).
			ConflictKey(info.PrimaryKey...)
		for _, row := range batch {
			ub.Values(row...)
		}
		upSQL, upArgs, err := ub.Build()
		if err != nil {
			return err
		}
		// Affected counts are engine-specific for upserts (MySQL reports
		// an updated row as 2), so the report counts input rows instead.
		if _, err := tgtConn.Exec(ctx, upSQL, upArgs...); err != nil {
			return err
		}
		rep.RowsUpserted += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fail("failed to scan source row", err)
		}
		for i, v := range dest {
			dest[i] = database.NormalizeValue(v)
		}
		rep.RowsRead++

		batch = append(batch, dest)
		if len(batch) >= c.opts.BatchSize {
			if err := flush(); err != nil {
				return fail("failed to upsert batch", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fail("failed reading source rows", err)
	}
	if err := flush(); err != nil {
		return fail("failed to upsert final batch", err)
	}

	rep.Status = StatusCopied
	rep.DurationMS = time.Since(start).Milliseconds()
	c.log.With().
		Str("table", table).
		Int64("rows", rep.RowsUpserted).
		Dur("took", time.Since(start)).
		Logger().
		Info("table copied")
	return rep
}
