package database

import (
	"fmt"
	"strings"

	"github.com/denwal/poolgate/internal/errs"
)

// Dialect controls which SQL placeholder and quoting style builders emit.
type Dialect int

const (
	// DialectPostgres uses $1, $2, … placeholders and double-quoted identifiers.
	DialectPostgres Dialect = iota

	// DialectMySQL uses ? placeholders and backtick-quoted identifiers.
	DialectMySQL
)

// DialectFor returns the SQL dialect matching a driver.
func DialectFor(d Driver) Dialect {
	if d == DriverMySQL {
		return DialectMySQL
	}
	return DialectPostgres
}

// placeholder returns the parameter placeholder for the dialect.
// Postgres: $1, $2, …   MySQL: ? (index is ignored)
func (d Dialect) placeholder(idx int) string {
	if d == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", idx)
}

// quote wraps a SQL identifier in the dialect's quote character, safely
// handling reserved words and mixed-case names. MySQL treats double
// quotes as string literals unless ANSI mode is on, so it gets backticks.
func (d Dialect) quote(name string) string {
	if d == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// validOps is the allowlist of comparison operators for WHERE clauses.
// Any operator not in this list is rejected to prevent SQL injection
// through the operator position (which cannot be parameterized).
var validOps = map[string]bool{
	"=":    true,
	"!=":   true,
	"<>":   true,
	"<":    true,
	">":    true,
	"<=":   true,
	">=":   true,
	"LIKE": true,
}

// SelectBuilder constructs a parameterized SELECT query using a fluent API.
// Values are never interpolated into the SQL string — always passed as args.
//
// Usage (Postgres):
//
//	sql, args, err := Select("users", DialectPostgres).
//	    Columns("id", "name", "email").
//	    Where("active", "=", true).
//	    OrderBy("created_at", Desc).
//	    Limit(20).
//	    Build()
type SelectBuilder struct {
	table   string
	dialect Dialect
	columns []string
	where   []whereClause
	orderBy []orderClause
	limit   *int
	offset  *int
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

type whereClause struct {
	column string
	op     string
	value  any
}

type orderClause struct {
	column string
	dir    SortDirection
}

// Select starts a new SelectBuilder for the given table and dialect.
func Select(table string, d Dialect) *SelectBuilder {
	return &SelectBuilder{table: table, dialect: d}
}

// Columns restricts the SELECT to the specified columns.
// If not called, SELECT * is used.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Where adds a WHERE condition. op must be one of the allowed comparison
// operators (=, !=, <, >, <=, >=, LIKE).
// Multiple calls are combined with AND.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.where = append(b.where, whereClause{column, op, value})
	return b
}

// OrderBy appends an ORDER BY clause for the given column and direction.
func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	b.orderBy = append(b.orderBy, orderClause{column, dir})
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Offset sets the number of rows to skip (for pagination).
func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = &n
	return b
}

// Build produces the final SQL string and argument slice.
// Returns an error if any WHERE operator is not in the allowlist.
func (b *SelectBuilder) Build() (string, []any, error) {
	// --- column list ---
	cols := "*"
	if len(b.columns) > 0 {
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = b.dialect.quote(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(b.dialect.quote(b.table))

	var args []any
	argIdx := 1

	// --- WHERE ---
	if len(b.where) > 0 {
		parts := make([]string, 0, len(b.where))
		for _, w := range b.where {
			op := strings.ToUpper(w.op)
			if !validOps[op] {
				return "", nil, errs.New(errs.ErrKindInvalidInput,
					fmt.Sprintf("unsupported WHERE operator: %q", w.op))
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", b.dialect.quote(w.column), op, b.dialect.placeholder(argIdx)))
			args = append(args, w.value)
			argIdx++
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	// --- ORDER BY ---
	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			dir := "ASC"
			if o.dir == Desc {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", b.dialect.quote(o.column), dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	// --- LIMIT ---
	if b.limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT %s", b.dialect.placeholder(argIdx)))
		args = append(args, *b.limit)
		argIdx++
	}

	// --- OFFSET ---
	if b.offset != nil {
		sb.WriteString(fmt.Sprintf(" OFFSET %s", b.dialect.placeholder(argIdx)))
		args = append(args, *b.offset)
	}

	return sb.String(), args, nil
}

// UpsertBuilder constructs an idempotent multi-row INSERT. Rows whose
// conflict key already exists are updated in place, so re-running the
// same batch converges instead of failing.
//
// Postgres:  INSERT … ON CONFLICT (key…) DO UPDATE SET col = EXCLUDED.col
// MySQL:     INSERT … ON DUPLICATE KEY UPDATE col = VALUES(col)
type UpsertBuilder struct {
	table    string
	dialect  Dialect
	columns  []string
	conflict []string
	rows     [][]any
}

// Upsert starts a new UpsertBuilder for the given table and dialect.
func Upsert(table string, d Dialect) *UpsertBuilder {
	return &UpsertBuilder{table: table, dialect: d}
}

// Columns sets the insert column list. Required.
func (b *UpsertBuilder) Columns(cols ...string) *UpsertBuilder {
	b.columns = cols
	return b
}

// ConflictKey sets the columns that identify a duplicate row — normally
// the primary key. Required for Postgres; MySQL resolves duplicates from
// the table's own keys but the builder still validates the key is known.
func (b *UpsertBuilder) ConflictKey(cols ...string) *UpsertBuilder {
	b.conflict = cols
	return b
}

// Values appends one row of values. Must be called at least once, with
// exactly one value per column.
func (b *UpsertBuilder) Values(row ...any) *UpsertBuilder {
	b.rows = append(b.rows, row)
	return b
}

// Build produces the final SQL string and flattened argument slice.
func (b *UpsertBuilder) Build() (string, []any, error) {
	if b.table == "" {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "upsert: table name is required")
	}
	if len(b.columns) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "upsert: column list is required")
	}
	if len(b.conflict) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "upsert: conflict key is required")
	}
	if len(b.rows) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "upsert: at least one row is required")
	}

	colSet := make(map[string]bool, len(b.columns))
	quoted := make([]string, len(b.columns))
	for i, c := range b.columns {
		colSet[c] = true
		quoted[i] = b.dialect.quote(c)
	}
	for _, k := range b.conflict {
		if !colSet[k] {
			return "", nil, errs.New(errs.ErrKindInvalidInput,
				fmt.Sprintf("upsert: conflict key column %q is not in the column list", k))
		}
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.dialect.quote(b.table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(b.rows)*len(b.columns))
	argIdx := 1
	for ri, row := range b.rows {
		if len(row) != len(b.columns) {
			return "", nil, errs.New(errs.ErrKindInvalidInput,
				fmt.Sprintf("upsert: row %d has %d values, want %d", ri, len(row), len(b.columns)))
		}
		if ri > 0 {
			sb.WriteString(", ")
		}
		placeholders := make([]string, len(row))
		for i, v := range row {
			placeholders[i] = b.dialect.placeholder(argIdx)
			args = append(args, v)
			argIdx++
		}
		sb.WriteString("(")
		sb.WriteString(strings.Join(placeholders, ", "))
		sb.WriteString(")")
	}

	// Non-key columns get updated on conflict; key-only tables degrade to
	// a no-op update so duplicates are silently kept.
	keySet := make(map[string]bool, len(b.conflict))
	for _, k := range b.conflict {
		keySet[k] = true
	}
	var updatable []string
	for _, c := range b.columns {
		if !keySet[c] {
			updatable = append(updatable, c)
		}
	}

	if b.dialect == DialectMySQL {
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
		if len(updatable) == 0 {
			k := b.dialect.quote(b.conflict[0])
			sb.WriteString(fmt.Sprintf("%s = %s", k, k))
		} else {
			parts := make([]string, len(updatable))
			for i, c := range updatable {
				q := b.dialect.quote(c)
				parts[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
			}
			sb.WriteString(strings.Join(parts, ", "))
		}
		return sb.String(), args, nil
	}

	keyCols := make([]string, len(b.conflict))
	for i, k := range b.conflict {
		keyCols[i] = b.dialect.quote(k)
	}
	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(strings.Join(keyCols, ", "))
	sb.WriteString(")")
	if len(updatable) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		parts := make([]string, len(updatable))
		for i, c := range updatable {
			q := b.dialect.quote(c)
			parts[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
		}
		sb.WriteString(" DO UPDATE SET ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	return sb.String(), args, nil
}
